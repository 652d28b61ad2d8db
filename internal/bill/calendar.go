package bill

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
)

const (
	calendarProdID = "-//MedBill Tracker//Due Dates//EN"
	calendarDomain = "medbill-tracker"
)

// DueCalendar renders every bill that has a due date as an all-day event
func DueCalendar(bills []Bill, name string, now time.Time) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, calendarProdID)
	cal.Props.SetText("X-WR-CALNAME", name)

	stamp := ical.NewProp(ical.PropDateTimeStamp)
	stamp.SetDateTime(now.UTC())

	for _, b := range bills {
		if b.DueDate == "" {
			continue
		}
		due, err := time.Parse(DateLayout, b.DueDate)
		if err != nil {
			continue
		}

		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, fmt.Sprintf("%s@%s", b.ID, calendarDomain))
		event.Props.Set(stamp)
		event.Props.SetText(ical.PropSummary, fmt.Sprintf("%s: %s EUR", displayName(b), b.Amount.StringFixed(2)))
		if b.BillNumber != "" {
			event.Props.SetText(ical.PropDescription, "Nr. "+b.BillNumber)
		}

		start := ical.NewProp(ical.PropDateTimeStart)
		start.SetDate(due)
		event.Props.Set(start)

		cal.Children = append(cal.Children, event.Component)
	}

	var buf bytes.Buffer
	if len(cal.Children) == 0 {
		// The encoder rejects calendars without components
		fmt.Fprintf(&buf, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:%s\r\nEND:VCALENDAR\r\n", calendarProdID)
		return buf.Bytes(), nil
	}
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encoding calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func displayName(b Bill) string {
	if b.DoctorName == "" {
		return b.BillingProvider
	}
	return b.DoctorName
}
