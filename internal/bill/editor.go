package bill

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/medbill-tracker/internal/locale"
	"github.com/zombor/medbill-tracker/internal/scanning"
)

// Translator looks up user-facing messages
type Translator interface {
	T(messageID string) string
}

// Draft is an uncommitted bill as the user edits it. Amount is kept as the
// text the user typed; it is only parsed when the draft is finalized.
type Draft struct {
	DoctorName      string `json:"doctorName"`
	BillingProvider string `json:"billingProvider"`
	BillNumber      string `json:"billNumber"`
	Date            string `json:"date"`
	DueDate         string `json:"dueDate"`
	Amount          string `json:"amount"`
	ForwardedToDkv  bool   `json:"forwardedToDkv"`
	ForwardedDate   string `json:"forwardedDate"`
	ImageFile       string `json:"imageFile,omitempty"`
}

// SetForwarded toggles the forwarded checkbox. The date is stamped when the
// box is ticked, not when the draft is committed.
func (d *Draft) SetForwarded(on bool, today string) {
	d.ForwardedToDkv = on
	if on {
		d.ForwardedDate = today
	} else {
		d.ForwardedDate = ""
	}
}

// Editor turns drafts into bills ready for the Store
type Editor struct {
	timeSource TimeSource
	messages   Translator
}

// NewEditor creates an Editor using the system clock
func NewEditor(messages Translator) *Editor {
	return NewEditorWithDeps(&defaultTimeSource{}, messages)
}

// NewEditorWithDeps creates an Editor with a custom clock for testing
func NewEditorWithDeps(timeSrc TimeSource, messages Translator) *Editor {
	return &Editor{timeSource: timeSrc, messages: messages}
}

// NewDraft seeds a draft from an extraction result. A nil result gives an
// empty draft dated today.
func (e *Editor) NewDraft(data *scanning.BillData) Draft {
	d := Draft{Date: today(e.timeSource)}
	if data == nil {
		return d
	}
	d.DoctorName = data.DoctorName
	d.BillingProvider = data.BillingProvider
	d.BillNumber = data.BillNumber
	if data.Date != "" {
		d.Date = data.Date
	}
	d.DueDate = data.DueDate
	d.Amount = data.Amount
	return d
}

// Finalize validates a draft and normalizes it into a Bill without an id.
// Non-numeric amounts become zero; a missing or unreadable date becomes today.
func (e *Editor) Finalize(d Draft) (Bill, error) {
	if strings.TrimSpace(d.DoctorName) == "" {
		return Bill{}, &ValidationError{Field: "doctorName", Message: e.messages.T(locale.MsgDoctorNameRequired)}
	}

	amount, err := decimal.NewFromString(scanning.NormalizeAmount(d.Amount))
	if err != nil {
		if strings.TrimSpace(d.Amount) != "" {
			slog.Debug("Amount is not a number, using zero", "amount", d.Amount)
		}
		amount = decimal.Zero
	}
	if amount.IsNegative() {
		return Bill{}, &ValidationError{Field: "amount", Message: e.messages.T(locale.MsgAmountNegative)}
	}

	now := today(e.timeSource)

	date, ok := scanning.NormalizeDate(d.Date)
	if !ok {
		if d.Date != "" {
			slog.Warn("Unreadable bill date, using today", "date", d.Date)
		}
		date = now
	}

	dueDate, _ := scanning.NormalizeDate(d.DueDate)

	forwardedDate := ""
	if d.ForwardedToDkv {
		if forwardedDate, ok = scanning.NormalizeDate(d.ForwardedDate); !ok {
			forwardedDate = now
		}
	}

	return Bill{
		DoctorName:      d.DoctorName,
		BillingProvider: d.BillingProvider,
		BillNumber:      d.BillNumber,
		Date:            date,
		DueDate:         dueDate,
		Amount:          amount,
		ForwardedToDkv:  d.ForwardedToDkv,
		ForwardedDate:   forwardedDate,
		ImageFile:       d.ImageFile,
	}, nil
}
