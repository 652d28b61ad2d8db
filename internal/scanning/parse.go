package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for every date field
const DateLayout = "2006-01-02"

// dateLayouts are tried in order when a model returns a date in another format
var dateLayouts = []string{
	DateLayout,
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
}

// NormalizeDate converts a date in one of the known layouts to YYYY-MM-DD.
// It returns false when the value cannot be read as a date.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	// Models sometimes answer with a full timestamp
	if len(value) > len(DateLayout) && value[4] == '-' && (value[10] == 'T' || value[10] == ' ') {
		value = value[:len(DateLayout)]
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, value); err == nil {
			return d.Format(DateLayout), true
		}
	}
	return "", false
}

// NormalizeAmount strips currency decorations from a textual amount and
// converts a German decimal comma to a dot. The last separator in the value
// is the decimal one: "1.234,56 €" and "1,234.56" both become "1234.56".
func NormalizeAmount(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimSuffix(value, "€")
	value = strings.TrimSuffix(value, "EUR")
	value = strings.TrimPrefix(value, "€")
	value = strings.TrimPrefix(value, "EUR")
	value = strings.ReplaceAll(value, " ", "")
	value = strings.ReplaceAll(value, "\u00a0", "")

	comma, dot := strings.LastIndex(value, ","), strings.LastIndex(value, ".")
	switch {
	case comma > dot:
		value = strings.ReplaceAll(value, ".", "")
		value = strings.ReplaceAll(value, ",", ".")
	case comma != -1:
		value = strings.ReplaceAll(value, ",", "")
	}
	return value
}

// extractJSONObject trims markdown fences and surrounding prose from a model response
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parseBillJSON reads the untrusted model answer. Fields with an unexpected
// type are dropped rather than failing the whole extraction.
func parseBillJSON(text string) (*BillData, error) {
	object, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(object)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data := &BillData{
		DoctorName:      stringField(raw, "doctorName"),
		BillingProvider: stringField(raw, "billingProvider"),
		BillNumber:      stringField(raw, "billNumber"),
	}

	if d, ok := NormalizeDate(stringField(raw, "date")); ok {
		data.Date = d
	}
	if d, ok := NormalizeDate(stringField(raw, "dueDate")); ok {
		data.DueDate = d
	}

	switch v := raw["amount"].(type) {
	case json.Number:
		data.Amount = v.String()
	case string:
		data.Amount = NormalizeAmount(v)
	}

	return data, nil
}

func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		// Bill numbers are often returned as bare numbers
		return v.String()
	}
	return ""
}
