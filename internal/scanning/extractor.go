package scanning

import "context"

// BillData is the best-effort result of reading an invoice image.
// Any field may be empty when the model could not find it.
type BillData struct {
	DoctorName      string `json:"doctorName"`
	BillingProvider string `json:"billingProvider"`
	BillNumber      string `json:"billNumber"`
	Date            string `json:"date"`    // YYYY-MM-DD
	DueDate         string `json:"dueDate"` // YYYY-MM-DD
	Amount          string `json:"amount"`  // decimal text, e.g. "45.50"
}

// Extractor turns an invoice image into structured bill data
type Extractor interface {
	// ExtractBill analyzes an invoice image/PDF and returns whatever fields it could read
	ExtractBill(ctx context.Context, imageData []byte, contentType string) (*BillData, error)
	// Close releases the underlying client
	Close() error
}

// billExtractionPrompt is shared by every model backend
const billExtractionPrompt = `You are reading a medical invoice (Arztrechnung) from a doctor, practice or clinic. Read all text in the image and extract:

1. **doctorName**: the doctor or practice that provided the treatment, usually in the letterhead.
2. **billingProvider**: the company that issued the bill on the doctor's behalf, if any (for example a private billing office such as "PVS" or "medas"). Leave it empty when the doctor bills directly.
3. **billNumber**: the invoice number (Rechnungsnummer).
4. **date**: the invoice date (Rechnungsdatum) in YYYY-MM-DD format.
5. **dueDate**: the payment due date (Zahlbar bis / Fälligkeitsdatum) in YYYY-MM-DD format.
6. **amount**: the total amount due (Gesamtbetrag / Rechnungsbetrag) in euros as a number, e.g. 45.50.

Return ONLY valid JSON in this exact format:
{
  "doctorName": "",
  "billingProvider": "",
  "billNumber": "",
  "date": "YYYY-MM-DD",
  "dueDate": "YYYY-MM-DD",
  "amount": 0.00
}

Important:
- If you cannot find a field, use null for that field
- The amount must be a number, not a string
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
