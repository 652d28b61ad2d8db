// Package bill tracks medical invoices: the persisted record list, the
// per-doctor summaries derived from it and the capture workflow that feeds it.
package bill

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/medbill-tracker/internal/scanning"
)

func init() {
	// Snapshots and API responses carry amounts as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// DateLayout is the format of every calendar date stored on a bill
const DateLayout = scanning.DateLayout

// Bill is one invoice from a healthcare provider. The JSON layout is the
// persisted snapshot format.
type Bill struct {
	ID              string          `json:"id"`
	DoctorName      string          `json:"doctorName"`
	BillingProvider string          `json:"billingProvider"`
	BillNumber      string          `json:"billNumber"`
	Date            string          `json:"date"`
	DueDate         string          `json:"dueDate"`
	Amount          decimal.Decimal `json:"amount"` // EUR
	ForwardedToDkv  bool            `json:"forwardedToDkv"`
	ForwardedDate   string          `json:"forwardedDate"`
	ImageFile       string          `json:"imageFile,omitempty"` // scan stored in image storage
}

// Group is the derived per-doctor view of the bill list
type Group struct {
	DoctorName  string          `json:"doctorName"`
	Bills       []Bill          `json:"bills"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// Summary is everything a client needs to render the overview
type Summary struct {
	Groups     []Group         `json:"groups"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	OpenAmount decimal.Decimal `json:"openAmount"` // not yet forwarded
	Count      int             `json:"count"`
}

// IDGenerator generates unique IDs for bills and captures
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// today returns the local calendar date as YYYY-MM-DD
func today(ts TimeSource) string {
	return ts.Now().Format(DateLayout)
}
