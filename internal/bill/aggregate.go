package bill

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Aggregator derives the per-doctor summary from a bill list. It holds no
// state between calls; every call recomputes from scratch.
type Aggregator struct {
	tag             language.Tag
	unknownProvider string
}

// NewAggregator creates an Aggregator that orders doctor names by the
// collation rules of tag and files nameless bills under unknownProvider.
func NewAggregator(tag language.Tag, unknownProvider string) *Aggregator {
	return &Aggregator{tag: tag, unknownProvider: unknownProvider}
}

// Aggregate groups bills by their literal doctor name. Bills inside a group
// are ordered by date, newest first, keeping input order for equal dates.
func (a *Aggregator) Aggregate(bills []Bill) Summary {
	var order []string
	members := make(map[string][]Bill)
	grandTotal := decimal.Zero
	openAmount := decimal.Zero

	for _, b := range bills {
		name := b.DoctorName
		if name == "" {
			name = a.unknownProvider
		}
		if _, ok := members[name]; !ok {
			order = append(order, name)
		}
		members[name] = append(members[name], b)

		grandTotal = grandTotal.Add(b.Amount)
		if !b.ForwardedToDkv {
			openAmount = openAmount.Add(b.Amount)
		}
	}

	groups := make([]Group, 0, len(order))
	for _, name := range order {
		groupBills := members[name]
		slices.SortStableFunc(groupBills, func(x, y Bill) int {
			// ISO dates order lexically
			return cmp.Compare(y.Date, x.Date)
		})

		total := decimal.Zero
		for _, b := range groupBills {
			total = total.Add(b.Amount)
		}
		groups = append(groups, Group{DoctorName: name, Bills: groupBills, TotalAmount: total})
	}

	// collate.Collator is not safe for concurrent use
	col := collate.New(a.tag)
	slices.SortStableFunc(groups, func(x, y Group) int {
		if c := col.CompareString(x.DoctorName, y.DoctorName); c != 0 {
			return c
		}
		return strings.Compare(x.DoctorName, y.DoctorName)
	})

	return Summary{
		Groups:     groups,
		GrandTotal: grandTotal,
		OpenAmount: openAmount,
		Count:      len(bills),
	}
}
