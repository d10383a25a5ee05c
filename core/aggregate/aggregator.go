// Package aggregate - Duplicate line grouping
// Groups line results that share a resolved identity. Aggregation is a view:
// members are retained unchanged and totals are always re-derivable from them.
package aggregate

import (
	"github.com/shopspring/decimal"

	"medbill-verify/core/determinism"
	"medbill-verify/core/types"
	"medbill-verify/core/verdict"
	"medbill-verify/internal/errors"
)

// Key is the identity shared by the members of an aggregate
type Key struct {
	NormalizedName string `json:"normalized_name"`
	MatchedRef     string `json:"matched_ref,omitempty"`
	FinalCategory  string `json:"final_category"`
}

// Item is a group of line results with one resolved status
type Item struct {
	Key

	DisplayName string       `json:"display_name"`
	Status      types.Status `json:"status"`

	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalBill     decimal.Decimal `json:"total_bill"`
	TotalAllowed  decimal.Decimal `json:"total_allowed"`
	TotalExtra    decimal.Decimal `json:"total_extra"`

	// MemberIDs lists the member item ids in bill order
	MemberIDs []string `json:"member_ids"`

	// Members are the contributing results. They are never modified here.
	Members []*types.ItemVerificationResult `json:"-"`
}

// Count returns the number of members
func (a *Item) Count() int {
	return len(a.Members)
}

// KeyOf returns the aggregation key of a result
func KeyOf(r *types.ItemVerificationResult) Key {
	return Key{
		NormalizedName: r.NormalizedName,
		MatchedRef:     r.MatchedRef(),
		FinalCategory:  r.FinalCategory,
	}
}

// ResolveStatus returns the status of a group: the member status with the
// lowest rank wins, so a single RED member makes the whole group RED
func ResolveStatus(statuses []types.Status) types.Status {
	if len(statuses) == 0 {
		return types.StatusMismatch
	}
	best := statuses[0]
	for _, s := range statuses[1:] {
		if s.Rank() < best.Rank() {
			best = s
		}
	}
	return best
}

// Group builds aggregates in order of first appearance
func Group(results []*types.ItemVerificationResult) []*Item {
	index := make(map[Key]*Item)
	var out []*Item
	for _, r := range results {
		if r == nil {
			continue
		}
		k := KeyOf(r)
		agg, ok := index[k]
		if !ok {
			agg = &Item{
				Key:           k,
				DisplayName:   verdict.DisplayName(r),
				TotalQuantity: decimal.Zero,
				TotalBill:     decimal.Zero,
				TotalAllowed:  decimal.Zero,
				TotalExtra:    decimal.Zero,
			}
			index[k] = agg
			out = append(out, agg)
		}
		agg.Members = append(agg.Members, r)
		agg.MemberIDs = append(agg.MemberIDs, r.ItemID)
	}
	for _, agg := range out {
		agg.summarize()
	}
	return out
}

func (a *Item) summarize() {
	statuses := make([]types.Status, 0, len(a.Members))
	for _, m := range a.Members {
		statuses = append(statuses, m.Status)
		a.TotalQuantity = a.TotalQuantity.Add(m.Quantity)
		a.TotalBill = a.TotalBill.Add(m.Billed)
		a.TotalAllowed = a.TotalAllowed.Add(m.Allowed)
		a.TotalExtra = a.TotalExtra.Add(m.Extra)
	}
	a.TotalBill = determinism.Round2(a.TotalBill)
	a.TotalAllowed = determinism.Round2(a.TotalAllowed)
	a.TotalExtra = determinism.Round2(a.TotalExtra)
	a.Status = ResolveStatus(statuses)
}

// CheckLossless verifies that every result belongs to exactly one aggregate
// and that billed amounts survive grouping
func CheckLossless(results []*types.ItemVerificationResult, aggs []*Item) error {
	lines := decimal.Zero
	count := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		count++
		lines = lines.Add(r.Billed)
	}

	grouped := decimal.Zero
	members := 0
	seen := make(map[*types.ItemVerificationResult]bool, count)
	for _, a := range aggs {
		sum := decimal.Zero
		for _, m := range a.Members {
			if seen[m] {
				return errors.Newf(errors.TypeInternal, "item %s belongs to more than one aggregate", m.ItemID)
			}
			seen[m] = true
			sum = sum.Add(m.Billed)
		}
		if !determinism.Round2(sum).Equal(a.TotalBill) {
			return errors.Newf(errors.TypeInternal, "aggregate %q total_bill %s differs from its members %s",
				a.DisplayName, a.TotalBill, sum)
		}
		members += len(a.Members)
		grouped = grouped.Add(a.TotalBill)
	}

	if members != count {
		return errors.Newf(errors.TypeInternal, "aggregates hold %d items, expected %d", members, count)
	}
	if !determinism.Round2(lines).Equal(determinism.Round2(grouped)) {
		return errors.Newf(errors.TypeInternal, "aggregated billed %s differs from line billed %s", grouped, lines)
	}
	return nil
}
