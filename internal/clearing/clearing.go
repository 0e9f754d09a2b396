// Package clearing computes the strike price and per-participant allocation
// of a Dutch-auction share buyback.
//
// Two policies are supported. They allocate differently:
//
//   - Discovered: the strike price is the lowest price at which the
//     cumulative tendered quantity covers the pool. Tenders below the strike
//     are filled in full; only tenders exactly at the strike are pro-rated
//     against what is left of the pool.
//   - FixedStrike: the admin names the strike price. Every tender at or
//     below it is accepted, and one global pro-rata factor scales all
//     accepted quantity.
//
// Clearing is pure: identical inputs always produce an identical result.
// Share allocation always rounds down; cash values round half-up to cents.
package clearing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/buyback-auction/internal/model"
)

var (
	// ErrNoTenders is returned when there is nothing to clear.
	ErrNoTenders = errors.New("clearing: no tenders submitted")

	// ErrInvalidStrike is returned when a fixed strike price is not positive.
	ErrInvalidStrike = errors.New("clearing: strike price must be positive")

	// CashScale is the number of decimal places for cash rounding.
	CashScale int32 = 2
)

// Policy names, as reported in ClearingResult.Policy.
const (
	PolicyDiscovered  = "discovered"
	PolicyFixedStrike = "fixed-strike"
)

// Policy turns a round's submissions into a clearing result.
type Policy interface {
	Name() string
	Clear(cfg model.Config, records []model.ParticipantRecord) (*model.ClearingResult, error)
}

// Select returns FixedStrike when a strike price is supplied and
// Discovered otherwise.
func Select(strike *decimal.Decimal) Policy {
	if strike != nil {
		return FixedStrike{Strike: *strike}
	}
	return Discovered{}
}

// entry is one tender flattened out of its participant record.
type entry struct {
	participantID string
	qty           int64
	price         decimal.Decimal
}

func flatten(records []model.ParticipantRecord) []entry {
	var entries []entry
	for _, r := range records {
		for _, t := range r.Tenders {
			entries = append(entries, entry{participantID: r.ID, qty: t.Qty, price: t.Price})
		}
	}
	return entries
}

// DiscoverStrike walks tenders in ascending price order and returns the
// price at which the cumulative quantity first reaches the pool. When the
// pool is never reached, the highest tendered price is returned.
func DiscoverStrike(records []model.ParticipantRecord, pool int64) (decimal.Decimal, error) {
	entries := flatten(records)
	if len(entries) == 0 {
		return decimal.Zero, ErrNoTenders
	}

	// Ties need no ordering: all tied entries share the same price level.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].price.LessThan(entries[j].price)
	})

	var cumulative int64
	for _, e := range entries {
		cumulative += e.qty
		if cumulative >= pool {
			return e.price, nil
		}
	}
	return entries[len(entries)-1].price, nil
}

// proRata returns min(1, available/bucket). A zero bucket gives 1.
//
// The quotient is taken at decimal.DivisionPrecision before it is applied,
// so 1000/1200 of 600 shares floors to 499, not 500.
func proRata(available, bucket int64) decimal.Decimal {
	if bucket <= 0 {
		return decimal.NewFromInt(1)
	}
	if available <= 0 {
		return decimal.Zero
	}
	f := decimal.NewFromInt(available).Div(decimal.NewFromInt(bucket))
	if f.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return f
}

// scaleDown returns floor(qty * factor).
func scaleDown(qty int64, factor decimal.Decimal) int64 {
	return decimal.NewFromInt(qty).Mul(factor).Floor().IntPart()
}

// sortedRecords orders records by participant ID.
func sortedRecords(records []model.ParticipantRecord) []model.ParticipantRecord {
	out := make([]model.ParticipantRecord, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// valuation fills in the holding and cash fields of an outcome once
// SharesAllocated is known.
func valuation(o *model.Outcome, cfg model.Config, strike decimal.Decimal) {
	o.SharesRemaining = cfg.SharesPerParticipant - o.SharesAllocated
	o.CashReceived = decimal.NewFromInt(o.SharesAllocated).Mul(strike).Round(CashScale)
	o.RemainingValue = decimal.NewFromInt(o.SharesRemaining).Mul(cfg.PreAuctionPrice).Round(CashScale)
	o.PortfolioValue = o.CashReceived.Add(o.RemainingValue)
	baseline := decimal.NewFromInt(cfg.SharesPerParticipant).Mul(cfg.PreAuctionPrice).Round(CashScale)
	o.PnL = o.PortfolioValue.Sub(baseline)
}

// Discovered finds the strike price from the tenders and pro-rates only the
// tenders priced exactly at it.
type Discovered struct{}

func (Discovered) Name() string { return PolicyDiscovered }

func (p Discovered) Clear(cfg model.Config, records []model.ParticipantRecord) (*model.ClearingResult, error) {
	strike, err := DiscoverStrike(records, cfg.BuybackPool)
	if err != nil {
		return nil, err
	}
	return p.ClearAt(cfg, records, strike)
}

// ClearAt allocates at a known strike using the marginal pro-rata rule.
func (Discovered) ClearAt(cfg model.Config, records []model.ParticipantRecord, strike decimal.Decimal) (*model.ClearingResult, error) {
	records = sortedRecords(records)

	type buckets struct{ below, at, above int64 }
	split := make([]buckets, len(records))

	var totalTendered, totalBelow, totalAt int64
	for i, r := range records {
		for _, t := range r.Tenders {
			switch t.Price.Cmp(strike) {
			case -1:
				split[i].below += t.Qty
			case 0:
				split[i].at += t.Qty
			default:
				split[i].above += t.Qty
			}
			totalTendered += t.Qty
		}
		totalBelow += split[i].below
		totalAt += split[i].at
	}

	remaining := cfg.BuybackPool - totalBelow
	if remaining < 0 {
		remaining = 0
	}
	factor := proRata(remaining, totalAt)

	result := &model.ClearingResult{
		Policy:        PolicyDiscovered,
		StrikePrice:   strike,
		TotalTendered: totalTendered,
		TotalAccepted: totalBelow + totalAt,
		BuybackPool:   cfg.BuybackPool,
		ProRataFactor: factor,
		Outcomes:      make(map[string]model.Outcome, len(records)),
	}
	result.Oversubscribed = result.TotalAccepted > cfg.BuybackPool

	for i, r := range records {
		b := split[i]
		o := model.Outcome{
			Name:            r.Name,
			SharesTendered:  b.below + b.at + b.above,
			SharesAccepted:  b.below + b.at,
			SharesAllocated: b.below + scaleDown(b.at, factor),
			SharesRejected:  b.above,
		}
		valuation(&o, cfg, strike)
		result.TotalAllocated += o.SharesAllocated
		result.Outcomes[r.ID] = o
	}
	return result, nil
}

// FixedStrike clears at an admin-chosen strike price and applies one
// global pro-rata factor to all accepted quantity.
type FixedStrike struct {
	Strike decimal.Decimal
}

func (FixedStrike) Name() string { return PolicyFixedStrike }

func (p FixedStrike) Clear(cfg model.Config, records []model.ParticipantRecord) (*model.ClearingResult, error) {
	if !p.Strike.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidStrike, p.Strike)
	}
	if len(flatten(records)) == 0 {
		return nil, ErrNoTenders
	}

	records = sortedRecords(records)
	accepted := make([]int64, len(records))
	rejected := make([]int64, len(records))

	var totalTendered, totalAccepted int64
	for i, r := range records {
		for _, t := range r.Tenders {
			if t.Price.LessThanOrEqual(p.Strike) {
				accepted[i] += t.Qty
			} else {
				rejected[i] += t.Qty
			}
			totalTendered += t.Qty
		}
		totalAccepted += accepted[i]
	}

	factor := proRata(cfg.BuybackPool, totalAccepted)

	result := &model.ClearingResult{
		Policy:         PolicyFixedStrike,
		StrikePrice:    p.Strike,
		TotalTendered:  totalTendered,
		TotalAccepted:  totalAccepted,
		BuybackPool:    cfg.BuybackPool,
		ProRataFactor:  factor,
		Oversubscribed: totalAccepted > cfg.BuybackPool,
		Outcomes:       make(map[string]model.Outcome, len(records)),
	}

	for i, r := range records {
		o := model.Outcome{
			Name:            r.Name,
			SharesTendered:  accepted[i] + rejected[i],
			SharesAccepted:  accepted[i],
			SharesAllocated: scaleDown(accepted[i], factor),
			SharesRejected:  rejected[i],
		}
		valuation(&o, cfg, p.Strike)
		result.TotalAllocated += o.SharesAllocated
		result.Outcomes[r.ID] = o
	}
	return result, nil
}
