// Package tender normalizes and bounds-checks tender submissions against
// the auction configuration.
//
// Normalization is order-sensitive so that results are deterministic:
//  1. drop entries with a non-positive quantity or a price outside the band
//  2. clamp quantity to SharesPerParticipant and round it to a whole share
//  3. round price to cents
//  4. reject the whole submission if the quantities sum past the holding
//
// Partial acceptance never happens: a submission is either stored in full
// (possibly empty) or rejected.
package tender

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/buyback-auction/internal/model"
)

var (
	// ErrOverAllocated is returned when the normalized quantities of a
	// submission add up to more shares than a participant holds.
	ErrOverAllocated = errors.New("tender: total quantity exceeds shares held")

	// ErrInvalidConfig is returned when a configuration is not usable for
	// validating or clearing tenders.
	ErrInvalidConfig = errors.New("tender: invalid configuration")

	// PriceScale is the number of decimal places tender prices keep.
	PriceScale int32 = 2

	// MaxNameLen bounds the display name stored with a submission.
	MaxNameLen = 40

	// DefaultName is used when a participant submits without a name.
	DefaultName = "Anonymous"
)

// Validator checks submissions against a fixed configuration snapshot.
type Validator struct {
	cfg model.Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg model.Config) (*Validator, error) {
	if err := CheckConfig(cfg); err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg}, nil
}

// Normalize filters, clamps and rounds the raw tenders. The returned slice
// may be empty; that is a valid submission.
func (v *Validator) Normalize(raw []model.RawTender) ([]model.Tender, error) {
	maxQty := decimal.NewFromInt(v.cfg.SharesPerParticipant)

	tenders := make([]model.Tender, 0, len(raw))
	var total int64
	for _, r := range raw {
		// 1. Drop out-of-band entries.
		if r.Qty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		if r.Price.LessThan(v.cfg.PriceMin) || r.Price.GreaterThan(v.cfg.PriceMax) {
			continue
		}

		// 2. Clamp, then round to whole shares.
		qty := r.Qty
		if qty.GreaterThan(maxQty) {
			qty = maxQty
		}
		qty = qty.Round(0)
		if !qty.IsPositive() {
			continue // e.g. 0.3 rounds to nothing
		}

		// 3. Round price to cents. Re-check the band: a band with finer
		// precision than cents could otherwise be escaped by rounding.
		price := r.Price.Round(PriceScale)
		if price.LessThan(v.cfg.PriceMin) || price.GreaterThan(v.cfg.PriceMax) {
			continue
		}

		tenders = append(tenders, model.Tender{Qty: qty.IntPart(), Price: price})
		total += qty.IntPart()
	}

	// 4. All-or-nothing holding check on normalized values.
	if total > v.cfg.SharesPerParticipant {
		return nil, fmt.Errorf("%w: tendered %d, holding is %d",
			ErrOverAllocated, total, v.cfg.SharesPerParticipant)
	}

	return tenders, nil
}

// Record builds the participant record that replaces any earlier one.
func (v *Validator) Record(id, name string, raw []model.RawTender) (*model.ParticipantRecord, error) {
	tenders, err := v.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return &model.ParticipantRecord{
		ID:      id,
		Name:    CleanName(name),
		Tenders: tenders,
	}, nil
}

// CleanName trims and bounds a display name.
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	if r := []rune(name); len(r) > MaxNameLen {
		name = string(r[:MaxNameLen])
	}
	return name
}

// CheckConfig validates a full configuration: every amount positive and a
// non-empty price band.
func CheckConfig(cfg model.Config) error {
	switch {
	case cfg.SharesPerParticipant <= 0:
		return fmt.Errorf("%w: sharesPerParticipant must be positive", ErrInvalidConfig)
	case !cfg.PreAuctionPrice.IsPositive():
		return fmt.Errorf("%w: preAuctionPrice must be positive", ErrInvalidConfig)
	case cfg.BuybackPool <= 0:
		return fmt.Errorf("%w: buybackPool must be positive", ErrInvalidConfig)
	case !cfg.PriceMin.IsPositive():
		return fmt.Errorf("%w: priceMin must be positive", ErrInvalidConfig)
	case !cfg.PriceMin.LessThan(cfg.PriceMax):
		return fmt.Errorf("%w: priceMin %s must be below priceMax %s",
			ErrInvalidConfig, cfg.PriceMin, cfg.PriceMax)
	}
	return nil
}
