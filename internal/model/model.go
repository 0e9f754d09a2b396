// Package model defines the core domain types shared across the buyback
// auction service. All prices and cash values use shopspring/decimal;
// share quantities are whole numbers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the lifecycle stage of the live auction round.
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseOpen    Phase = "open"
	PhaseClosed  Phase = "closed"
	PhaseResults Phase = "results"
)

// Config holds the parameters of the buyback. It can be changed by the
// admin at any time; tenders already accepted are not re-validated.
type Config struct {
	SharesPerParticipant int64           `json:"sharesPerParticipant"`
	PreAuctionPrice      decimal.Decimal `json:"preAuctionPrice"` // value of each unsold share
	BuybackPool          int64           `json:"buybackPool"`     // total shares repurchased
	PriceMin             decimal.Decimal `json:"priceMin"`
	PriceMax             decimal.Decimal `json:"priceMax"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		SharesPerParticipant: 100,
		PreAuctionPrice:      decimal.NewFromInt(52),
		BuybackPool:          1000,
		PriceMin:             decimal.NewFromInt(50),
		PriceMax:             decimal.NewFromInt(58),
	}
}

// ConfigPatch is a partial configuration update. Nil fields are left as-is.
type ConfigPatch struct {
	SharesPerParticipant *int64           `json:"sharesPerParticipant,omitempty"`
	PreAuctionPrice      *decimal.Decimal `json:"preAuctionPrice,omitempty"`
	BuybackPool          *int64           `json:"buybackPool,omitempty"`
	PriceMin             *decimal.Decimal `json:"priceMin,omitempty"`
	PriceMax             *decimal.Decimal `json:"priceMax,omitempty"`
}

// Apply returns a copy of c with every non-nil field of p merged in.
func (p ConfigPatch) Apply(c Config) Config {
	if p.SharesPerParticipant != nil {
		c.SharesPerParticipant = *p.SharesPerParticipant
	}
	if p.PreAuctionPrice != nil {
		c.PreAuctionPrice = *p.PreAuctionPrice
	}
	if p.BuybackPool != nil {
		c.BuybackPool = *p.BuybackPool
	}
	if p.PriceMin != nil {
		c.PriceMin = *p.PriceMin
	}
	if p.PriceMax != nil {
		c.PriceMax = *p.PriceMax
	}
	return c
}

// Tender is an offer to sell Qty shares at Price. Immutable once accepted.
type Tender struct {
	Qty   int64           `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

// RawTender is a tender as submitted by a client, before normalization.
type RawTender struct {
	Qty   decimal.Decimal `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

// ParticipantRecord is one participant's submission for the current round.
// A later submission replaces the earlier one entirely.
type ParticipantRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Tenders     []Tender  `json:"tenders"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// TotalQty is the sum of all tender quantities in the record.
func (r ParticipantRecord) TotalQty() int64 {
	var total int64
	for _, t := range r.Tenders {
		total += t.Qty
	}
	return total
}

// Outcome is the clearing result for a single participant.
type Outcome struct {
	Name            string          `json:"name"`
	SharesTendered  int64           `json:"sharesTendered"`
	SharesAccepted  int64           `json:"sharesAccepted"`  // priced at or below strike
	SharesAllocated int64           `json:"sharesAllocated"` // actually repurchased, after pro-rata
	SharesRejected  int64           `json:"sharesRejected"`  // priced above strike
	SharesRemaining int64           `json:"sharesRemaining"`
	CashReceived    decimal.Decimal `json:"cashReceived"`
	RemainingValue  decimal.Decimal `json:"remainingValue"`
	PortfolioValue  decimal.Decimal `json:"portfolioValue"`
	PnL             decimal.Decimal `json:"pnl"` // PortfolioValue minus the pre-auction holding value
}

// ClearingResult is the full, deterministic output of a clearing run.
type ClearingResult struct {
	Policy         string             `json:"policy"`
	StrikePrice    decimal.Decimal    `json:"strikePrice"`
	TotalTendered  int64              `json:"totalTendered"`
	TotalAccepted  int64              `json:"totalAccepted"`
	TotalAllocated int64              `json:"totalAllocated"`
	BuybackPool    int64              `json:"buybackPool"`
	ProRataFactor  decimal.Decimal    `json:"proRataFactor"`
	Oversubscribed bool               `json:"oversubscribed"`
	Outcomes       map[string]Outcome `json:"outcomes"` // participant ID → outcome
}

// ParticipantSummary is the admin view of a participant: totals only,
// no individual tender detail.
type ParticipantSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TenderCount int       `json:"tenderCount"`
	TotalQty    int64     `json:"totalQty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ArchivedRound is an immutable record of a cleared round. Once written
// it is never modified.
type ArchivedRound struct {
	ID               string          `json:"id"`
	Config           Config          `json:"config"`
	ParticipantCount int             `json:"participantCount"`
	Result           ClearingResult  `json:"result"`
	StrikePrice      decimal.Decimal `json:"strikePrice"`
	ClearedAt        time.Time       `json:"clearedAt"`
}
