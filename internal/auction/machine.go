// Package auction owns the live auction round: its configuration, phase
// and participant submissions. Every mutation goes through Machine, which
// returns the events that should be delivered as a result.
//
// Role checks are not done here; callers gate commands before invoking
// the machine.
package auction

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/buyback-auction/internal/clearing"
	"github.com/atmx/buyback-auction/internal/model"
	"github.com/atmx/buyback-auction/internal/protocol"
	"github.com/atmx/buyback-auction/internal/tender"
)

// ErrWrongPhase is returned when a command is not legal in the current phase.
var ErrWrongPhase = errors.New("auction: command not allowed in current phase")

// Audience selects which sessions receive an event.
type Audience int

const (
	Everyone Audience = iota
	Admins
	Sender
)

// Outbound is an event addressed to an audience.
type Outbound struct {
	To    Audience
	Event protocol.Event
}

// Machine is the single owner of the round state. A mutex serializes
// commands against each other and against snapshot reads from HTTP
// handlers, so each command is applied atomically.
type Machine struct {
	mu           sync.Mutex
	cfg          model.Config
	phase        model.Phase
	participants map[string]model.ParticipantRecord
	strike       *decimal.Decimal
	results      *model.ClearingResult

	now func() time.Time
}

// New creates a machine in the waiting phase.
func New(cfg model.Config) (*Machine, error) {
	if err := tender.CheckConfig(cfg); err != nil {
		return nil, err
	}
	return &Machine{
		cfg:          cfg,
		phase:        model.PhaseWaiting,
		participants: make(map[string]model.ParticipantRecord),
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Configure merges a partial config. The merged config must be valid;
// otherwise nothing changes. Allowed in any phase.
func (m *Machine) Configure(p model.ConfigPatch) ([]Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := p.Apply(m.cfg)
	if err := tender.CheckConfig(merged); err != nil {
		return nil, err
	}
	m.cfg = merged

	slog.Info("config updated",
		"shares_per_participant", merged.SharesPerParticipant,
		"pre_auction_price", merged.PreAuctionPrice.String(),
		"buyback_pool", merged.BuybackPool,
		"price_min", merged.PriceMin.String(),
		"price_max", merged.PriceMax.String(),
	)

	cfg := m.cfg
	return []Outbound{
		{To: Everyone, Event: protocol.Event{Type: protocol.EvtConfigUpdated, Config: &cfg}},
		m.stateLocked(),
	}, nil
}

// Open starts a fresh round from any phase.
func (m *Machine) Open() []Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearRoundLocked()
	return m.transitionLocked(model.PhaseOpen)
}

// Submit validates and stores a participant's tenders, replacing any
// earlier submission by the same session. Only allowed while open.
func (m *Machine) Submit(id, name string, raw []model.RawTender) ([]Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != model.PhaseOpen {
		return nil, fmt.Errorf("%w: tenders are not accepted while %s", ErrWrongPhase, m.phase)
	}

	v, err := tender.NewValidator(m.cfg)
	if err != nil {
		return nil, err
	}
	rec, err := v.Record(id, name, raw)
	if err != nil {
		return nil, err
	}
	rec.SubmittedAt = m.now()
	m.participants[id] = *rec

	slog.Info("tender submitted",
		"session", id,
		"name", rec.Name,
		"tenders", len(rec.Tenders),
		"qty", rec.TotalQty(),
	)

	tenders := append([]model.Tender(nil), rec.Tenders...)
	return []Outbound{
		{To: Sender, Event: protocol.Event{Type: protocol.EvtSubmitted, Tenders: tenders}},
		m.stateLocked(),
	}, nil
}

// Close stops accepting tenders. Submissions are left untouched; a strike
// and results from an earlier calculate are discarded, since they only
// exist in the results phase. Calculating again reproduces them.
func (m *Machine) Close() []Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.strike = nil
	m.results = nil
	return m.transitionLocked(model.PhaseClosed)
}

// Calculate clears the current round. A nil strike discovers the strike
// price from the tenders; a non-nil strike clears at that price. On error
// the round and phase are left exactly as they were.
func (m *Machine) Calculate(strike *decimal.Decimal) ([]Outbound, *model.ArchivedRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy := clearing.Select(strike)
	res, err := policy.Clear(m.cfg, m.recordsLocked())
	if err != nil {
		return nil, nil, err
	}

	sp := res.StrikePrice
	m.strike = &sp
	m.results = res

	slog.Info("auction cleared",
		"policy", res.Policy,
		"strike", res.StrikePrice.String(),
		"accepted", res.TotalAccepted,
		"allocated", res.TotalAllocated,
		"pool", res.BuybackPool,
		"oversubscribed", res.Oversubscribed,
	)

	archived := &model.ArchivedRound{
		ID:               uuid.New().String(),
		Config:           m.cfg,
		ParticipantCount: len(m.participants),
		Result:           *res,
		StrikePrice:      sp,
		ClearedAt:        m.now(),
	}

	out := []Outbound{{To: Everyone, Event: protocol.Event{Type: protocol.EvtResults, Results: res}}}
	return append(out, m.transitionLocked(model.PhaseResults)...), archived, nil
}

// Reset discards the round and returns to waiting.
func (m *Machine) Reset() []Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearRoundLocked()
	return m.transitionLocked(model.PhaseWaiting)
}

// Phase returns the current phase.
func (m *Machine) Phase() model.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Config returns the current configuration.
func (m *Machine) Config() model.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// AdminState returns the admin snapshot.
func (m *Machine) AdminState() protocol.AdminState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adminStateLocked()
}

// PublicState returns the snapshot any session may see.
func (m *Machine) PublicState() protocol.PublicState {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := protocol.PublicState{
		Config:           m.cfg,
		Phase:            m.phase,
		ParticipantCount: len(m.participants),
	}
	if m.strike != nil {
		sp := *m.strike
		ps.StrikePrice = &sp
	}
	return ps
}

// Participant returns a copy of one participant's stored record.
func (m *Machine) Participant(id string) (model.ParticipantRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.participants[id]
	if ok {
		rec.Tenders = append([]model.Tender(nil), rec.Tenders...)
	}
	return rec, ok
}

// --- helpers (caller holds m.mu) ---

func (m *Machine) clearRoundLocked() {
	m.participants = make(map[string]model.ParticipantRecord)
	m.strike = nil
	m.results = nil
}

func (m *Machine) transitionLocked(next model.Phase) []Outbound {
	prev := m.phase
	m.phase = next
	slog.Info("phase changed", "from", prev, "to", next)

	return []Outbound{
		{To: Everyone, Event: protocol.Event{Type: protocol.EvtPhase, Phase: next}},
		m.stateLocked(),
	}
}

func (m *Machine) stateLocked() Outbound {
	st := m.adminStateLocked()
	return Outbound{To: Admins, Event: protocol.Event{Type: protocol.EvtState, State: &st}}
}

func (m *Machine) adminStateLocked() protocol.AdminState {
	st := protocol.AdminState{
		Config:           m.cfg,
		Phase:            m.phase,
		ParticipantCount: len(m.participants),
		Participants:     make([]model.ParticipantSummary, 0, len(m.participants)),
		Results:          m.results,
	}
	for _, r := range m.recordsLocked() {
		st.Participants = append(st.Participants, model.ParticipantSummary{
			ID:          r.ID,
			Name:        r.Name,
			TenderCount: len(r.Tenders),
			TotalQty:    r.TotalQty(),
			SubmittedAt: r.SubmittedAt,
		})
	}
	if m.strike != nil {
		sp := *m.strike
		st.StrikePrice = &sp
	}
	return st
}

// recordsLocked returns the submissions ordered by submission time.
func (m *Machine) recordsLocked() []model.ParticipantRecord {
	records := make([]model.ParticipantRecord, 0, len(m.participants))
	for _, r := range m.participants {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].SubmittedAt.Equal(records[j].SubmittedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].SubmittedAt.Before(records[j].SubmittedAt)
	})
	return records
}
