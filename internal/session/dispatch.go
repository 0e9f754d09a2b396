package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/buyback-auction/internal/auction"
	"github.com/atmx/buyback-auction/internal/clearing"
	"github.com/atmx/buyback-auction/internal/metrics"
	"github.com/atmx/buyback-auction/internal/model"
	"github.com/atmx/buyback-auction/internal/protocol"
	"github.com/atmx/buyback-auction/internal/store"
)

// ErrUnauthorized marks a command sent by a session lacking the required
// capability. It is never reported to the client.
var ErrUnauthorized = errors.New("session: capability required")

// required lists the capability each command needs. Registration commands
// need none.
var required = map[string]Capability{
	protocol.CmdUpdateConfig: CapAdminister,
	protocol.CmdOpenAuction:  CapAdminister,
	protocol.CmdCloseAuction: CapAdminister,
	protocol.CmdCalculate:    CapAdminister,
	protocol.CmdReset:        CapAdminister,
	protocol.CmdSubmitTender: CapTender,
}

// archiveTimeout bounds a single archive write.
const archiveTimeout = 5 * time.Second

// Dispatcher checks capabilities and forwards commands to the machine.
type Dispatcher struct {
	machine *auction.Machine
	archive store.Store // optional
	pending sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Pass nil for archive to skip
// recording cleared rounds.
func NewDispatcher(m *auction.Machine, archive store.Store) *Dispatcher {
	return &Dispatcher{machine: m, archive: archive}
}

// Dispatch applies one command on behalf of s and returns the events to
// deliver. Commands from sessions without the required capability are
// dropped silently.
func (d *Dispatcher) Dispatch(s *Session, cmd protocol.Command) []auction.Outbound {
	if need, ok := required[cmd.Type]; ok && !s.Can(need) {
		slog.Debug("command dropped", "session", s.ID, "type", cmd.Type, "role", s.Role(), "err", ErrUnauthorized)
		metrics.CommandsDropped.WithLabelValues("unauthorized").Inc()
		return nil
	}

	var (
		out []auction.Outbound
		err error
	)
	switch cmd.Type {
	case protocol.CmdRegisterAdmin:
		return d.register(s, RoleAdmin)
	case protocol.CmdRegisterParticipant:
		return d.register(s, RoleParticipant)
	case protocol.CmdUpdateConfig:
		out, err = d.machine.Configure(*cmd.Config)
	case protocol.CmdOpenAuction:
		out = d.machine.Open()
	case protocol.CmdSubmitTender:
		if cmd.TenderErr != nil {
			err = cmd.TenderErr
		} else {
			out, err = d.machine.Submit(s.ID, cmd.Name, cmd.Tenders)
		}
		metrics.TendersSubmitted.WithLabelValues(outcomeLabel(err)).Inc()
	case protocol.CmdCloseAuction:
		out = d.machine.Close()
	case protocol.CmdCalculate:
		var archived *model.ArchivedRound
		out, archived, err = d.machine.Calculate(cmd.StrikePrice)
		policy := clearing.Select(cmd.StrikePrice).Name()
		metrics.ClearingRuns.WithLabelValues(policy, outcomeLabel(err)).Inc()
		if archived != nil {
			d.record(*archived)
		}
	case protocol.CmdReset:
		out = d.machine.Reset()
	}

	if err != nil {
		slog.Info("command rejected", "session", s.ID, "type", cmd.Type, "err", err)
		return []auction.Outbound{{To: auction.Sender, Event: protocol.ErrorEvent(err)}}
	}
	metrics.SetPhase(d.machine.Phase())
	return out
}

// register binds a role and replies with the matching snapshot.
func (d *Dispatcher) register(s *Session, r Role) []auction.Outbound {
	s.bind(r)
	slog.Info("session registered", "session", s.ID, "role", r)

	out := []auction.Outbound{{
		To:    auction.Sender,
		Event: protocol.Event{Type: protocol.EvtRegistered, Role: string(r), SessionID: s.ID},
	}}
	if r == RoleAdmin {
		st := d.machine.AdminState()
		return append(out, auction.Outbound{To: auction.Sender, Event: protocol.Event{Type: protocol.EvtState, State: &st}})
	}
	ps := d.machine.PublicState()
	return append(out, auction.Outbound{To: auction.Sender, Event: protocol.Event{Type: protocol.EvtSnapshot, Snapshot: &ps}})
}

// record archives a cleared round in the background. The round is a copy;
// the machine is not touched while the write is pending.
func (d *Dispatcher) record(r model.ArchivedRound) {
	if d.archive == nil {
		return
	}
	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := d.archive.SaveRound(ctx, &r); err != nil {
			slog.Error("archive round failed", "round", r.ID, "err", err)
			return
		}
		slog.Info("round archived", "round", r.ID)
	}()
}

// Flush waits for pending archive writes.
func (d *Dispatcher) Flush() {
	d.pending.Wait()
}

func outcomeLabel(err error) string {
	if err != nil {
		return "rejected"
	}
	return "accepted"
}
