// Package protocol defines the tagged JSON messages exchanged with
// websocket sessions: inbound commands and outbound events.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/buyback-auction/internal/model"
)

// Command types (client → server).
const (
	CmdRegisterAdmin       = "register-admin"
	CmdRegisterParticipant = "register-participant"
	CmdUpdateConfig        = "update-config"
	CmdOpenAuction         = "open-auction"
	CmdSubmitTender        = "submit-tender"
	CmdCloseAuction        = "close-auction"
	CmdCalculate           = "calculate"
	CmdReset               = "reset"
)

// Event types (server → client).
const (
	EvtState         = "state"
	EvtSnapshot      = "snapshot"
	EvtConfigUpdated = "config-updated"
	EvtPhase         = "phase"
	EvtResults       = "results"
	EvtRegistered    = "registered"
	EvtSubmitted     = "submitted"
	EvtError         = "error"
)

var knownCommands = map[string]bool{
	CmdRegisterAdmin:       true,
	CmdRegisterParticipant: true,
	CmdUpdateConfig:        true,
	CmdOpenAuction:         true,
	CmdSubmitTender:        true,
	CmdCloseAuction:        true,
	CmdCalculate:           true,
	CmdReset:               true,
}

var (
	ErrMalformed      = errors.New("protocol: malformed message")
	ErrUnknownCommand = errors.New("protocol: unknown command")

	// ErrInvalidTender marks a well-formed submit-tender whose entries carry
	// a non-numeric qty or price. It is reported to the sender.
	ErrInvalidTender = errors.New("protocol: invalid tender")
)

// Command is an inbound message. Only the fields relevant to Type are set.
type Command struct {
	Type        string             `json:"type"`
	Config      *model.ConfigPatch `json:"config,omitempty"`
	Name        string             `json:"name,omitempty"`
	Tenders     []model.RawTender  `json:"tenders,omitempty"`
	StrikePrice *decimal.Decimal   `json:"strikePrice,omitempty"`

	// TenderErr is set when Tenders could not be read. The command is still
	// returned so the sender can be told which entry was wrong.
	TenderErr error `json:"-"`
}

// DecodeCommand parses and checks an inbound frame.
func DecodeCommand(data []byte) (Command, error) {
	var frame struct {
		Command
		Tenders json.RawMessage `json:"tenders,omitempty"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	cmd := frame.Command
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if !knownCommands[cmd.Type] {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}
	if cmd.Type == CmdUpdateConfig && cmd.Config == nil {
		return Command{}, fmt.Errorf("%w: update-config without config", ErrMalformed)
	}
	if len(frame.Tenders) > 0 {
		tenders, err := decodeTenders(frame.Tenders)
		if errors.Is(err, ErrMalformed) {
			return Command{}, err
		}
		cmd.Tenders, cmd.TenderErr = tenders, err
	}
	return cmd, nil
}

// decodeTenders reads the tender list entry by entry. A list that is not an
// array of objects is malformed; a field that is not a number is an
// ErrInvalidTender naming the entry.
func decodeTenders(data json.RawMessage) ([]model.RawTender, error) {
	var entries []struct {
		Qty   json.RawMessage `json:"qty"`
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: tenders: %v", ErrMalformed, err)
	}

	tenders := make([]model.RawTender, 0, len(entries))
	for i, e := range entries {
		var t model.RawTender
		if err := numberField(&t.Qty, e.Qty); err != nil {
			return nil, fmt.Errorf("%w: tender %d: qty must be a number, got %s", ErrInvalidTender, i+1, e.Qty)
		}
		if err := numberField(&t.Price, e.Price); err != nil {
			return nil, fmt.Errorf("%w: tender %d: price must be a number, got %s", ErrInvalidTender, i+1, e.Price)
		}
		tenders = append(tenders, t)
	}
	return tenders, nil
}

// numberField decodes a JSON number or numeric string. A missing field
// leaves zero, which the tender validator drops.
func numberField(dst *decimal.Decimal, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return dst.UnmarshalJSON(raw)
}

// AdminState is the full snapshot sent only to admin sessions. It carries
// per-participant totals but never individual tenders.
type AdminState struct {
	Config           model.Config               `json:"config"`
	Phase            model.Phase                `json:"phase"`
	ParticipantCount int                        `json:"participantCount"`
	Participants     []model.ParticipantSummary `json:"participants"`
	StrikePrice      *decimal.Decimal           `json:"strikePrice,omitempty"`
	Results          *model.ClearingResult      `json:"results,omitempty"`
}

// PublicState is what any session may see: aggregate counts only.
type PublicState struct {
	Config           model.Config     `json:"config"`
	Phase            model.Phase      `json:"phase"`
	ParticipantCount int              `json:"participantCount"`
	StrikePrice      *decimal.Decimal `json:"strikePrice,omitempty"`
}

// Event is an outbound message.
type Event struct {
	Type      string                `json:"type"`
	Role      string                `json:"role,omitempty"`
	SessionID string                `json:"sessionId,omitempty"`
	Phase     model.Phase           `json:"phase,omitempty"`
	Config    *model.Config         `json:"config,omitempty"`
	State     *AdminState           `json:"state,omitempty"`
	Snapshot  *PublicState          `json:"snapshot,omitempty"`
	Results   *model.ClearingResult `json:"results,omitempty"`
	Tenders   []model.Tender        `json:"tenders,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// Encode marshals an event for the wire. A submitted event always carries
// its tender list, even when the stored submission is empty.
func Encode(ev Event) ([]byte, error) {
	if ev.Type == EvtSubmitted {
		tenders := ev.Tenders
		if tenders == nil {
			tenders = []model.Tender{}
		}
		return json.Marshal(struct {
			Event
			Tenders []model.Tender `json:"tenders"`
		}{ev, tenders})
	}
	return json.Marshal(ev)
}

// ErrorEvent builds an error event for the sender.
func ErrorEvent(err error) Event {
	return Event{Type: EvtError, Message: err.Error()}
}
