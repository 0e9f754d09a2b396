package session

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/buyback-auction/internal/auction"
	"github.com/atmx/buyback-auction/internal/model"
	"github.com/atmx/buyback-auction/internal/protocol"
	"github.com/atmx/buyback-auction/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *auction.Machine, *store.MemoryStore) {
	t.Helper()
	m, err := auction.New(model.DefaultConfig())
	require.NoError(t, err)
	ms := store.NewMemoryStore()
	return NewDispatcher(m, ms), m, ms
}

func registered(t *testing.T, disp *Dispatcher, cmdType string) *Session {
	t.Helper()
	s := newSession(nil)
	out := disp.Dispatch(s, protocol.Command{Type: cmdType})
	require.NotEmpty(t, out)
	return s
}

func TestRoleCapabilities(t *testing.T) {
	assert.Equal(t, CapAdminister, RoleAdmin.Capabilities())
	assert.Equal(t, CapTender, RoleParticipant.Capabilities())
	assert.Equal(t, Capability(0), RoleNone.Capabilities())
}

func TestRegister_Replies(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)

	admin := newSession(nil)
	out := disp.Dispatch(admin, protocol.Command{Type: protocol.CmdRegisterAdmin})
	require.Len(t, out, 2)
	assert.Equal(t, protocol.EvtRegistered, out[0].Event.Type)
	assert.Equal(t, "admin", out[0].Event.Role)
	assert.Equal(t, admin.ID, out[0].Event.SessionID)
	assert.Equal(t, protocol.EvtState, out[1].Event.Type)
	assert.Equal(t, auction.Sender, out[1].To)
	assert.True(t, admin.Can(CapAdminister))

	p := newSession(nil)
	out = disp.Dispatch(p, protocol.Command{Type: protocol.CmdRegisterParticipant})
	require.Len(t, out, 2)
	assert.Equal(t, protocol.EvtSnapshot, out[1].Event.Type)
	require.NotNil(t, out[1].Event.Snapshot)
	assert.Nil(t, out[1].Event.State, "participants never receive the admin state")
	assert.True(t, p.Can(CapTender))
	assert.False(t, p.Can(CapAdminister))
}

func TestDispatch_WrongRoleSilentlyDropped(t *testing.T) {
	disp, m, _ := newTestDispatcher(t)
	p := registered(t, disp, protocol.CmdRegisterParticipant)
	unregistered := newSession(nil)

	for _, s := range []*Session{p, unregistered} {
		for _, typ := range []string{protocol.CmdOpenAuction, protocol.CmdCloseAuction, protocol.CmdCalculate, protocol.CmdReset} {
			out := disp.Dispatch(s, protocol.Command{Type: typ})
			assert.Nil(t, out, "%s by %q should produce nothing", typ, s.Role())
		}
	}
	assert.Equal(t, model.PhaseWaiting, m.Phase())

	admin := registered(t, disp, protocol.CmdRegisterAdmin)
	disp.Dispatch(admin, protocol.Command{Type: protocol.CmdOpenAuction})

	out := disp.Dispatch(admin, protocol.Command{
		Type:    protocol.CmdSubmitTender,
		Tenders: []model.RawTender{{Qty: d(10), Price: d(55)}},
	})
	assert.Nil(t, out, "admins cannot tender")
	assert.Equal(t, 0, m.AdminState().ParticipantCount)
}

func TestDispatch_RoleSwitch(t *testing.T) {
	disp, m, _ := newTestDispatcher(t)
	s := registered(t, disp, protocol.CmdRegisterParticipant)

	disp.Dispatch(s, protocol.Command{Type: protocol.CmdRegisterAdmin})
	out := disp.Dispatch(s, protocol.Command{Type: protocol.CmdOpenAuction})
	require.NotEmpty(t, out)
	assert.Equal(t, model.PhaseOpen, m.Phase())
	assert.False(t, s.Can(CapTender))
}

func TestDispatch_PhaseErrorToSender(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)
	p := registered(t, disp, protocol.CmdRegisterParticipant)

	out := disp.Dispatch(p, protocol.Command{
		Type:    protocol.CmdSubmitTender,
		Tenders: []model.RawTender{{Qty: d(10), Price: d(55)}},
	})
	require.Len(t, out, 1)
	assert.Equal(t, auction.Sender, out[0].To)
	assert.Equal(t, protocol.EvtError, out[0].Event.Type)
	assert.Contains(t, out[0].Event.Message, "waiting")
}

func TestDispatch_ValidationErrorNamesConstraint(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)
	admin := registered(t, disp, protocol.CmdRegisterAdmin)
	p := registered(t, disp, protocol.CmdRegisterParticipant)
	disp.Dispatch(admin, protocol.Command{Type: protocol.CmdOpenAuction})

	out := disp.Dispatch(p, protocol.Command{
		Type: protocol.CmdSubmitTender,
		Tenders: []model.RawTender{
			{Qty: d(70), Price: d(55)},
			{Qty: d(70), Price: d(56)},
		},
	})
	require.Len(t, out, 1)
	assert.Equal(t, protocol.EvtError, out[0].Event.Type)
	assert.Contains(t, out[0].Event.Message, "exceeds shares held")
	assert.Contains(t, out[0].Event.Message, "140")
}

func TestDispatch_NonNumericTenderErrorToSender(t *testing.T) {
	disp, m, _ := newTestDispatcher(t)
	admin := registered(t, disp, protocol.CmdRegisterAdmin)
	p := registered(t, disp, protocol.CmdRegisterParticipant)
	disp.Dispatch(admin, protocol.Command{Type: protocol.CmdOpenAuction})

	cmd, err := protocol.DecodeCommand([]byte(`{"type":"submit-tender","name":"x","tenders":[{"qty":"abc","price":55}]}`))
	require.NoError(t, err)

	out := disp.Dispatch(p, cmd)
	require.Len(t, out, 1)
	assert.Equal(t, auction.Sender, out[0].To)
	assert.Equal(t, protocol.EvtError, out[0].Event.Type)
	assert.Contains(t, out[0].Event.Message, "qty must be a number")

	_, stored := m.Participant(p.ID)
	assert.False(t, stored)
}

func TestDispatch_CalculateArchivesRound(t *testing.T) {
	disp, m, ms := newTestDispatcher(t)
	admin := registered(t, disp, protocol.CmdRegisterAdmin)
	p := registered(t, disp, protocol.CmdRegisterParticipant)

	disp.Dispatch(admin, protocol.Command{Type: protocol.CmdOpenAuction})
	out := disp.Dispatch(p, protocol.Command{
		Type:    protocol.CmdSubmitTender,
		Name:    "Ada",
		Tenders: []model.RawTender{{Qty: d(50), Price: d(53)}},
	})
	require.NotEmpty(t, out)
	assert.Equal(t, protocol.EvtSubmitted, out[0].Event.Type)

	disp.Dispatch(admin, protocol.Command{Type: protocol.CmdCloseAuction})
	out = disp.Dispatch(admin, protocol.Command{Type: protocol.CmdCalculate})
	require.NotEmpty(t, out)
	assert.Equal(t, protocol.EvtResults, out[0].Event.Type)
	assert.Equal(t, model.PhaseResults, m.Phase())

	disp.Flush()
	rounds, err := ms.ListRounds(context.Background())
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.True(t, rounds[0].StrikePrice.Equal(d(53)))
	assert.Equal(t, int64(50), rounds[0].Result.Outcomes[p.ID].SharesAllocated)
}

func TestDispatch_CalculateWithoutTenders(t *testing.T) {
	disp, m, ms := newTestDispatcher(t)
	admin := registered(t, disp, protocol.CmdRegisterAdmin)

	disp.Dispatch(admin, protocol.Command{Type: protocol.CmdOpenAuction})
	disp.Dispatch(admin, protocol.Command{Type: protocol.CmdCloseAuction})
	out := disp.Dispatch(admin, protocol.Command{Type: protocol.CmdCalculate})

	require.Len(t, out, 1)
	assert.Equal(t, protocol.EvtError, out[0].Event.Type)
	assert.Equal(t, auction.Sender, out[0].To)
	assert.Equal(t, model.PhaseClosed, m.Phase())

	disp.Flush()
	rounds, err := ms.ListRounds(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rounds)
}

func TestDispatch_ConfigUpdate(t *testing.T) {
	disp, m, _ := newTestDispatcher(t)
	admin := registered(t, disp, protocol.CmdRegisterAdmin)

	pool := int64(400)
	out := disp.Dispatch(admin, protocol.Command{
		Type:   protocol.CmdUpdateConfig,
		Config: &model.ConfigPatch{BuybackPool: &pool},
	})
	require.NotEmpty(t, out)
	assert.Equal(t, protocol.EvtConfigUpdated, out[0].Event.Type)
	assert.Equal(t, auction.Everyone, out[0].To)
	assert.Equal(t, int64(400), m.Config().BuybackPool)

	bad := int64(0)
	out = disp.Dispatch(admin, protocol.Command{
		Type:   protocol.CmdUpdateConfig,
		Config: &model.ConfigPatch{BuybackPool: &bad},
	})
	require.Len(t, out, 1)
	assert.Equal(t, protocol.EvtError, out[0].Event.Type)
	assert.Equal(t, int64(400), m.Config().BuybackPool)
}
