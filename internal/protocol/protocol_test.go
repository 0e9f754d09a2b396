package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/buyback-auction/internal/model"
)

func TestDecodeCommand_SubmitTender(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"submit-tender","name":"Ada","tenders":[{"qty":120,"price":55.5},{"qty":"10","price":"54"}]}`))
	require.NoError(t, err)

	assert.Equal(t, CmdSubmitTender, cmd.Type)
	assert.Equal(t, "Ada", cmd.Name)
	require.Len(t, cmd.Tenders, 2)
	assert.True(t, cmd.Tenders[0].Qty.Equal(decimal.NewFromInt(120)))
	assert.True(t, cmd.Tenders[0].Price.Equal(decimal.RequireFromString("55.5")))
	assert.True(t, cmd.Tenders[1].Qty.Equal(decimal.NewFromInt(10)))
}

func TestDecodeCommand_CalculateStrike(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"calculate"}`))
	require.NoError(t, err)
	assert.Nil(t, cmd.StrikePrice)

	cmd, err = DecodeCommand([]byte(`{"type":"calculate","strikePrice":54}`))
	require.NoError(t, err)
	require.NotNil(t, cmd.StrikePrice)
	assert.True(t, cmd.StrikePrice.Equal(decimal.NewFromInt(54)))
}

func TestDecodeCommand_ConfigPatch(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"update-config","config":{"buybackPool":500,"priceMax":60}}`))
	require.NoError(t, err)
	require.NotNil(t, cmd.Config)

	merged := cmd.Config.Apply(model.DefaultConfig())
	assert.Equal(t, int64(500), merged.BuybackPool)
	assert.True(t, merged.PriceMax.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, model.DefaultConfig().SharesPerParticipant, merged.SharesPerParticipant)
}

func TestDecodeCommand_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `hello`, ErrMalformed},
		{"missing type", `{"name":"x"}`, ErrMalformed},
		{"wrong field type", `{"type":"submit-tender","tenders":"many"}`, ErrMalformed},
		{"tender not an object", `{"type":"submit-tender","tenders":[5]}`, ErrMalformed},
		{"config without body", `{"type":"update-config"}`, ErrMalformed},
		{"unknown", `{"type":"drop-tables"}`, ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(tt.in))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDecodeCommand_NonNumericTender(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		field string
	}{
		{"qty word", `{"type":"submit-tender","name":"x","tenders":[{"qty":"abc","price":55}]}`, "tender 1: qty"},
		{"price bool", `{"type":"submit-tender","tenders":[{"qty":5,"price":55},{"qty":5,"price":true}]}`, "tender 2: price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.in))
			require.NoError(t, err, "a readable frame is still a command")
			assert.Equal(t, CmdSubmitTender, cmd.Type)
			require.Error(t, cmd.TenderErr)
			assert.True(t, errors.Is(cmd.TenderErr, ErrInvalidTender))
			assert.Contains(t, cmd.TenderErr.Error(), tt.field)
		})
	}
}

func TestDecodeCommand_MissingTenderFieldsLeftZero(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"submit-tender","tenders":[{"price":55},{"qty":3,"price":null}]}`))
	require.NoError(t, err)
	require.NoError(t, cmd.TenderErr)
	require.Len(t, cmd.Tenders, 2)
	assert.True(t, cmd.Tenders[0].Qty.IsZero())
	assert.True(t, cmd.Tenders[1].Price.IsZero())
}

func TestEncode_SubmittedAlwaysCarriesTenders(t *testing.T) {
	data, err := Encode(Event{Type: EvtSubmitted})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"submitted","tenders":[]}`, string(data))

	data, err = Encode(Event{Type: EvtSubmitted, Tenders: []model.Tender{{Qty: 5, Price: decimal.NewFromInt(55)}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"submitted","tenders":[{"qty":5,"price":"55"}]}`, string(data))
}

func TestEncode_OmitsEmptyFields(t *testing.T) {
	data, err := Encode(Event{Type: EvtPhase, Phase: model.PhaseOpen})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, map[string]any{"type": "phase", "phase": "open"}, m)
}

func TestErrorEvent(t *testing.T) {
	ev := ErrorEvent(errors.New("boom"))
	assert.Equal(t, EvtError, ev.Type)
	assert.Equal(t, "boom", ev.Message)
}
