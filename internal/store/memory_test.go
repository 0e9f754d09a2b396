package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/buyback-auction/internal/model"
)

func archived(id string, clearedAt time.Time) *model.ArchivedRound {
	strike := decimal.NewFromInt(55)
	return &model.ArchivedRound{
		ID:               id,
		Config:           model.DefaultConfig(),
		ParticipantCount: 1,
		StrikePrice:      strike,
		ClearedAt:        clearedAt,
		Result: model.ClearingResult{
			Policy:      "discovered",
			StrikePrice: strike,
			BuybackPool: 1000,
			Outcomes: map[string]model.Outcome{
				"s1": {Name: "Ada", SharesAllocated: 50, CashReceived: decimal.NewFromInt(2750)},
			},
		},
	}
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ms.SaveRound(ctx, archived("r1", now)))

	got, err := ms.GetRound(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.True(t, got.StrikePrice.Equal(decimal.NewFromInt(55)))
	assert.True(t, got.ClearedAt.Equal(now))
	assert.Equal(t, int64(50), got.Result.Outcomes["s1"].SharesAllocated)
	assert.True(t, got.Result.Outcomes["s1"].CashReceived.Equal(decimal.NewFromInt(2750)))
}

func TestMemoryStore_IsolatedCopies(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	r := archived("r1", time.Now().UTC())
	require.NoError(t, ms.SaveRound(ctx, r))

	// Mutating the caller's value or a returned value must not leak back.
	r.Result.Outcomes["s1"] = model.Outcome{Name: "changed"}
	got, err := ms.GetRound(ctx, "r1")
	require.NoError(t, err)
	got.Result.Outcomes["s1"] = model.Outcome{Name: "changed again"}

	again, err := ms.GetRound(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Result.Outcomes["s1"].Name)
}

func TestMemoryStore_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	require.NoError(t, ms.SaveRound(ctx, archived("r1", time.Now())))
	assert.Error(t, ms.SaveRound(ctx, archived("r1", time.Now())))
}

func TestMemoryStore_NotFound(t *testing.T) {
	_, err := NewMemoryStore().GetRound(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ms.SaveRound(ctx, archived("old", base)))
	require.NoError(t, ms.SaveRound(ctx, archived("new", base.Add(time.Hour))))
	require.NoError(t, ms.SaveRound(ctx, archived("mid", base.Add(time.Minute))))

	rounds, err := ms.ListRounds(ctx)
	require.NoError(t, err)
	require.Len(t, rounds, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{rounds[0].ID, rounds[1].ID, rounds[2].ID})
}
