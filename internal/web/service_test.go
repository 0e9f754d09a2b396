package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/buyback-auction/internal/auction"
	"github.com/atmx/buyback-auction/internal/joinlink"
	"github.com/atmx/buyback-auction/internal/model"
	"github.com/atmx/buyback-auction/internal/store"
	"github.com/atmx/buyback-auction/internal/web"
)

// newTestEnv creates a Service with an in-memory archive and chi router.
func newTestEnv(t *testing.T) (*auction.Machine, *store.MemoryStore, chi.Router) {
	t.Helper()
	m, err := auction.New(model.DefaultConfig())
	require.NoError(t, err)
	ms := store.NewMemoryStore()
	linker, err := joinlink.New("", "/participant")
	require.NoError(t, err)

	svc := web.NewService(m, ms, linker)
	r := chi.NewRouter()
	r.Get("/health", svc.Health)
	r.Route("/api/v1", svc.Routes)
	return m, ms, r
}

func get(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	req.Host = "10.0.0.5:8080"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestGetState_PublicOnly(t *testing.T) {
	m, _, router := newTestEnv(t)
	m.Open()
	_, err := m.Submit("s1", "Ada", []model.RawTender{{Qty: decimal.NewFromInt(10), Price: decimal.NewFromInt(55)}})
	require.NoError(t, err)

	w := get(t, router, "/api/v1/state")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "open", body["phase"])
	assert.Equal(t, 1.0, body["participantCount"])
	assert.NotContains(t, body, "participants")
	assert.NotContains(t, w.Body.String(), "Ada")
}

func TestRounds(t *testing.T) {
	_, ms, router := newTestEnv(t)

	w := get(t, router, "/api/v1/rounds")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	round := &model.ArchivedRound{
		ID:               "round-1",
		Config:           model.DefaultConfig(),
		ParticipantCount: 2,
		StrikePrice:      decimal.NewFromInt(55),
		ClearedAt:        time.Now().UTC(),
		Result:           model.ClearingResult{Policy: "discovered", StrikePrice: decimal.NewFromInt(55)},
	}
	require.NoError(t, ms.SaveRound(context.Background(), round))

	w = get(t, router, "/api/v1/rounds")
	require.Equal(t, http.StatusOK, w.Code)
	var rounds []model.ArchivedRound
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rounds))
	require.Len(t, rounds, 1)
	assert.Equal(t, "round-1", rounds[0].ID)

	w = get(t, router, "/api/v1/rounds/round-1")
	require.Equal(t, http.StatusOK, w.Code)
	var got model.ArchivedRound
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 2, got.ParticipantCount)
	assert.True(t, got.StrikePrice.Equal(decimal.NewFromInt(55)))

	w = get(t, router, "/api/v1/rounds/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinLink(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := get(t, router, "/api/v1/join")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"url":"http://10.0.0.5:8080/participant"}`, w.Body.String())

	w = get(t, router, "/api/v1/join/qr.png?size=128")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())

	w = get(t, router, "/api/v1/join/qr.png?size=big")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
