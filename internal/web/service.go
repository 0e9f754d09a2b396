// Package web provides the read-only HTTP handlers of the auction service:
// the public snapshot, archived round history and the participant join
// link. All mutations go through the websocket command channel.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/buyback-auction/internal/joinlink"
	"github.com/atmx/buyback-auction/internal/model"
	"github.com/atmx/buyback-auction/internal/protocol"
	"github.com/atmx/buyback-auction/internal/store"
)

// StateReader exposes the public auction snapshot.
type StateReader interface {
	PublicState() protocol.PublicState
}

// Service serves the HTTP API.
type Service struct {
	state   StateReader
	archive store.Store
	linker  *joinlink.Linker
}

// NewService creates the HTTP service.
func NewService(state StateReader, archive store.Store, linker *joinlink.Linker) *Service {
	return &Service{state: state, archive: archive, linker: linker}
}

// Routes mounts the API handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/state", s.GetState)
	r.Get("/rounds", s.ListRounds)
	r.Get("/rounds/{roundID}", s.GetRound)
	r.Get("/join", s.GetJoinLink)
	r.Get("/join/qr.png", s.GetJoinQR)
}

// Health handles GET /health
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"buyback-auction"}`))
}

// GetState handles GET /api/v1/state
// Returns phase, config and participant count; never tender detail.
func (s *Service) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.PublicState())
}

// ListRounds handles GET /api/v1/rounds
func (s *Service) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.archive.ListRounds(r.Context())
	if err != nil {
		slog.Error("list rounds failed", "err", err)
		writeError(w, "failed to list rounds", http.StatusInternalServerError)
		return
	}
	if rounds == nil {
		rounds = []model.ArchivedRound{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

// GetRound handles GET /api/v1/rounds/{roundID}
func (s *Service) GetRound(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")

	round, err := s.archive.GetRound(r.Context(), roundID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "round not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("get round failed", "round", roundID, "err", err)
		writeError(w, "failed to load round", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// GetJoinLink handles GET /api/v1/join
func (s *Service) GetJoinLink(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"url": s.linker.URL(r)})
}

// GetJoinQR handles GET /api/v1/join/qr.png?size=N
func (s *Service) GetJoinQR(w http.ResponseWriter, r *http.Request) {
	size := joinlink.DefaultSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 64 || n > 2048 {
			writeError(w, "size must be an integer between 64 and 2048", http.StatusBadRequest)
			return
		}
		size = n
	}

	png, err := joinlink.QR(s.linker.URL(r), size)
	if err != nil {
		slog.Error("qr generation failed", "err", err)
		writeError(w, "failed to render qr code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
