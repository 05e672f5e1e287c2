package http

import (
	"log/slog"
	"net/http"
	"time"

	"tally/internal/auth"
	"tally/internal/core"
	applog "tally/internal/log"
)

type updateSettingsRequest struct {
	Currency string `json:"currency"`
	Timezone string `json:"timezone"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getSettings(w, r)
	case http.MethodPut:
		s.updateSettings(w, r)
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	settings, err := s.store.GetUserSettings(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req updateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !core.ValidCurrency(req.Currency) {
		writeDomainError(w, r, core.ErrUnknownCurrency)
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		respondError(w, http.StatusBadRequest, "unknown timezone")
		return
	}

	settings, err := s.store.UpdateUserSettings(r.Context(), core.UserSettings{
		UserID:   userID,
		Currency: req.Currency,
		Timezone: req.Timezone,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	// Formatted amounts embed the currency, so cached stats are stale now.
	s.invalidateStats(userID)

	slog.InfoContext(r.Context(), "Settings updated",
		applog.FieldUserID, userID,
		applog.FieldCurrency, settings.Currency)

	respondJSON(w, http.StatusOK, settings)
}
