package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/relay-gateway/internal/services"
	"github.com/akagifreeez/relay-gateway/pkg/phone"
)

// DispatchHandler serves dispatch admission and status lookups.
type DispatchHandler struct {
	validator  *services.Validator
	dispatcher *services.Dispatcher
}

func NewDispatchHandler(validator *services.Validator, dispatcher *services.Dispatcher) *DispatchHandler {
	return &DispatchHandler{
		validator:  validator,
		dispatcher: dispatcher,
	}
}

type dispatchRequest struct {
	Target     string `json:"target"`
	Iterations int    `json:"iterations"`
}

type usageInfo struct {
	Requests  int64 `json:"requests"`
	Remaining int64 `json:"remaining"`
}

// Dispatch admits a request and queues the downstream relay.
// POST /api/v1/dispatch
func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	credential := ExtractCredential(r)

	// Authentication is checked before the body so credential failures win
	// over input failures, but the quota unit is only consumed below, after
	// input validation: a malformed request must not burn quota.
	if _, err := h.validator.Resolve(r.Context(), credential); err != nil {
		respondError(w, err)
		return
	}

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, services.ErrInvalidInput)
		return
	}
	if _, err := phone.Normalize(req.Target); err != nil {
		respondError(w, services.ErrInvalidInput)
		return
	}

	admission, err := h.validator.Authorize(r.Context(), credential)
	if err != nil {
		respondError(w, err)
		return
	}

	entry, err := h.dispatcher.Submit(r.Context(), admission.Credential, req.Target, req.Iterations, ClientIP(r))
	if err != nil {
		respondError(w, err)
		return
	}

	resp := map[string]any{
		"success": true,
		"message": "Request accepted for processing",
		"data": map[string]any{
			"requestId":  entry.RequestID,
			"target":     entry.Target,
			"iterations": entry.Iterations,
			"status":     "processing",
			"timestamp":  entry.CreatedAt.Format(time.RFC3339),
		},
	}
	// Token credentials carry no server-side counter, so usage is only
	// reported for stored credentials.
	if !admission.IsToken {
		resp["usage"] = usageInfo{
			Requests:  admission.Credential.RequestCount,
			Remaining: admission.Credential.Remaining(),
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetStatus returns the logged entry for a request ID, scoped to the
// caller's own credential unless the caller is the master.
// GET /api/v1/dispatch/{requestId}
func (h *DispatchHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	admission, ok := AdmissionFromContext(r.Context())
	if !ok {
		respondError(w, services.ErrMissingCredential)
		return
	}

	requestID := chi.URLParam(r, "requestId")
	entry, found := h.dispatcher.Get(requestID)
	if !found || (!admission.Credential.IsMaster && entry.CredentialID != admission.Credential.ID) {
		respondJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "request not found",
			"code":    "not_found",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    entry,
	})
}

// StatsHandler reports credential usage and recent dispatch activity.
type StatsHandler struct {
	store      services.CredentialStore
	dispatcher *services.Dispatcher
}

func NewStatsHandler(store services.CredentialStore, dispatcher *services.Dispatcher) *StatsHandler {
	return &StatsHandler{
		store:      store,
		dispatcher: dispatcher,
	}
}

// GetStats returns the caller's own usage plus their recent dispatch log
// slice; master callers additionally get system-wide totals.
// GET /api/v1/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	admission, ok := AdmissionFromContext(r.Context())
	if !ok {
		respondError(w, services.ErrMissingCredential)
		return
	}

	cred := admission.Credential
	recent := h.dispatcher.Recent(cred.ID, 10)

	stats := map[string]any{
		"yourKey": map[string]any{
			"owner":     cred.Owner,
			"requests":  cred.RequestCount,
			"limit":     cred.Limit,
			"remaining": cred.Remaining(),
			"createdAt": cred.CreatedAt.Format(time.RFC3339),
			"isActive":  cred.IsActive,
		},
		"recentDispatches": recent,
	}

	if cred.IsMaster {
		system, err := h.systemStats(r)
		if err != nil {
			log.Error().Err(err).Msg("Failed to build system stats")
		} else {
			stats["system"] = system
		}
	}

	note := "Standard credential"
	if cred.IsMaster {
		note = "You have master credential privileges"
	} else if admission.IsToken {
		note = "Signed token credential"
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
		"note":    note,
	})
}

func (h *StatsHandler) systemStats(r *http.Request) (map[string]any, error) {
	creds, err := h.store.List(r.Context())
	if err != nil {
		return nil, err
	}

	var totalRequests int64
	activeKeys := 0
	for _, c := range creds {
		totalRequests += c.RequestCount
		if c.IsActive {
			activeKeys++
		}
	}

	return map[string]any{
		"totalKeys":     len(creds),
		"activeKeys":    activeKeys,
		"totalRequests": totalRequests,
		"loggedEntries": h.dispatcher.Len(),
	}, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError maps the admission error taxonomy onto HTTP statuses with a
// distinguishing code, so quota exhaustion and rate limiting stay separate
// failure modes for the caller.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, services.ErrMissingCredential):
		status, code = http.StatusUnauthorized, "missing_credential"
	case errors.Is(err, services.ErrUnknownCredential):
		status, code = http.StatusUnauthorized, "unknown_credential"
	case errors.Is(err, services.ErrDeactivatedCredential):
		status, code = http.StatusUnauthorized, "deactivated_credential"
	case errors.Is(err, services.ErrInvalidToken):
		status, code = http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, services.ErrQuotaExceeded):
		status, code = http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, services.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, services.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, services.ErrUnauthorized):
		status, code = http.StatusForbidden, "unauthorized"
	default:
		log.Error().Err(err).Msg("Request failed")
	}

	message := err.Error()
	if code == "internal_error" {
		message = "internal error"
	}

	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
