package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/relay-gateway/internal/services"
)

// KeyHandler serves master-only credential and token minting.
type KeyHandler struct {
	store  services.CredentialStore
	tokens *services.TokenService
}

func NewKeyHandler(store services.CredentialStore, tokens *services.TokenService) *KeyHandler {
	return &KeyHandler{
		store:  store,
		tokens: tokens,
	}
}

// CreateKey mints a new stored credential.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Owner string `json:"owner"`
		Limit int64  `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, services.ErrInvalidInput)
		return
	}
	if input.Owner == "" {
		respondError(w, services.ErrInvalidInput)
		return
	}

	cred, err := h.store.Create(r.Context(), input.Owner, input.Limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create credential")
		respondError(w, err)
		return
	}

	log.Info().Str("owner", cred.Owner).Int64("limit", cred.Limit).Msg("Credential created")

	respondJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"key":     cred.ID,
		"owner":   cred.Owner,
		"limit":   cred.Limit,
	})
}

// RevokeKey deactivates a credential. Idempotent.
// DELETE /api/v1/keys/{id}
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, services.ErrInvalidInput)
		return
	}

	if err := h.store.SetActive(r.Context(), id, false); err != nil {
		respondError(w, err)
		return
	}

	log.Info().Msg("Credential revoked")

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "credential deactivated",
	})
}

// IssueToken mints a self-contained signed token.
// POST /api/v1/tokens
func (h *KeyHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Owner     string `json:"owner"`
		Limit     int64  `json:"limit"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, services.ErrInvalidInput)
		return
	}
	if input.Owner == "" {
		respondError(w, services.ErrInvalidInput)
		return
	}
	if input.Limit <= 0 {
		input.Limit = 1000
	}
	if input.ExpiresIn <= 0 {
		input.ExpiresIn = int64((7 * 24 * time.Hour).Seconds())
	}

	token, err := h.tokens.Issue(input.Owner, input.Limit, time.Duration(input.ExpiresIn)*time.Second)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue token")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     token,
		"owner":     input.Owner,
		"limit":     input.Limit,
		"expiresIn": input.ExpiresIn,
		"note":      "Use this token as X-Api-Key in requests.",
	})
}
