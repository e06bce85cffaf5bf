package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/burnbox/burnbox/internal/secret"
)

// goneMessage is deliberately the same for absent, expired, and consumed
// secrets so a caller cannot tell whether a link ever existed. The
// distinct internal codes go to the log only.
const goneMessage = "secret is no longer available"

// CreateHandler handles POST /v1/secrets
func (s *Server) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    string `json:"content"`
		Passphrase string `json:"passphrase"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := s.engine.Create(r.Context(), secret.CreateRequest{
		Content:          []byte(req.Content),
		Passphrase:       req.Passphrase,
		TTL:              time.Duration(req.TTLSeconds) * time.Second,
		OwnerFingerprint: fingerprintFromCtx(r.Context()),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	secretsCreatedTotal.Inc()

	writeJSON(w, http.StatusCreated, map[string]any{
		"share_id":      receipt.ShareID,
		"admin_id":      receipt.AdminID,
		"expires_at":    receipt.ExpiresAt,
		"admin_expires": receipt.AdminExpires,
		"original_size": receipt.OriginalSize,
		"stored_size":   receipt.StoredSize,
		"truncated":     receipt.Truncated,
	})
}

// RevealHandler handles POST /v1/secrets/{shareID}/reveal
func (s *Server) RevealHandler(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareID")

	var req struct {
		Passphrase string `json:"passphrase"`
	}
	// An empty body means no passphrase attempt.
	decodeJSON(r, &req) //nolint:errcheck

	result, err := s.engine.Reveal(r.Context(), shareID, req.Passphrase)
	if err != nil {
		revealsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		s.respondError(w, r, err)
		return
	}
	revealsTotal.WithLabelValues("success").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"content":       string(result.Content),
		"original_size": result.OriginalSize,
		"truncated":     result.Truncated,
		"replayable":    result.Replayable,
	})
}

// ConfirmHandler handles POST /v1/secrets/{shareID}/confirm
func (s *Server) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareID")
	if err := s.engine.Confirm(r.Context(), shareID); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BurnHandler handles DELETE /v1/private/{adminID}
func (s *Server) BurnHandler(w http.ResponseWriter, r *http.Request) {
	adminID := chi.URLParam(r, "adminID")
	if err := s.engine.Burn(r.Context(), adminID); err != nil {
		s.respondError(w, r, err)
		return
	}
	burnsTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

// StatusHandler handles GET /v1/private/{adminID}
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	adminID := chi.URLParam(r, "adminID")
	view, err := s.engine.Status(r.Context(), adminID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":         view.State,
		"original_size": view.OriginalSize,
		"truncated":     view.Truncated,
		"protected":     view.Protected,
		"created_at":    view.CreatedAt,
		"share_expires": view.ShareExpires,
		"admin_expires": view.AdminExpires,
		"viewed_at":     view.ViewedAt,
		"received_at":   view.ReceivedAt,
		"burned_at":     view.BurnedAt,
	})
}

// respondError maps the engine's typed outcomes onto HTTP responses.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, secret.ErrNotFound), errors.Is(err, secret.ErrAlreadyConsumed):
		code, msg = http.StatusNotFound, goneMessage
	case errors.Is(err, secret.ErrInvalidPassphrase):
		code, msg = http.StatusForbidden, "invalid passphrase"
	case errors.Is(err, secret.ErrContentTooLarge):
		code, msg = http.StatusRequestEntityTooLarge, "content exceeds maximum size"
	case errors.Is(err, secret.ErrInvalidTTL):
		code, msg = http.StatusBadRequest, "ttl outside allowed bounds"
	case errors.Is(err, secret.ErrRateLimited):
		code, msg = http.StatusTooManyRequests, "rate limit exceeded"
	}

	ev := log.Warn()
	if code == http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("request_id", requestIDFromCtx(r.Context())).
		Str("path", r.URL.Path).
		Msg("request failed")

	writeError(w, code, msg)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, secret.ErrNotFound):
		return "not_found"
	case errors.Is(err, secret.ErrAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, secret.ErrInvalidPassphrase):
		return "invalid_passphrase"
	case errors.Is(err, secret.ErrRateLimited):
		return "rate_limited"
	}
	return "error"
}
