package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"commune/internal/config"
	mw "commune/internal/middleware"
	"commune/internal/store"
	"commune/pkg/logger"
	"commune/pkg/response"
)

// SessionsHandler exchanges an authenticated API identity for an opaque
// websocket session token. The gateway resolves these tokens on the auth
// frame; issuing them here keeps JWT parsing out of the realtime path.
type SessionsHandler struct {
	Sessions *store.RedisSessions
	Config   *config.Config
	Logger   *logger.Logger
	Validate *validator.Validate
}

func NewSessionsHandler(sessions *store.RedisSessions, cfg *config.Config, log *logger.Logger, validate *validator.Validate) *SessionsHandler {
	return &SessionsHandler{
		Sessions: sessions,
		Config:   cfg,
		Logger:   log,
		Validate: validate,
	}
}

// HandleCreateSession mints a session token for the authenticated caller.
// The token inherits the JWT expiration as its TTL.
func (h *SessionsHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID := mw.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "Authentication required")
		return
	}

	ttl := h.Config.JWT.Expiration
	token, err := h.Sessions.Create(r.Context(), userID, ttl)
	if err != nil {
		h.Logger.Error("failed to create session", "user_id", userID, "error", err)
		response.InternalServerError(w, "Failed to create session")
		return
	}

	response.Created(w, map[string]interface{}{
		"token":      token,
		"expires_in": int(ttl.Seconds()),
	})
}

type RevokeSessionRequest struct {
	Token string `json:"token" validate:"required"`
}

// HandleRevokeSession invalidates a session token before its TTL.
func (h *SessionsHandler) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	var req RevokeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON")
		return
	}
	if err := h.Validate.Struct(&req); err != nil {
		response.ValidationError(w, err)
		return
	}

	if err := h.Sessions.Revoke(r.Context(), req.Token); err != nil {
		h.Logger.Error("failed to revoke session", "error", err)
		response.InternalServerError(w, "Failed to revoke session")
		return
	}

	response.NoContent(w)
}
