package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"commune/internal/hub"
	"commune/internal/store"
	"commune/pkg/logger"
	"commune/pkg/response"
)

// NotificationsHandler is the surface the CRUD layer calls after it persists
// state: it saves the durable notification copy and hands delivery to the
// hub, fire-and-forget.
type NotificationsHandler struct {
	Hub      *hub.Hub
	Store    *store.Postgres
	Logger   *logger.Logger
	Validate *validator.Validate
}

func NewNotificationsHandler(h *hub.Hub, st *store.Postgres, log *logger.Logger, validate *validator.Validate) *NotificationsHandler {
	return &NotificationsHandler{
		Hub:      h,
		Store:    st,
		Logger:   log,
		Validate: validate,
	}
}

type NotificationRequest struct {
	Type      string                 `json:"type" validate:"required,max=64"`
	Title     string                 `json:"title" validate:"required,max=200"`
	Body      string                 `json:"body" validate:"max=2000"`
	ActionURL string                 `json:"action_url" validate:"omitempty,url"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func (req *NotificationRequest) toNotification() hub.Notification {
	return hub.Notification{
		Type:      req.Type,
		Title:     req.Title,
		Body:      req.Body,
		ActionURL: req.ActionURL,
		Metadata:  req.Metadata,
	}
}

// HandleNotifyUser persists and pushes a notification to one user's
// subscribed connections.
func (h *NotificationsHandler) HandleNotifyUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		response.BadRequest(w, "User ID required")
		return
	}

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON")
		return
	}
	if err := h.Validate.Struct(&req); err != nil {
		response.ValidationError(w, err)
		return
	}

	id, err := h.Store.SaveNotification(r.Context(), userID, "", req.toNotification())
	if err != nil {
		h.Logger.Error("failed to save notification", "user_id", userID, "error", err)
		response.InternalServerError(w, "Failed to save notification")
		return
	}

	h.Hub.SendNotificationToUser(userID, req.toNotification())

	response.Accepted(w, map[string]interface{}{
		"id":      id,
		"user_id": userID,
	})
}

// HandleNotifyCommunity persists and pushes a notification to every
// connected member of a community.
func (h *NotificationsHandler) HandleNotifyCommunity(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	if communityID == "" {
		response.BadRequest(w, "Community ID required")
		return
	}

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON")
		return
	}
	if err := h.Validate.Struct(&req); err != nil {
		response.ValidationError(w, err)
		return
	}

	id, err := h.Store.SaveNotification(r.Context(), "", communityID, req.toNotification())
	if err != nil {
		h.Logger.Error("failed to save notification", "community_id", communityID, "error", err)
		response.InternalServerError(w, "Failed to save notification")
		return
	}

	h.Hub.BroadcastNotificationToCommunity(communityID, req.toNotification())

	response.Accepted(w, map[string]interface{}{
		"id":           id,
		"community_id": communityID,
	})
}

// HandleGetOnlineUsers returns the presence snapshot of a community.
func (h *NotificationsHandler) HandleGetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	if communityID == "" {
		response.BadRequest(w, "Community ID required")
		return
	}

	online, err := h.Hub.OnlineUsers(r.Context(), communityID)
	if err != nil {
		h.Logger.Error("failed to resolve online users", "community_id", communityID, "error", err)
		response.InternalServerError(w, "Failed to resolve online users")
		return
	}

	response.JSON(w, map[string]interface{}{
		"community_id": communityID,
		"users":        online,
		"count":        len(online),
	})
}

// HandlePinMessage pins or unpins a persisted message and announces the
// change to the room.
func (h *NotificationsHandler) HandlePinMessage(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	messageID := chi.URLParam(r, "messageID")
	if communityID == "" || messageID == "" {
		response.BadRequest(w, "Community ID and message ID required")
		return
	}

	var req struct {
		Pinned bool `json:"pinned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON")
		return
	}

	if err := h.Hub.PinMessage(r.Context(), communityID, messageID, req.Pinned); err != nil {
		if err == hub.ErrMessageNotFound {
			response.NotFound(w, "Message not found")
			return
		}
		h.Logger.Error("failed to pin message", "message_id", messageID, "error", err)
		response.InternalServerError(w, "Failed to pin message")
		return
	}

	response.Success(w, "Message updated")
}

// HandleDeleteMessage soft-deletes a persisted message and announces the
// removal to the room.
func (h *NotificationsHandler) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	messageID := chi.URLParam(r, "messageID")
	if communityID == "" || messageID == "" {
		response.BadRequest(w, "Community ID and message ID required")
		return
	}

	if err := h.Hub.DeleteMessage(r.Context(), communityID, messageID); err != nil {
		if err == hub.ErrMessageNotFound {
			response.NotFound(w, "Message not found")
			return
		}
		h.Logger.Error("failed to delete message", "message_id", messageID, "error", err)
		response.InternalServerError(w, "Failed to delete message")
		return
	}

	response.NoContent(w)
}
