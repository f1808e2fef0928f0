// internal/chat/handlers.go
// REST handlers for conversations and messages

package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/skillsphere/messaging-service/internal/common/utils"
	"github.com/skillsphere/messaging-service/internal/identity"
	"github.com/skillsphere/messaging-service/internal/presence"
)

// Handler exposes the conversation and message REST surface
type Handler struct {
	service  *Service
	presence *presence.Tracker
}

// NewHandler creates the chat handler
func NewHandler(service *Service, tracker *presence.Tracker) *Handler {
	return &Handler{service: service, presence: tracker}
}

// ListConversations handles GET /conversations?page=&size=
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	page, size := pagingParams(r)
	result, err := h.service.ListForUser(r.Context(), ident.InternalID, page, size)
	if err != nil {
		log.Printf("list conversations failed for user %d: %v", ident.InternalID, err)
		utils.ErrorResponse(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, result, http.StatusOK)
}

// GetConversation handles GET /conversations/{id}
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	conv, err := h.service.Get(r.Context(), convID, ident.InternalID)
	if err != nil {
		h.writeError(w, err, "Failed to get conversation")
		return
	}

	utils.SuccessResponse(w, conv, http.StatusOK)
}

// SearchConversations handles GET /conversations/search?q=
func (h *Handler) SearchConversations(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		utils.ErrorResponse(w, "Search query is required", http.StatusBadRequest)
		return
	}

	convs, err := h.service.Search(r.Context(), ident.InternalID, query)
	if err != nil {
		log.Printf("conversation search failed for user %d: %v", ident.InternalID, err)
		utils.ErrorResponse(w, "Failed to search conversations", http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, convs, http.StatusOK)
}

// CreateOrGetDirect handles POST /conversations/direct/{userId}
func (h *Handler) CreateOrGetDirect(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	otherID, err := pathID(r, "userId")
	if err != nil {
		utils.ErrorResponse(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	conv, err := h.service.CreateOrGetDirect(r.Context(), ident.InternalID, otherID)
	if err != nil {
		h.writeError(w, err, "Failed to create conversation")
		return
	}

	utils.SuccessResponse(w, conv, http.StatusOK)
}

// CreateOrGetSkillGroup handles POST /conversations/skill/{skillId}
func (h *Handler) CreateOrGetSkillGroup(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	skillRef, err := pathID(r, "skillId")
	if err != nil {
		utils.ErrorResponse(w, "Invalid skill ID", http.StatusBadRequest)
		return
	}

	conv, err := h.service.CreateOrGetSkillGroup(r.Context(), skillRef, ident.InternalID)
	if err != nil {
		h.writeError(w, err, "Failed to create skill group conversation")
		return
	}

	utils.SuccessResponse(w, conv, http.StatusOK)
}

// CreateGroup handles POST /conversations/group
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, err := h.service.CreateGroup(r.Context(), ident.InternalID, &req)
	if err != nil {
		h.writeError(w, err, "Failed to create group")
		return
	}

	utils.SuccessResponse(w, conv, http.StatusCreated)
}

// ArchiveConversation handles POST /conversations/{id}/archive
func (h *Handler) ArchiveConversation(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if err := h.service.Archive(r.Context(), convID, ident.InternalID); err != nil {
		h.writeError(w, err, "Failed to archive conversation")
		return
	}

	utils.MessageResponse(w, "Conversation archived", http.StatusOK)
}

// LeaveConversation handles POST /conversations/{id}/leave
func (h *Handler) LeaveConversation(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if err := h.service.Leave(r.Context(), convID, ident.InternalID); err != nil {
		h.writeError(w, err, "Failed to leave conversation")
		return
	}

	utils.MessageResponse(w, "Left conversation", http.StatusOK)
}

// SetNotifications handles PUT /conversations/{id}/notifications
func (h *Handler) SetNotifications(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.SetNotifications(r.Context(), convID, ident.InternalID, req.Enabled); err != nil {
		h.writeError(w, err, "Failed to update notification preference")
		return
	}

	utils.MessageResponse(w, "Notification preference updated", http.StatusOK)
}

// GetMessages handles GET /conversations/{id}/messages?page=&size=
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	page, size := pagingParams(r)
	result, err := h.service.Page(r.Context(), convID, ident.InternalID, page, size)
	if err != nil {
		h.writeError(w, err, "Failed to get messages")
		return
	}

	utils.SuccessResponse(w, result, http.StatusOK)
}

// SendMessage handles POST /messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.service.Send(r.Context(), ident.InternalID, ident.DisplayName, &req)
	if err != nil {
		h.writeError(w, err, "Failed to send message")
		return
	}

	utils.SuccessResponse(w, msg, http.StatusCreated)
}

// EditMessage handles PUT /messages/{id}
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	messageID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.service.Edit(r.Context(), messageID, ident.InternalID, req.Content)
	if err != nil {
		h.writeError(w, err, "Failed to edit message")
		return
	}

	utils.SuccessResponse(w, msg, http.StatusOK)
}

// DeleteMessage handles DELETE /messages/{id}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	messageID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	if err := h.service.Delete(r.Context(), messageID, ident.InternalID); err != nil {
		h.writeError(w, err, "Failed to delete message")
		return
	}

	utils.MessageResponse(w, "Message deleted", http.StatusOK)
}

// SearchMessages handles GET /conversations/{id}/messages/search?q=&page=&size=
func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		utils.ErrorResponse(w, "Search query is required", http.StatusBadRequest)
		return
	}

	page, size := pagingParams(r)
	result, err := h.service.SearchMessages(r.Context(), convID, ident.InternalID, query, page, size)
	if err != nil {
		h.writeError(w, err, "Failed to search messages")
		return
	}

	utils.SuccessResponse(w, result, http.StatusOK)
}

// MarkRead handles POST /conversations/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	count, err := h.service.MarkRead(r.Context(), convID, ident.InternalID)
	if err != nil {
		h.writeError(w, err, "Failed to mark conversation read")
		return
	}

	utils.SuccessResponse(w, map[string]interface{}{"marked_read": count}, http.StatusOK)
}

// UnreadCount handles GET /conversations/{id}/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	convID, err := pathID(r, "id")
	if err != nil {
		utils.ErrorResponse(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	count, err := h.service.UnreadCount(r.Context(), convID, ident.InternalID)
	if err != nil {
		h.writeError(w, err, "Failed to get unread count")
		return
	}

	utils.SuccessResponse(w, map[string]interface{}{"unread_count": count}, http.StatusOK)
}

// TotalUnreadCount handles GET /messages/unread-count
func (h *Handler) TotalUnreadCount(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	count, err := h.service.TotalUnreadCount(r.Context(), ident.InternalID)
	if err != nil {
		log.Printf("total unread count failed for user %d: %v", ident.InternalID, err)
		utils.ErrorResponse(w, "Failed to get unread count", http.StatusInternalServerError)
		return
	}

	utils.SuccessResponse(w, map[string]interface{}{"unread_count": count}, http.StatusOK)
}

// OnlineUsers handles GET /presence/online
func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.FromContext(r.Context()); !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	utils.SuccessResponse(w, map[string]interface{}{"online": h.presence.ListOnline()}, http.StatusOK)
}

// UserOnlineStatus handles GET /presence/{userId}
func (h *Handler) UserOnlineStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.FromContext(r.Context()); !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	userID, err := pathID(r, "userId")
	if err != nil {
		utils.ErrorResponse(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	utils.SuccessResponse(w, map[string]interface{}{
		"user_id": userID,
		"online":  h.presence.IsOnline(userID),
	}, http.StatusOK)
}

// writeError maps service errors to HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		utils.ErrorResponse(w, "Conversation not found", http.StatusNotFound)
	case errors.Is(err, ErrMessageNotFound):
		utils.ErrorResponse(w, "Message not found", http.StatusNotFound)
	case errors.Is(err, ErrNotParticipant):
		utils.ErrorResponse(w, "You are not a participant of this conversation", http.StatusForbidden)
	case errors.Is(err, ErrNotAuthorized):
		utils.ErrorResponse(w, "Not authorized", http.StatusForbidden)
	case errors.Is(err, ErrMessageDeleted):
		utils.ErrorResponse(w, "Message has been deleted", http.StatusForbidden)
	case errors.Is(err, ErrEditWindowExpired):
		utils.ErrorResponse(w, "Edit window has expired", http.StatusForbidden)
	case errors.Is(err, ErrSelfConversation):
		utils.ErrorResponse(w, "Cannot start a conversation with yourself", http.StatusBadRequest)
	default:
		log.Printf("chat handler error: %v", err)
		utils.ErrorResponse(w, fallback, http.StatusInternalServerError)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func pagingParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		page = 0
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 20
	}
	return page, size
}
