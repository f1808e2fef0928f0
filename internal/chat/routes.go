// internal/chat/routes.go

package chat

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the chat endpoints on the given subrouter
func (h *Handler) RegisterRoutes(router *mux.Router) {
	// Conversations
	router.HandleFunc("/conversations", h.ListConversations).Methods("GET")
	router.HandleFunc("/conversations/search", h.SearchConversations).Methods("GET")
	router.HandleFunc("/conversations/direct/{userId:[0-9]+}", h.CreateOrGetDirect).Methods("POST")
	router.HandleFunc("/conversations/skill/{skillId:[0-9]+}", h.CreateOrGetSkillGroup).Methods("POST")
	router.HandleFunc("/conversations/group", h.CreateGroup).Methods("POST")
	router.HandleFunc("/conversations/{id:[0-9]+}", h.GetConversation).Methods("GET")
	router.HandleFunc("/conversations/{id:[0-9]+}/archive", h.ArchiveConversation).Methods("POST")
	router.HandleFunc("/conversations/{id:[0-9]+}/leave", h.LeaveConversation).Methods("POST")
	router.HandleFunc("/conversations/{id:[0-9]+}/notifications", h.SetNotifications).Methods("PUT")

	// Messages
	router.HandleFunc("/conversations/{id:[0-9]+}/messages", h.GetMessages).Methods("GET")
	router.HandleFunc("/conversations/{id:[0-9]+}/messages/search", h.SearchMessages).Methods("GET")
	router.HandleFunc("/conversations/{id:[0-9]+}/read", h.MarkRead).Methods("POST")
	router.HandleFunc("/conversations/{id:[0-9]+}/unread-count", h.UnreadCount).Methods("GET")
	router.HandleFunc("/messages", h.SendMessage).Methods("POST")
	router.HandleFunc("/messages/unread-count", h.TotalUnreadCount).Methods("GET")
	router.HandleFunc("/messages/{id:[0-9]+}", h.EditMessage).Methods("PUT")
	router.HandleFunc("/messages/{id:[0-9]+}", h.DeleteMessage).Methods("DELETE")

	// Presence
	router.HandleFunc("/presence/online", h.OnlineUsers).Methods("GET")
	router.HandleFunc("/presence/{userId:[0-9]+}", h.UserOnlineStatus).Methods("GET")
}
