// internal/realtime/handler.go
// WebSocket upgrade and authentication-on-connect

package realtime

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/skillsphere/messaging-service/internal/chat"
	"github.com/skillsphere/messaging-service/internal/common/utils"
	"github.com/skillsphere/messaging-service/internal/identity"
	"github.com/skillsphere/messaging-service/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin allow-listing is enforced at the gateway
		return true
	},
}

type Handler struct {
	hub      *Hub
	service  *chat.Service
	verifier *identity.Verifier
	presence *presence.Tracker
}

func NewHandler(hub *Hub, service *chat.Service, verifier *identity.Verifier, tracker *presence.Tracker) *Handler {
	return &Handler{
		hub:      hub,
		service:  service,
		verifier: verifier,
		presence: tracker,
	}
}

// HandleWebSocket authenticates and upgrades a client connection. The
// credential is verified and the identity resolved before the upgrade: an
// unauthenticated connection never reaches application frames.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := identity.ExtractToken(r)
	if token == "" {
		utils.ErrorResponse(w, "Missing credential", http.StatusUnauthorized)
		return
	}

	id, err := h.verifier.Authenticate(r.Context(), token)
	if err != nil {
		utils.ErrorResponse(w, "Invalid credential", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := NewClient(h.hub, conn, uuid.New().String(), id, h.service, h.verifier, h.presence)
	client.Start()
}

// RegisterRoutes registers the WebSocket endpoint
func RegisterRoutes(router *mux.Router, handler *Handler) {
	router.HandleFunc("/ws", handler.HandleWebSocket).Methods("GET")
}
