// internal/realtime/client.go

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skillsphere/messaging-service/internal/chat"
	"github.com/skillsphere/messaging-service/internal/common/utils"
	"github.com/skillsphere/messaging-service/internal/identity"
	"github.com/skillsphere/messaging-service/internal/presence"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// Inbound frame types
const (
	frameConnect     = "connect"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameMessage     = "message"
	frameTyping      = "typing"
	frameStopTyping  = "stop_typing"
	frameRead        = "read"
	framePing        = "ping"
)

// Transport-level outbound event types, on top of the chat vocabulary
const (
	eventConnected chat.EventType = "connected"
	eventError     chat.EventType = "error"
)

// Frame is the envelope for inbound client frames
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type connectPayload struct {
	Token string `json:"token"`
}

type channelPayload struct {
	Channel string `json:"channel"`
}

type conversationPayload struct {
	ConversationID int64 `json:"conversation_id"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client is one live WebSocket session. The caller identity is resolved at
// upgrade time and attached for the connection's whole life.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	service  *chat.Service
	verifier *identity.Verifier
	presence *presence.Tracker

	sessionID string
	identity  *identity.Identity

	// The messaging sub-protocol requires a connect frame that re-carries
	// the credential before any application frame is accepted
	authenticated bool
}

func NewClient(hub *Hub, conn *websocket.Conn, sessionID string, id *identity.Identity, service *chat.Service, verifier *identity.Verifier, tracker *presence.Tracker) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		service:   service,
		verifier:  verifier,
		presence:  tracker,
		sessionID: sessionID,
		identity:  id,
	}
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		// Guaranteed cleanup: the presence session is unregistered even on
		// abnormal termination, before the connection context is discarded
		c.presence.UnregisterSession(c.sessionID)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.authenticated {
			c.presence.Heartbeat(c.identity.InternalID, c.sessionID)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for user %d: %v", c.identity.InternalID, err)
			}
			break
		}

		// Frames are processed inline so operations from one session keep
		// their arrival order
		if !c.processFrame(message) {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processFrame handles one inbound frame; returning false ends the
// connection
func (c *Client) processFrame(data []byte) bool {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError("bad_frame", "malformed frame")
		return true
	}

	if !c.authenticated && frame.Type != frameConnect {
		// Aborting the logical connection with an authentication error,
		// not a silent drop
		c.sendError("unauthenticated", "connect frame required before application frames")
		return false
	}

	switch frame.Type {
	case frameConnect:
		return c.handleConnect(frame.Data)

	case frameSubscribe:
		c.handleSubscribe(frame.Data, true)

	case frameUnsubscribe:
		c.handleSubscribe(frame.Data, false)

	case frameMessage:
		c.handleSendMessage(frame.Data)

	case frameTyping:
		c.handleTyping(frame.Data, true)

	case frameStopTyping:
		c.handleTyping(frame.Data, false)

	case frameRead:
		c.handleMarkRead(frame.Data)

	case framePing:
		c.presence.Heartbeat(c.identity.InternalID, c.sessionID)

	default:
		c.sendError("unknown_frame", "unknown frame type: "+frame.Type)
	}

	return true
}

// handleConnect validates the credential carried on the connect control
// frame redundantly with the upgrade handshake
func (c *Client) handleConnect(data []byte) bool {
	var payload connectPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Token == "" {
		c.sendError("unauthenticated", "missing credential on connect frame")
		return false
	}

	claims, err := c.verifier.VerifyToken(payload.Token)
	if err != nil || claims.Subject != c.identity.ExternalSubject {
		c.sendError("unauthenticated", "invalid credential on connect frame")
		return false
	}

	c.authenticated = true
	c.presence.RegisterSession(c.identity.InternalID, c.sessionID)

	select {
	case c.hub.register <- c:
	case <-c.hub.ctx.Done():
		return false
	}

	c.sendEvent(eventConnected, map[string]interface{}{
		"user_id":    c.identity.InternalID,
		"session_id": c.sessionID,
	})
	return true
}

func (c *Client) handleSubscribe(data []byte, subscribe bool) {
	var payload channelPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_frame", "malformed subscribe frame")
		return
	}

	if payload.Channel == "presence" {
		if subscribe {
			c.hub.SubscribePresence(c)
		} else {
			c.hub.UnsubscribePresence(c)
		}
		return
	}

	convID, ok := parseConversationChannel(payload.Channel)
	if !ok {
		c.sendError("bad_frame", "unknown channel: "+payload.Channel)
		return
	}

	if subscribe {
		if err := c.service.CanAccess(context.Background(), convID, c.identity.InternalID); err != nil {
			c.sendError("forbidden", "cannot subscribe to this conversation")
			return
		}
		c.hub.Subscribe(c, convID)
	} else {
		c.hub.Unsubscribe(c, convID)
	}
}

func (c *Client) handleSendMessage(data []byte) {
	var req chat.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("bad_frame", "malformed message frame")
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		c.sendError("invalid", err.Error())
		return
	}

	// The store operation runs on its own context: a disconnect mid-send
	// must not leave partially-applied state
	_, err := c.service.Send(context.Background(), c.identity.InternalID, c.identity.DisplayName, &req)
	if err != nil {
		c.sendError(errorCode(err), err.Error())
	}
}

func (c *Client) handleTyping(data []byte, typing bool) {
	var payload conversationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_frame", "malformed typing frame")
		return
	}

	err := c.service.BroadcastTyping(context.Background(), payload.ConversationID, c.identity.InternalID, c.identity.DisplayName, typing)
	if err != nil {
		c.sendError(errorCode(err), err.Error())
	}
}

func (c *Client) handleMarkRead(data []byte) {
	var payload conversationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_frame", "malformed read frame")
		return
	}

	_, err := c.service.MarkRead(context.Background(), payload.ConversationID, c.identity.InternalID)
	if err != nil {
		c.sendError(errorCode(err), err.Error())
	}
}

func (c *Client) sendEvent(eventType chat.EventType, data interface{}) {
	event := chat.NewEvent(eventType, 0, data)
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling %s event: %v", eventType, err)
		return
	}

	select {
	case c.send <- payload:
	default:
		// A full queue here means the same stalled consumer fanOut evicts;
		// direct replies get the same treatment instead of vanishing
		log.Printf("Send queue full for user %d (session %s), evicting", c.identity.InternalID, c.sessionID)
		go func() {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.ctx.Done():
			}
		}()
	}
}

func (c *Client) sendError(code, message string) {
	c.sendEvent(eventError, wsError{Code: code, Message: message})
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func parseConversationChannel(channel string) (int64, bool) {
	const prefix = "conversation:"
	if !strings.HasPrefix(channel, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(channel, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound), errors.Is(err, chat.ErrMessageNotFound):
		return "not_found"
	case errors.Is(err, chat.ErrNotParticipant), errors.Is(err, chat.ErrNotAuthorized), errors.Is(err, chat.ErrMessageDeleted):
		return "forbidden"
	case errors.Is(err, chat.ErrEditWindowExpired):
		return "edit_window_expired"
	default:
		return "internal"
	}
}
