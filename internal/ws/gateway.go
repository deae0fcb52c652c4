package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"groupchat/internal/auth"
	"groupchat/internal/models"
	"groupchat/internal/observability"
	"groupchat/internal/presence"
	"groupchat/internal/repositories"
)

var (
	ErrInvalidPayload   = errors.New("invalid event payload")
	ErrNotMember        = errors.New("user is not a member of the conversation")
	ErrIdentityMismatch = errors.New("register id does not match connection identity")
	ErrNotJoined        = errors.New("connection has not joined the room")
)

const (
	wsRoutingKey          = "ws_events.gateway"
	defaultMessageTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type eventHandler func(ctx context.Context, c *Client, data json.RawMessage) error

// Gateway authenticates websocket handshakes and dispatches realtime events.
type Gateway struct {
	hub            *Hub
	verifier       auth.Verifier
	presence       presence.Registry
	users          repositories.UserRepository
	conversations  repositories.ConversationRepository
	messages       repositories.MessageRepository
	messageTimeout time.Duration
	handlers       map[string]eventHandler
}

// NewGateway constructs a Gateway. A zero messageTimeout falls back to 5s.
func NewGateway(hub *Hub, verifier auth.Verifier, registry presence.Registry, users repositories.UserRepository,
	conversations repositories.ConversationRepository, messages repositories.MessageRepository, messageTimeout time.Duration) *Gateway {
	if messageTimeout <= 0 {
		messageTimeout = defaultMessageTimeout
	}
	g := &Gateway{
		hub:            hub,
		verifier:       verifier,
		presence:       registry,
		users:          users,
		conversations:  conversations,
		messages:       messages,
		messageTimeout: messageTimeout,
	}
	g.handlers = map[string]eventHandler{
		models.EventRegister:         g.handleRegister,
		models.EventGetOnlineUsers:   g.handleGetOnlineUsers,
		models.EventJoinConversation: g.handleJoinConversation,
		models.EventSendMessage:      g.handleSendMessage,
		models.EventTyping:           g.handleTyping,
	}
	return g
}

// Handle verifies the handshake token and upgrades the connection.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("groupchat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	userID, err := g.verifier.Verify(tokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed user=%s: %v", userID, err)
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		Identity:    observability.IdentityFromRequest(c.Request, userID),
		RequestID:   c.GetString(observability.RequestIDKey),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)

	// the request context is cancelled once the connection is hijacked and Handle returns
	connCtx := context.WithoutCancel(ctx)
	g.connect(connCtx, client)

	go client.writePump()
	go g.serve(connCtx, client)
}

func (g *Gateway) serve(ctx context.Context, c *Client) {
	err := c.readPump(func(frame []byte) {
		g.dispatch(ctx, c, frame)
	})
	reason := ""
	if err != nil {
		reason = err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			observability.IncWSEvent("ws_error")
			g.publishLifecycle(ctx, c.info, "ws_error", reason)
		}
	}
	g.disconnect(ctx, c, reason)
}

func (g *Gateway) connect(ctx context.Context, c *Client) {
	userID := c.UserID()
	g.hub.Register(c)
	g.hub.Join(c.ID(), PersonalRoom(userID))

	entry, first, err := g.presence.Connect(ctx, userID)
	if err != nil {
		log.Printf("presence connect user=%s failed: %v", userID, err)
		entry = presence.Entry{UserID: userID, Online: true}
	}
	if entry.Name == "" && g.users != nil {
		if user, err := g.users.GetUser(ctx, userID); err == nil {
			if updated, err := g.presence.Upsert(ctx, userID, user.Name, user.Email); err == nil {
				entry = updated
			}
		} else {
			log.Printf("load user=%s for presence failed: %v", userID, err)
		}
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	g.publishLifecycle(ctx, c.info, "ws_connect", "")

	if first {
		observability.IncPresenceOnline()
		if err := g.hub.BroadcastAll(ctx, models.EventUserConnected, models.PresencePayload{
			UserID: userID,
			Name:   entry.Name,
			Email:  entry.Email,
			Online: true,
		}); err != nil {
			log.Printf("broadcast user_connected failed: %v", err)
		}
	}
}

func (g *Gateway) disconnect(ctx context.Context, c *Client, reason string) {
	defer c.release()
	userID := c.UserID()
	g.hub.Unregister(c)

	_, last, err := g.presence.Remove(ctx, userID)
	if err != nil {
		log.Printf("presence remove user=%s failed: %v", userID, err)
	}

	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	g.publishLifecycle(ctx, c.info, "ws_disconnect", reason)

	if last {
		observability.DecPresenceOnline()
		if err := g.hub.BroadcastAll(ctx, models.EventUserDisconnected, models.DisconnectedPayload{UserID: userID, Online: false}); err != nil {
			log.Printf("broadcast user_disconnected failed: %v", err)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, frame []byte) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		log.Printf("ws malformed frame %s", c.info)
		return
	}
	handler, ok := g.handlers[env.Event]
	if !ok {
		log.Printf("ws unknown event=%q user=%s", env.Event, c.UserID())
		return
	}
	observability.IncWSEvent(env.Event)
	if err := handler(ctx, c, env.Data); err != nil {
		log.Printf("ws event=%s %s dropped: %v", env.Event, c.info, err)
	}
}

func (g *Gateway) publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, wsRoutingKey,
		observability.WSEvent(event, info.ConnID, info.Identity, info.ConnectedAt, reason),
		observability.BuildHeaders(info.RequestID, info.TraceID))
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, _ := auth.BearerToken(header)
		return token
	}
	return r.URL.Query().Get("token")
}
