package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"groupchat/internal/models"
	"groupchat/internal/observability"
)

func (g *Gateway) handleRegister(ctx context.Context, c *Client, data json.RawMessage) error {
	var p models.RegisterPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.ID != "" && p.ID != c.UserID() {
		return fmt.Errorf("%w: got %q", ErrIdentityMismatch, p.ID)
	}
	_, err := g.presence.Upsert(ctx, c.UserID(), p.Name, p.Email)
	return err
}

func (g *Gateway) handleGetOnlineUsers(ctx context.Context, c *Client, _ json.RawMessage) error {
	entries, err := g.presence.List(ctx)
	if err != nil {
		return err
	}
	users := make([]models.PresencePayload, 0, len(entries))
	for _, e := range entries {
		users = append(users, models.PresencePayload{UserID: e.UserID, Name: e.Name, Email: e.Email, Online: true})
	}
	return g.hub.SendTo(c.ID(), models.EventOnlineUsers, users)
}

func (g *Gateway) handleJoinConversation(ctx context.Context, c *Client, data json.RawMessage) error {
	conversationID, err := conversationIDFrom(data)
	if err != nil {
		return err
	}
	if err := g.requireMember(ctx, conversationID, c.UserID()); err != nil {
		return err
	}
	g.hub.Join(c.ID(), conversationID)
	return nil
}

type sendMessageData struct {
	ConversationID  json.RawMessage `json:"conversationId"`
	Content         string          `json:"content"`
	ClientMessageID string          `json:"clientMessageId"`
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var in sendMessageData
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	conversationID, err := conversationIDFrom(in.ConversationID)
	if err != nil {
		return fmt.Errorf("%w: missing conversationId", ErrInvalidPayload)
	}
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("%w: missing content", ErrInvalidPayload)
	}

	ctx, span := otel.Tracer("groupchat/ws").Start(ctx, "ws.send_message")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	if err := g.requireMember(ctx, conversationID, c.UserID()); err != nil {
		return err
	}

	persistCtx, cancel := context.WithTimeout(ctx, g.messageTimeout)
	defer cancel()

	started := time.Now()
	msg, err := g.messages.CreateMessage(persistCtx, conversationID, c.UserID(), in.Content, in.ClientMessageID)
	observability.ObservePersist("ws", time.Since(started))
	if err != nil {
		observability.IncMessage("ws", "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist message")
		if sendErr := g.hub.SendTo(c.ID(), models.EventMessageFailed, models.MessageFailedPayload{
			ConversationID:  conversationID,
			ClientMessageID: in.ClientMessageID,
			Error:           "message could not be saved",
		}); sendErr != nil {
			log.Printf("send message_failed conn=%s: %v", c.ID(), sendErr)
		}
		return fmt.Errorf("persist message: %w", err)
	}
	observability.IncMessage("ws", "stored")

	msg.SenderName = g.senderName(persistCtx, msg)
	return g.hub.Broadcast(ctx, conversationID, "", models.EventNewMessage, msg.Payload())
}

func (g *Gateway) handleTyping(ctx context.Context, c *Client, data json.RawMessage) error {
	conversationID, err := conversationIDFrom(data)
	if err != nil {
		return err
	}
	if !g.joined(c.ID(), conversationID) {
		return fmt.Errorf("%w: %s", ErrNotJoined, conversationID)
	}
	name := ""
	if entry, ok, err := g.presence.Get(ctx, c.UserID()); err == nil && ok {
		name = entry.Name
	}
	return g.hub.Broadcast(ctx, conversationID, c.ID(), models.EventUserTyping, models.TypingPayload{
		UserID:         c.UserID(),
		UserName:       name,
		ConversationID: conversationID,
	})
}

func (g *Gateway) requireMember(ctx context.Context, conversationID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.messageTimeout)
	defer cancel()
	member, err := g.conversations.IsMember(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return fmt.Errorf("%w: %s", ErrNotMember, conversationID)
	}
	return nil
}

func (g *Gateway) joined(connID, room string) bool {
	for _, r := range g.hub.Rooms(connID) {
		if r == room {
			return true
		}
	}
	return false
}

// senderName resolves the display name from storage, then presence.
func (g *Gateway) senderName(ctx context.Context, msg models.Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	full, err := g.messages.GetMessage(ctx, msg.ID)
	if err == nil && full.SenderName != "" {
		return full.SenderName
	}
	if err != nil {
		log.Printf("resolve sender name message=%s: %v", msg.ID, err)
	}
	if entry, ok, err := g.presence.Get(ctx, msg.SenderID); err == nil && ok {
		return entry.Name
	}
	return ""
}
