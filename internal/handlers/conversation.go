package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"groupchat/internal/models"
	"groupchat/internal/observability"
	"groupchat/internal/repositories"
	"groupchat/internal/telemetry"
)

const defaultConversationName = "New Group"

// ConversationHandler manages conversation, history and HTTP send endpoints.
type ConversationHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	invitations   repositories.InvitationRepository
	users         repositories.UserRepository
	notifier      Notifier
	audit         auditEmitter
	inviteTTL     time.Duration
	now           func() time.Time
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(conversations repositories.ConversationRepository, messages repositories.MessageRepository,
	invitations repositories.InvitationRepository, users repositories.UserRepository, notifier Notifier, audit auditEmitter, inviteTTL time.Duration) *ConversationHandler {
	if inviteTTL <= 0 {
		inviteTTL = 7 * 24 * time.Hour
	}
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		invitations:   invitations,
		users:         users,
		notifier:      notifier,
		audit:         audit,
		inviteTTL:     inviteTTL,
		now:           time.Now,
	}
}

type conversationView struct {
	models.Conversation
	Participants []models.UserRef `json:"participants"`
}

// ListConversations handles GET /api/conversations.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	convs, err := h.conversations.ListConversationsForUser(ctx, c.GetString("userID"))
	if err != nil {
		log.Printf("list conversations failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	names, err := h.userNames(ctx, convs)
	if err != nil {
		log.Printf("load participants failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	resp := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := models.ConversationSummary{
			Conversation:    conv,
			Participants:    participants(conv.Members, names),
			LastMessageTime: conv.CreatedAt,
		}

		last, err := h.messages.LastMessage(ctx, conv.ID)
		switch {
		case err == nil:
			content := last.Content
			summary.LastMessage = &content
			summary.LastMessageTime = last.CreatedAt
		case !errors.Is(err, repositories.ErrMessageNotFound):
			log.Printf("last message conversation=%s: %v", conv.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
			return
		}

		if summary.MessageCount, err = h.messages.CountMessages(ctx, conv.ID); err != nil {
			log.Printf("count messages conversation=%s: %v", conv.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
			return
		}
		resp = append(resp, summary)
	}

	c.JSON(http.StatusOK, resp)
}

// CreateConversation handles POST /api/conversations.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	userID := c.GetString("userID")
	ctx := c.Request.Context()

	var req struct {
		Name     string   `json:"name"`
		Invitees []string `json:"invitees"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "conversation.create", Text: "invalid request payload"})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultConversationName
	}

	conv, err := h.conversations.CreateConversation(ctx, name, userID)
	if err != nil {
		log.Printf("create conversation failed: %v", err)
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "conversation.create", Text: "internal error"})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}

	creator, err := h.users.GetUser(ctx, userID)
	if err != nil {
		log.Printf("load creator user=%s: %v", userID, err)
		creator = models.User{ID: userID}
	}

	invitations := h.invite(ctx, conv, creator, req.Invitees)

	emitAudit(c, h.audit, telemetry.AuditRecord{Action: "conversation.create", Text: fmt.Sprintf("conversation created with %d invitations", len(invitations)), ConversationID: conv.ID})
	c.JSON(http.StatusCreated, gin.H{
		"conversation": conversationView{
			Conversation: conv,
			Participants: []models.UserRef{{ID: creator.ID, Name: creator.Name}},
		},
		"invitations": invitations,
	})
}

func (h *ConversationHandler) invite(ctx context.Context, conv models.Conversation, inviter models.User, invitees []string) []models.Invitation {
	out := []models.Invitation{}
	seen := map[string]struct{}{}
	for _, inviteeID := range invitees {
		inviteeID = strings.TrimSpace(inviteeID)
		if inviteeID == "" || inviteeID == inviter.ID {
			continue
		}
		if _, dup := seen[inviteeID]; dup {
			continue
		}
		seen[inviteeID] = struct{}{}

		existing, err := h.invitations.FindPending(ctx, conv.ID, inviteeID)
		if err == nil {
			out = append(out, existing)
			continue
		}
		if !errors.Is(err, repositories.ErrInvitationNotFound) {
			log.Printf("find pending invitation conversation=%s invitee=%s: %v", conv.ID, inviteeID, err)
			continue
		}

		inv, err := h.invitations.CreateInvitation(ctx, conv.ID, inviter.ID, inviteeID, h.now().Add(h.inviteTTL))
		if err != nil {
			log.Printf("create invitation conversation=%s invitee=%s: %v", conv.ID, inviteeID, err)
			continue
		}
		inv.ConversationName = conv.Name
		inv.InviterName = inviter.Name
		out = append(out, inv)

		if err := h.notifier.NotifyUser(ctx, inviteeID, models.EventGroupInvite, models.InvitePayload{
			InvitationID:     inv.ID,
			ConversationID:   conv.ID,
			ConversationName: conv.Name,
			InviterName:      inviter.Name,
		}); err != nil {
			log.Printf("notify invite user=%s: %v", inviteeID, err)
		}
	}
	return out
}

// GetMessages handles GET /api/conversations/:id/messages.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conv, ok := h.loadForMember(c)
	if !ok {
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), conv.ID)
	if err != nil {
		log.Printf("list messages conversation=%s: %v", conv.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	resp := make([]models.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, m.Payload())
	}
	c.JSON(http.StatusOK, resp)
}

// PostMessage handles POST /api/conversations/:id/messages and broadcasts to the room.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content         string `json:"content"`
		ClientMessageID string `json:"clientMessageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "message.send", Text: "invalid request payload", ConversationID: c.Param("id")})
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing content"})
		return
	}

	conv, ok := h.loadForMember(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := c.GetString("userID")

	started := time.Now()
	msg, err := h.messages.CreateMessage(ctx, conv.ID, userID, req.Content, req.ClientMessageID)
	observability.ObservePersist("http", time.Since(started))
	if err != nil {
		observability.IncMessage("http", "failed")
		log.Printf("store message conversation=%s: %v", conv.ID, err)
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "message.send", Text: "internal error", ConversationID: conv.ID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}
	observability.IncMessage("http", "stored")

	if full, err := h.messages.GetMessage(ctx, msg.ID); err == nil {
		msg.SenderName = full.SenderName
	} else if user, err := h.users.GetUser(ctx, userID); err == nil {
		msg.SenderName = user.Name
	}

	payload := msg.Payload()
	if err := h.notifier.NotifyRoom(ctx, conv.ID, models.EventNewMessage, payload); err != nil {
		log.Printf("broadcast message conversation=%s: %v", conv.ID, err)
	}

	emitAudit(c, h.audit, telemetry.AuditRecord{Action: "message.send", Text: "message sent", ConversationID: conv.ID})
	c.JSON(http.StatusCreated, payload)
}

// DeleteConversation handles DELETE /api/conversations/:id.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	conv, ok := h.loadForMember(c)
	if !ok {
		return
	}

	if err := h.conversations.DeleteConversation(c.Request.Context(), conv.ID); err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		log.Printf("delete conversation=%s: %v", conv.ID, err)
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "conversation.delete", Text: "internal error", ConversationID: conv.ID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
		return
	}

	emitAudit(c, h.audit, telemetry.AuditRecord{Action: "conversation.delete", Text: "conversation deleted", ConversationID: conv.ID})
	c.JSON(http.StatusOK, gin.H{"message": "conversation deleted"})
}

// loadForMember resolves :id and checks the caller belongs to it, writing 404/403/500 otherwise.
func (h *ConversationHandler) loadForMember(c *gin.Context) (models.Conversation, bool) {
	conv, err := h.conversations.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return models.Conversation{}, false
		}
		log.Printf("load conversation=%s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return models.Conversation{}, false
	}
	if !contains(conv.Members, c.GetString("userID")) {
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "conversation.access", Text: "not a member", ConversationID: conv.ID})
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this conversation"})
		return models.Conversation{}, false
	}
	return conv, true
}

func (h *ConversationHandler) userNames(ctx context.Context, convs []models.Conversation) (map[string]string, error) {
	ids := []string{}
	seen := map[string]struct{}{}
	for _, conv := range convs {
		for _, id := range conv.Members {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	names := map[string]string{}
	if len(ids) == 0 {
		return names, nil
	}
	users, err := h.users.ListUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

func participants(members []string, names map[string]string) []models.UserRef {
	out := make([]models.UserRef, 0, len(members))
	for _, id := range members {
		out = append(out, models.UserRef{ID: id, Name: names[id]})
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
