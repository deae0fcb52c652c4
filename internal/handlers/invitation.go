package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"groupchat/internal/models"
	"groupchat/internal/repositories"
	"groupchat/internal/telemetry"
)

// InvitationHandler serves pending invitations and responses to them.
type InvitationHandler struct {
	invitations repositories.InvitationRepository
	users       repositories.UserRepository
	notifier    Notifier
	audit       auditEmitter
	now         func() time.Time
}

// NewInvitationHandler constructs an InvitationHandler.
func NewInvitationHandler(invitations repositories.InvitationRepository, users repositories.UserRepository, notifier Notifier, audit auditEmitter) *InvitationHandler {
	return &InvitationHandler{
		invitations: invitations,
		users:       users,
		notifier:    notifier,
		audit:       audit,
		now:         time.Now,
	}
}

// ListPending handles GET /api/invitations/pending.
func (h *InvitationHandler) ListPending(c *gin.Context) {
	invs, err := h.invitations.ListPendingForUser(c.Request.Context(), c.GetString("userID"), h.now())
	if err != nil {
		log.Printf("list pending invitations failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch invitations"})
		return
	}
	c.JSON(http.StatusOK, invs)
}

// Respond handles POST /api/invitations/:id/respond.
func (h *InvitationHandler) Respond(c *gin.Context) {
	var req struct {
		Accept *bool `json:"accept" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accept is required"})
		return
	}

	ctx := c.Request.Context()
	userID := c.GetString("userID")

	inv, err := h.invitations.GetInvitation(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repositories.ErrInvitationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invitation not found"})
			return
		}
		log.Printf("load invitation=%s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to respond to invitation"})
		return
	}
	if inv.InviteeID != userID {
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "invitation.respond", Text: "not the invitee", ConversationID: inv.ConversationID})
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized to respond to this invitation"})
		return
	}
	if inv.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "invitation already " + inv.Status})
		return
	}
	if inv.ExpiredAt(h.now()) {
		if err := h.invitations.SetStatus(ctx, inv.ID, models.InvitationExpired); err != nil && !errors.Is(err, repositories.ErrInvitationNotPending) {
			log.Printf("expire invitation=%s: %v", inv.ID, err)
		}
		c.JSON(http.StatusGone, gin.H{"error": repositories.ErrInvitationExpired.Error()})
		return
	}

	status := models.InvitationDeclined
	if *req.Accept {
		status = models.InvitationAccepted
		err = h.invitations.Accept(ctx, inv)
	} else {
		err = h.invitations.SetStatus(ctx, inv.ID, models.InvitationDeclined)
	}
	if err != nil {
		if errors.Is(err, repositories.ErrInvitationNotPending) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Printf("respond invitation=%s: %v", inv.ID, err)
		emitAudit(c, h.audit, telemetry.AuditRecord{Level: telemetry.LevelError, Action: "invitation.respond", Text: "internal error", ConversationID: inv.ConversationID})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to respond to invitation"})
		return
	}

	userName := ""
	if user, err := h.users.GetUser(ctx, userID); err == nil {
		userName = user.Name
	}

	notice := models.NotificationPayload{
		Type:             models.NotificationInviteDeclined,
		ConversationID:   inv.ConversationID,
		ConversationName: inv.ConversationName,
		UserID:           userID,
		UserName:         userName,
	}
	if status == models.InvitationAccepted {
		notice.Type = models.NotificationInviteAccepted
		if err := h.notifier.NotifyRoom(ctx, inv.ConversationID, models.EventMemberAdded, models.MemberAddedPayload{
			ConversationID: inv.ConversationID,
			UserID:         userID,
			UserName:       userName,
		}); err != nil {
			log.Printf("notify member added conversation=%s: %v", inv.ConversationID, err)
		}
	}
	if err := h.notifier.NotifyUser(ctx, inv.InviterID, models.EventNotification, notice); err != nil {
		log.Printf("notify inviter user=%s: %v", inv.InviterID, err)
	}

	emitAudit(c, h.audit, telemetry.AuditRecord{Action: "invitation.respond", Text: "invitation " + status, ConversationID: inv.ConversationID})
	c.JSON(http.StatusOK, gin.H{"status": status})
}
