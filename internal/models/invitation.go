package models

import "time"

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationExpired  = "expired"
)

// Invitation asks a user to join a group conversation.
type Invitation struct {
	ID               string    `db:"id" json:"id"`
	ConversationID   string    `db:"conversation_id" json:"conversationId"`
	ConversationName string    `db:"conversation_name" json:"conversationName"`
	InviterID        string    `db:"inviter_id" json:"inviterId"`
	InviterName      string    `db:"inviter_name" json:"inviterName"`
	InviteeID        string    `db:"invitee_id" json:"inviteeId"`
	Status           string    `db:"status" json:"status"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt        time.Time `db:"expires_at" json:"expiresAt"`
}

// Terminal reports whether no further status transition is allowed.
func (i Invitation) Terminal() bool {
	return i.Status == InvitationAccepted || i.Status == InvitationDeclined || i.Status == InvitationExpired
}

// ExpiredAt reports whether a pending invitation has passed its expiry.
func (i Invitation) ExpiredAt(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
