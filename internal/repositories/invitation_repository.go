package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"groupchat/internal/models"
)

var (
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrInvitationNotPending = errors.New("invitation is not pending")
	ErrInvitationExpired    = errors.New("invitation has expired")
)

const invitationSelect = `SELECT i.id, i.conversation_id, COALESCE(c.name, '') AS conversation_name,
        i.inviter_id, COALESCE(u.name, '') AS inviter_name, i.invitee_id, i.status, i.created_at, i.expires_at
        FROM group_invitations i
        LEFT JOIN conversations c ON c.id = i.conversation_id
        LEFT JOIN users u ON u.id = i.inviter_id`

// InvitationRepository abstracts group invitation persistence.
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, conversationID, inviterID, inviteeID string, expiresAt time.Time) (models.Invitation, error)
	FindPending(ctx context.Context, conversationID, inviteeID string) (models.Invitation, error)
	GetInvitation(ctx context.Context, invitationID string) (models.Invitation, error)
	ListPendingForUser(ctx context.Context, userID string, now time.Time) ([]models.Invitation, error)
	SetStatus(ctx context.Context, invitationID string, status string) error
	Accept(ctx context.Context, invitation models.Invitation) error
}

// InvitationRepo is a sqlx implementation of InvitationRepository.
type InvitationRepo struct {
	db *sqlx.DB
}

// NewInvitationRepo constructs an InvitationRepo.
func NewInvitationRepo(db *sqlx.DB) *InvitationRepo {
	return &InvitationRepo{db: db}
}

// CreateInvitation stores a pending invitation.
func (r *InvitationRepo) CreateInvitation(ctx context.Context, conversationID, inviterID, inviteeID string, expiresAt time.Time) (models.Invitation, error) {
	var inv models.Invitation
	err := r.db.QueryRowxContext(ctx, `INSERT INTO group_invitations (id, conversation_id, inviter_id, invitee_id, status, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, conversation_id, inviter_id, invitee_id, status, created_at, expires_at`,
		uuid.NewString(), conversationID, inviterID, inviteeID, models.InvitationPending, expiresAt).
		Scan(&inv.ID, &inv.ConversationID, &inv.InviterID, &inv.InviteeID, &inv.Status, &inv.CreatedAt, &inv.ExpiresAt)
	return inv, err
}

// FindPending returns the pending invitation for a user into a conversation.
func (r *InvitationRepo) FindPending(ctx context.Context, conversationID, inviteeID string) (models.Invitation, error) {
	var inv models.Invitation
	err := r.db.GetContext(ctx, &inv, invitationSelect+` WHERE i.conversation_id=$1 AND i.invitee_id=$2 AND i.status=$3 LIMIT 1`,
		conversationID, inviteeID, models.InvitationPending)
	if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
		return models.Invitation{}, ErrInvitationNotFound
	}
	return inv, err
}

// GetInvitation fetches an invitation with conversation and inviter names.
func (r *InvitationRepo) GetInvitation(ctx context.Context, invitationID string) (models.Invitation, error) {
	var inv models.Invitation
	err := r.db.GetContext(ctx, &inv, invitationSelect+` WHERE i.id=$1`, invitationID)
	if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
		return models.Invitation{}, ErrInvitationNotFound
	}
	return inv, err
}

// ListPendingForUser returns pending invitations that have not expired at now.
func (r *InvitationRepo) ListPendingForUser(ctx context.Context, userID string, now time.Time) ([]models.Invitation, error) {
	invs := []models.Invitation{}
	err := r.db.SelectContext(ctx, &invs, invitationSelect+` WHERE i.invitee_id=$1 AND i.status=$2 AND i.expires_at > $3 ORDER BY i.created_at ASC`,
		userID, models.InvitationPending, now)
	return invs, err
}

// SetStatus moves a pending invitation to status. Terminal invitations yield ErrInvitationNotPending.
func (r *InvitationRepo) SetStatus(ctx context.Context, invitationID string, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE group_invitations SET status=$1 WHERE id=$2 AND status=$3`, status, invitationID, models.InvitationPending)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrInvitationNotPending
	}
	return nil
}

// Accept marks the invitation accepted and adds the invitee as a member atomically.
func (r *InvitationRepo) Accept(ctx context.Context, invitation models.Invitation) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE group_invitations SET status=$1 WHERE id=$2 AND status=$3`, models.InvitationAccepted, invitation.ID, models.InvitationPending)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		err = ErrInvitationNotPending
		return err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
        ON CONFLICT (conversation_id, user_id) DO NOTHING`, invitation.ConversationID, invitation.InviteeID); err != nil {
		return err
	}

	err = tx.Commit()
	return err
}
