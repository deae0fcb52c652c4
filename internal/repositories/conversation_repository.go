package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"groupchat/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, name string, creatorID string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	IsMember(ctx context.Context, conversationID string, userID string) (bool, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateConversation creates a group with the creator as its only member.
func (r *ConversationRepo) CreateConversation(ctx context.Context, name string, creatorID string) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (id, name, type, created_by) VALUES ($1, $2, $3, $4) RETURNING id, name, type, created_by, created_at`,
		uuid.NewString(), name, models.ConversationTypeGroup, creatorID).
		Scan(&conv.ID, &conv.Name, &conv.Type, &conv.CreatedBy, &conv.CreatedAt); err != nil {
		return models.Conversation{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)`, conv.ID, creatorID); err != nil {
		return models.Conversation{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	conv.Members = []string{creatorID}
	return conv, nil
}

// GetConversation fetches a conversation together with its member ids.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, name, type, created_by, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	members, err := r.listMembers(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	conv.Members = members
	return conv, nil
}

// ListConversationsForUser returns conversations that include the user, newest first.
func (r *ConversationRepo) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	convs := []models.Conversation{}
	err := r.db.SelectContext(ctx, &convs, `SELECT c.id, c.name, c.type, c.created_by, c.created_at FROM conversations c
        INNER JOIN conversation_members cm ON cm.conversation_id = c.id
        WHERE cm.user_id=$1 ORDER BY c.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		members, err := r.listMembers(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].Members = members
	}
	return convs, nil
}

// IsMember checks membership.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	if isMalformedID(err) {
		return false, nil
	}
	return exists, err
}

// DeleteConversation removes a conversation; messages, members and invitations cascade.
func (r *ConversationRepo) DeleteConversation(ctx context.Context, conversationID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID)
	if isMalformedID(err) {
		return ErrConversationNotFound
	}
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepo) listMembers(ctx context.Context, conversationID string) ([]string, error) {
	members := []string{}
	err := r.db.SelectContext(ctx, &members, `SELECT user_id FROM conversation_members WHERE conversation_id=$1 ORDER BY joined_at ASC`, conversationID)
	return members, err
}
