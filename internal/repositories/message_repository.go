package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"groupchat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `m.id, m.conversation_id, m.sender_id, COALESCE(u.name, '') AS sender_name, m.content, m.client_message_id, m.created_at`

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID string, senderID string, content string, clientMessageID string) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	LastMessage(ctx context.Context, conversationID string) (models.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message. SenderName is left empty; use GetMessage to resolve it.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID string, senderID string, content string, clientMessageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, content, client_message_id) VALUES ($1, $2, $3, $4, $5)
        RETURNING id, conversation_id, sender_id, content, client_message_id, created_at`,
		uuid.NewString(), conversationID, senderID, content, clientMessageID).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.ClientMessageID, &msg.CreatedAt)
	return msg, err
}

// GetMessage retrieves a single message with the sender name populated.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages m LEFT JOIN users u ON u.id = m.sender_id WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns a conversation's history in creation order.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages m LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.conversation_id=$1 ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	return msgs, err
}

// LastMessage returns the newest message of a conversation.
func (r *MessageRepo) LastMessage(ctx context.Context, conversationID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages m LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.conversation_id=$1 ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// CountMessages counts messages in a conversation.
func (r *MessageRepo) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1`, conversationID)
	return count, err
}
