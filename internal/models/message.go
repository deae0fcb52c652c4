package models

import "time"

// Message is a persisted conversation message.
type Message struct {
	ID              string    `db:"id" json:"id"`
	ConversationID  string    `db:"conversation_id" json:"conversationId"`
	SenderID        string    `db:"sender_id" json:"senderId"`
	SenderName      string    `db:"sender_name" json:"senderName"`
	Content         string    `db:"content" json:"content"`
	ClientMessageID string    `db:"client_message_id" json:"clientMessageId,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"timestamp"`
}

// TimestampLayout is the ISO-8601 layout used on the realtime channel.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Payload converts a stored message into its new_message body.
func (m Message) Payload() MessagePayload {
	return MessagePayload{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		SenderName:      m.SenderName,
		Content:         m.Content,
		Timestamp:       m.CreatedAt.UTC().Format(TimestampLayout),
		ClientMessageID: m.ClientMessageID,
	}
}
