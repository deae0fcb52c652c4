package models

import "time"

const (
	ConversationTypeGroup  = "group"
	ConversationTypeDirect = "direct"
)

// Conversation is a group chat. Members are loaded separately.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Type      string    `db:"type" json:"type"`
	CreatedBy string    `db:"created_by" json:"createdBy"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	Members   []string  `db:"-" json:"members"`
}

// ConversationSummary is the list view returned to clients.
type ConversationSummary struct {
	Conversation
	Participants    []UserRef `json:"participants"`
	LastMessage     *string   `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
	MessageCount    int       `json:"messageCount"`
}
