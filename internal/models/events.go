package models

import "encoding/json"

// Realtime event names.
const (
	EventRegister         = "register"
	EventGetOnlineUsers   = "get_online_users"
	EventOnlineUsers      = "online_users"
	EventJoinConversation = "join_conversation"
	EventSendMessage      = "send_message"
	EventNewMessage       = "new_message"
	EventMessageFailed    = "message_failed"
	EventTyping           = "typing"
	EventUserTyping       = "user_typing"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventGroupInvite      = "group:invite"
	EventMemberAdded      = "group:memberAdded"
	EventNotification     = "notification"
)

// Notification types.
const (
	NotificationInviteAccepted = "inviteAccepted"
	NotificationInviteDeclined = "inviteDeclined"
)

// Envelope is a single frame on the realtime channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// RegisterPayload updates cached display info for a user.
type RegisterPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// SendMessagePayload is the inbound send_message body.
type SendMessagePayload struct {
	ConversationID  string `json:"conversationId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// MessagePayload is the canonical new_message body.
type MessagePayload struct {
	ID              string `json:"id"`
	ConversationID  string `json:"conversationId"`
	SenderID        string `json:"senderId"`
	SenderName      string `json:"senderName"`
	Content         string `json:"content"`
	Timestamp       string `json:"timestamp"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// MessageFailedPayload tells a sender its message was not stored.
type MessageFailedPayload struct {
	ConversationID  string `json:"conversationId"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	Error           string `json:"error"`
}

// TypingPayload is the outbound user_typing body.
type TypingPayload struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	ConversationID string `json:"conversationId"`
}

// PresencePayload is used for online_users entries and user_connected.
type PresencePayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Online bool   `json:"online"`
}

// DisconnectedPayload is the user_disconnected body.
type DisconnectedPayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// InvitePayload is pushed to an invitee's personal room.
type InvitePayload struct {
	InvitationID     string `json:"invitationId"`
	ConversationID   string `json:"conversationId"`
	ConversationName string `json:"conversationName"`
	InviterName      string `json:"inviterName"`
}

// MemberAddedPayload is pushed to a conversation room on accept.
type MemberAddedPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

// NotificationPayload is a targeted notice to a single user.
type NotificationPayload struct {
	Type             string `json:"type"`
	ConversationID   string `json:"conversationId,omitempty"`
	ConversationName string `json:"conversationName,omitempty"`
	UserID           string `json:"userId,omitempty"`
	UserName         string `json:"userName,omitempty"`
	Message          string `json:"message,omitempty"`
}
