package ws

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

func newConnID() string {
	return uuid.NewString()
}

// PersonalRoom is the room every connection of userID joins at handshake.
func PersonalRoom(userID string) string {
	return "user:" + userID
}

// conversationIDFrom accepts "id", 42 or {"conversationId": ...} and returns the id as a string.
func conversationIDFrom(data json.RawMessage) (string, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return "", ErrInvalidPayload
	}
	if raw[0] == '{' {
		var obj struct {
			ConversationID json.RawMessage `json:"conversationId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil || len(obj.ConversationID) == 0 || obj.ConversationID[0] == '{' {
			return "", ErrInvalidPayload
		}
		return conversationIDFrom(obj.ConversationID)
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", ErrInvalidPayload
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return n.String(), nil
	}
	return "", ErrInvalidPayload
}
