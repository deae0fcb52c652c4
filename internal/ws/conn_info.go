package ws

import (
	"time"

	"groupchat/internal/observability"
)

// ConnInfo is fixed at handshake and never changes for the life of a connection.
type ConnInfo struct {
	ConnID      string
	Identity    observability.WSIdentity
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) String() string {
	return "conn=" + i.ConnID + " user=" + i.Identity.UserID
}
