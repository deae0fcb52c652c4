package handlers

import (
	"context"

	"groupchat/internal/telemetry"
)

// Notifier pushes realtime events to connected clients.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, event string, payload any) error
	NotifyRoom(ctx context.Context, room, event string, payload any) error
}

type auditEmitter interface {
	Emit(ctx context.Context, rec telemetry.AuditRecord)
}

type tokenIssuer interface {
	Issue(userID, email string) (string, error)
}
