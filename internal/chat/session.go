package chat

import (
	"context"

	"github.com/kaiwa-app/kaiwa/internal/ai"
)

// SessionStore is the ephemeral, time-bounded cache behind the orchestrator:
// per-room setup plus the rolling dialogue history used to re-prompt the
// model. All entries for a room expire together after a fixed inactivity
// window measured from the most recent write.
//
// GetSetup returns ErrSetupNotFound for an absent or expired room, never a
// default. GetHistory returns an empty slice for an absent room.
type SessionStore interface {
	PutSetup(ctx context.Context, roomID string, setup Setup) error
	GetSetup(ctx context.Context, roomID string) (Setup, error)
	AppendHistory(ctx context.Context, roomID string, msg ai.Message) error
	GetHistory(ctx context.Context, roomID string) ([]ai.Message, error)
}
