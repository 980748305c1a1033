package chat

import (
	"context"
	"time"
)

// Sender identifies who a persisted or broadcast message came from.
type Sender string

const (
	SenderUser           Sender = "USER"
	SenderBot            Sender = "BOT"
	SenderSuggestedReply Sender = "SUGGESTED_REPLY"
)

type Room struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	RoomID    string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"room_id"`
	MemberID  uint64    `gorm:"index;not null" json:"member_id"`
	Category  Category  `gorm:"type:varchar(32);not null" json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

func (Room) TableName() string { return "chat_rooms" }

// HistoryRecord is the durable, append-only ledger row. Records are never
// updated or deleted; the ledger outlives the session cache.
type HistoryRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    string    `gorm:"type:varchar(26);not null;index:idx_chat_histories_room_id" json:"room_id"`
	Sender    Sender    `gorm:"type:varchar(16);not null" json:"sender"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (HistoryRecord) TableName() string { return "chat_histories" }

// TurnEvent is the payload broadcast on a room's topic.
type TurnEvent struct {
	Sender     Sender `json:"sender"`
	Source     string `json:"source_text"`
	Translated string `json:"translated_text"`
}

// Publisher fans a turn event out to everyone connected to a room's topic.
// Delivery is at-most-once from the caller's perspective.
type Publisher interface {
	Publish(ctx context.Context, roomID string, event TurnEvent) error
}
