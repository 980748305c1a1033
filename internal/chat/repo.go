package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kaiwa-app/kaiwa/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateRoom(ctx context.Context, room *Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *Repo) GetRoomByRoomID(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (r *Repo) MemberExists(ctx context.Context, memberID uint64) error {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", memberID).
		Count(&cnt).Error; err != nil {
		return err
	}
	if cnt == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// AppendHistory inserts one ledger record. The ledger is append-only; there
// are no update or delete paths.
func (r *Repo) AppendHistory(ctx context.Context, rec *HistoryRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// ListHistory returns a room's ledger in insertion order (oldest first).
func (r *Repo) ListHistory(ctx context.Context, roomID string) ([]HistoryRecord, error) {
	var recs []HistoryRecord
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
