package ports

import (
	"context"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
)

// RecordUpdate carries the user-editable fields of a history record.
type RecordUpdate struct {
	Comment *string
	Rating  *int
}

// GuestHistory is the browser-profile-owned store: capped, dedup-guarded,
// plus a single recoverable slot for a reading awaiting account attachment.
type GuestHistory interface {
	Append(ctx context.Context, deviceID string, rec domain.HistoryRecord) (stored bool, err error)
	List(ctx context.Context, deviceID string) ([]domain.HistoryRecord, error)
	Update(ctx context.Context, deviceID string, id int64, upd RecordUpdate) error
	MarkViewed(ctx context.Context, deviceID string, id int64) error
	Delete(ctx context.Context, deviceID string, id int64) error

	StashGuestReading(ctx context.Context, deviceID string, rec domain.HistoryRecord, raw *domain.Synthesis) error
	TakeGuestReading(ctx context.Context, deviceID string) (domain.HistoryRecord, *domain.Synthesis, bool, error)
}

// UserHistory is the authenticated per-user store; the source of truth
// once the user is signed in.
type UserHistory interface {
	Insert(ctx context.Context, userID string, rec domain.HistoryRecord) error
	ListByUser(ctx context.Context, userID string) ([]domain.HistoryRecord, error)
	Update(ctx context.Context, userID string, id int64, upd RecordUpdate) error
	MarkViewed(ctx context.Context, userID string, id int64) error
	Delete(ctx context.Context, userID string, id int64) error
}
