package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

// RemoteStore is the authenticated per-user reading collection. Once a
// user is signed in it is the source of truth; the engine treats writes
// as fire-and-forget.
type RemoteStore struct {
	db *gorm.DB
}

// OpenRemote connects to the managed backend and migrates the readings
// table.
func OpenRemote(dsn string) (*RemoteStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}
	return NewRemoteStore(db)
}

// NewRemoteStore wraps an existing gorm handle (tests use SQLite here).
func NewRemoteStore(db *gorm.DB) (*RemoteStore, error) {
	if err := db.AutoMigrate(&userReading{}); err != nil {
		return nil, fmt.Errorf("migrate remote store: %w", err)
	}
	return &RemoteStore{db: db}, nil
}

// DB exposes the underlying handle for co-located tables.
func (s *RemoteStore) DB() *gorm.DB { return s.db }

// Insert writes the full record with its synthesis-derived summary. The
// unique session-token index makes repeated inserts for one session a
// no-op rather than a duplicate.
func (s *RemoteStore) Insert(ctx context.Context, userID string, rec domain.HistoryRecord) error {
	row := userRowFromRecord(userID, rec)
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		var n int64
		if rec.SessionToken != "" {
			if countErr := s.db.WithContext(ctx).Model(&userReading{}).
				Where("session_token = ?", rec.SessionToken).
				Count(&n).Error; countErr == nil && n > 0 {
				return nil
			}
		}
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// ListByUser returns the user's readings, most recent first.
func (s *RemoteStore) ListByUser(ctx context.Context, userID string) ([]domain.HistoryRecord, error) {
	var rows []userReading
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	recs := make([]domain.HistoryRecord, len(rows))
	for i, r := range rows {
		recs[i] = r.toRecord()
	}
	return recs, nil
}

// Update rewrites the user-editable fields of one record in place.
func (s *RemoteStore) Update(ctx context.Context, userID string, id int64, upd ports.RecordUpdate) error {
	fields := map[string]any{}
	if upd.Comment != nil {
		fields["comment"] = *upd.Comment
	}
	if upd.Rating != nil {
		fields["rating"] = *upd.Rating
	}
	if len(fields) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&userReading{}).
		Where("user_id = ? AND id = ?", userID, id).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update reading: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// MarkViewed writes the viewed-at timestamp once; already-viewed records
// keep their original timestamp.
func (s *RemoteStore) MarkViewed(ctx context.Context, userID string, id int64) error {
	res := s.db.WithContext(ctx).Model(&userReading{}).
		Where("user_id = ? AND id = ? AND viewed_at IS NULL", userID, id).
		Update("viewed_at", time.Now())
	if res.Error != nil {
		return fmt.Errorf("mark reading viewed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Zero rows is also the already-viewed case; only a missing
		// record is an error.
		var n int64
		if err := s.db.WithContext(ctx).Model(&userReading{}).
			Where("user_id = ? AND id = ?", userID, id).
			Count(&n).Error; err != nil {
			return fmt.Errorf("mark reading viewed: %w", err)
		}
		if n == 0 {
			return domain.ErrRecordNotFound
		}
	}
	return nil
}

// Delete removes one record by id, scoped to the owning user.
func (s *RemoteStore) Delete(ctx context.Context, userID string, id int64) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&userReading{})
	if res.Error != nil {
		return fmt.Errorf("delete reading: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

var _ ports.UserHistory = (*RemoteStore)(nil)
