package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

const (
	// DefaultGuestCap is the maximum guest list length; oldest entries
	// are silently evicted.
	DefaultGuestCap = 20
	// DefaultDedupWindow is the content-signature dedup window.
	DefaultDedupWindow = 5 * time.Second
)

// LocalStore is the guest history backend, the Go-side stand-in for the
// tarot-history browser key. One SQLite file per deployment, rows scoped
// by device id.
type LocalStore struct {
	db          *gorm.DB
	cap         int
	dedupWindow time.Duration
}

// OpenLocal opens (and migrates) the guest store at path. ":memory:" is
// accepted for tests.
func OpenLocal(path string) (*LocalStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open guest store: %w", err)
	}
	return NewLocalStore(db)
}

// NewLocalStore wraps an existing gorm handle.
func NewLocalStore(db *gorm.DB) (*LocalStore, error) {
	if err := db.AutoMigrate(&guestReading{}, &guestSlot{}); err != nil {
		return nil, fmt.Errorf("migrate guest store: %w", err)
	}
	return &LocalStore{db: db, cap: DefaultGuestCap, dedupWindow: DefaultDedupWindow}, nil
}

// DB exposes the underlying handle so single-database deployments can
// host the account and user tables in the same SQLite file.
func (s *LocalStore) DB() *gorm.DB { return s.db }

// SetCap overrides the list cap (configuration hook).
func (s *LocalStore) SetCap(n int) {
	if n > 0 {
		s.cap = n
	}
}

// SetDedupWindow overrides the signature dedup window.
func (s *LocalStore) SetDedupWindow(d time.Duration) {
	if d > 0 {
		s.dedupWindow = d
	}
}

// signature is the sorted set of card identities; two completions with
// the same cards share it regardless of pick order.
func signature(cardIDs []string) string {
	ids := make([]string, len(cardIDs))
	copy(ids, cardIDs)
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// Append stores rec for the device unless it is a duplicate: same session
// token already stored, or same card-identity signature within the dedup
// window. Returns whether the record was stored.
func (s *LocalStore) Append(ctx context.Context, deviceID string, rec domain.HistoryRecord) (bool, error) {
	sig := signature(rec.CardIDs)

	if rec.SessionToken != "" {
		var n int64
		if err := s.db.WithContext(ctx).Model(&guestReading{}).
			Where("device_id = ? AND session_token = ?", deviceID, rec.SessionToken).
			Count(&n).Error; err != nil {
			return false, fmt.Errorf("dedup by token: %w", err)
		}
		if n > 0 {
			return false, nil
		}
	}

	var latest guestReading
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND signature = ?", deviceID, sig).
		Order("created_at DESC").
		First(&latest).Error
	switch {
	case err == nil:
		if rec.CreatedAt.Sub(latest.CreatedAt) < s.dedupWindow {
			return false, nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first completion with these cards
	default:
		return false, fmt.Errorf("dedup by signature: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(guestRowFromRecord(deviceID, sig, rec)).Error; err != nil {
		return false, fmt.Errorf("append guest reading: %w", err)
	}

	if err := s.evict(ctx, deviceID); err != nil {
		return true, err
	}
	return true, nil
}

// evict trims the device's list to the cap, oldest first.
func (s *LocalStore) evict(ctx context.Context, deviceID string) error {
	var keep []int64
	if err := s.db.WithContext(ctx).Model(&guestReading{}).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").
		Limit(s.cap).
		Pluck("id", &keep).Error; err != nil {
		return fmt.Errorf("evict guest readings: %w", err)
	}
	if len(keep) < s.cap {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("device_id = ? AND id NOT IN ?", deviceID, keep).
		Delete(&guestReading{}).Error; err != nil {
		return fmt.Errorf("evict guest readings: %w", err)
	}
	return nil
}

// List returns the device's readings, most recent first.
func (s *LocalStore) List(ctx context.Context, deviceID string) ([]domain.HistoryRecord, error) {
	var rows []guestReading
	if err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list guest readings: %w", err)
	}
	recs := make([]domain.HistoryRecord, len(rows))
	for i, r := range rows {
		recs[i] = r.toRecord()
	}
	return recs, nil
}

// Update rewrites the user-editable fields of one record.
func (s *LocalStore) Update(ctx context.Context, deviceID string, id int64, upd ports.RecordUpdate) error {
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
	res := s.db.WithContext(ctx).Model(&guestReading{}).
		Where("device_id = ? AND id = ?", deviceID, id).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update guest reading: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// MarkViewed records the unviewed-to-viewed transition. Already-viewed
// records keep their original timestamp.
func (s *LocalStore) MarkViewed(ctx context.Context, deviceID string, id int64) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&guestReading{}).
		Where("device_id = ? AND id = ? AND viewed_at IS NULL", deviceID, id).
		Update("viewed_at", now)
	if res.Error != nil {
		return fmt.Errorf("mark guest reading viewed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Zero rows is also the already-viewed case; only a missing
		// record is an error.
		var n int64
		if err := s.db.WithContext(ctx).Model(&guestReading{}).
			Where("device_id = ? AND id = ?", deviceID, id).
			Count(&n).Error; err != nil {
			return fmt.Errorf("mark guest reading viewed: %w", err)
		}
		if n == 0 {
			return domain.ErrRecordNotFound
		}
	}
	return nil
}

// Delete removes one record.
func (s *LocalStore) Delete(ctx context.Context, deviceID string, id int64) error {
	res := s.db.WithContext(ctx).
		Where("device_id = ? AND id = ?", deviceID, id).
		Delete(&guestReading{})
	if res.Error != nil {
		return fmt.Errorf("delete guest reading: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// slotPayload is the raw, pre-normalized reading stashed for a guest.
type slotPayload struct {
	Record    domain.HistoryRecord `json:"record"`
	Synthesis *domain.Synthesis    `json:"synthesis,omitempty"`
}

// StashGuestReading stores the latest completed reading for later account
// attachment. At most one slot per device; newer stashes replace it.
func (s *LocalStore) StashGuestReading(ctx context.Context, deviceID string, rec domain.HistoryRecord, raw *domain.Synthesis) error {
	payload, err := json.Marshal(slotPayload{Record: rec, Synthesis: raw})
	if err != nil {
		return fmt.Errorf("encode guest slot: %w", err)
	}
	slot := guestSlot{DeviceID: deviceID, Payload: payload}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&slot).Error; err != nil {
		return fmt.Errorf("stash guest reading: %w", err)
	}
	return nil
}

// TakeGuestReading pops the stashed reading, if any.
func (s *LocalStore) TakeGuestReading(ctx context.Context, deviceID string) (domain.HistoryRecord, *domain.Synthesis, bool, error) {
	var slot guestSlot
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.HistoryRecord{}, nil, false, nil
	}
	if err != nil {
		return domain.HistoryRecord{}, nil, false, fmt.Errorf("read guest slot: %w", err)
	}

	var payload slotPayload
	if err := json.Unmarshal(slot.Payload, &payload); err != nil {
		return domain.HistoryRecord{}, nil, false, fmt.Errorf("decode guest slot: %w", err)
	}
	if err := s.db.WithContext(ctx).Delete(&guestSlot{}, "device_id = ?", deviceID).Error; err != nil {
		return domain.HistoryRecord{}, nil, false, fmt.Errorf("clear guest slot: %w", err)
	}
	return payload.Record, payload.Synthesis, true, nil
}

var _ ports.GuestHistory = (*LocalStore)(nil)
