// Package accounts backs the access gate: account tiers for signed-in
// users and the durable reading-usage ledger for everyone.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

type account struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"index"`
	Tier      string `gorm:"not null;default:'free'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (account) TableName() string { return "accounts" }

// usageCounter is one subject's consumption for one day. Subject is a
// user id or a "device:" prefixed guest device id.
type usageCounter struct {
	Subject string `gorm:"primaryKey"`
	Day     string `gorm:"primaryKey"` // YYYY-MM-DD
	Count   int    `gorm:"not null;default:0"`
}

func (usageCounter) TableName() string { return "usage_counters" }

// Store implements ports.Accounts and ports.UsageLedger over gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&account{}, &usageCounter{}); err != nil {
		return nil, fmt.Errorf("migrate accounts: %w", err)
	}
	return &Store{db: db}, nil
}

// Lookup resolves the account tier. Unknown users resolve to the free
// tier: the JWT is the identity source of truth, rows appear lazily.
func (s *Store) Lookup(ctx context.Context, userID string) (ports.Tier, error) {
	var acc account
	err := s.db.WithContext(ctx).First(&acc, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ports.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}
	switch ports.Tier(acc.Tier) {
	case ports.TierPlus:
		return ports.TierPlus, nil
	default:
		return ports.TierFree, nil
	}
}

// Ensure creates the account row on first sight of a signed-in user.
func (s *Store) Ensure(ctx context.Context, userID, email string, tier ports.Tier) error {
	acc := account{ID: userID, Email: email, Tier: string(tier)}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&acc).Error
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func dayKey(day time.Time) string { return day.UTC().Format("2006-01-02") }

// Used returns the subject's consumption for the given day.
func (s *Store) Used(ctx context.Context, subject string, day time.Time) (int, error) {
	var counter usageCounter
	err := s.db.WithContext(ctx).
		First(&counter, "subject = ? AND day = ?", subject, dayKey(day)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return counter.Count, nil
}

// Increment charges one reading to the subject for the given day.
func (s *Store) Increment(ctx context.Context, subject string, day time.Time) error {
	counter := usageCounter{Subject: subject, Day: dayKey(day), Count: 1}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]any{"count": gorm.Expr("usage_counters.count + 1")}),
		}).
		Create(&counter).Error
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

var (
	_ ports.Accounts    = (*Store)(nil)
	_ ports.UsageLedger = (*Store)(nil)
)
