// Package history implements the two reading-history backends: the
// capped, dedup-guarded guest store and the authenticated per-user store.
package history

import (
	"time"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
)

// guestReading is the guest-store row. Card arrays are serialized JSON
// columns; the signature column backs the dedup window lookup.
type guestReading struct {
	ID            int64  `gorm:"primaryKey;autoIncrement:false"`
	DeviceID      string `gorm:"index:idx_guest_device;not null"`
	SessionToken  string `gorm:"index"`
	Signature     string `gorm:"index:idx_guest_sig"`
	CreatedAt     time.Time
	SpreadID      string
	SpreadName    string
	SpreadBadge   string
	CardIDs       []string `gorm:"serializer:json"`
	CardImages    []string `gorm:"serializer:json"`
	CardNames     []string `gorm:"serializer:json"`
	PositionNames []string `gorm:"serializer:json"`
	Question      string
	Theme         string
	Summary       string `gorm:"type:text"`
	Reflection    string
	Sentiment     string
	Comment       string `gorm:"type:text"`
	Rating        int
	ViewedAt      *time.Time
}

func (guestReading) TableName() string { return "guest_readings" }

// guestSlot holds at most one deferred reading per device, awaiting
// account attachment.
type guestSlot struct {
	DeviceID  string `gorm:"primaryKey"`
	Payload   []byte `gorm:"type:blob"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (guestSlot) TableName() string { return "guest_reading_slot" }

// userReading is the authenticated per-user row.
type userReading struct {
	ID            int64  `gorm:"primaryKey;autoIncrement:false"`
	UserID        string `gorm:"index:idx_reading_user;not null"`
	SessionToken  string `gorm:"uniqueIndex:ux_reading_token"`
	CreatedAt     time.Time
	SpreadID      string
	SpreadName    string
	SpreadBadge   string
	CardIDs       []string `gorm:"serializer:json"`
	CardImages    []string `gorm:"serializer:json"`
	CardNames     []string `gorm:"serializer:json"`
	PositionNames []string `gorm:"serializer:json"`
	Question      string
	Theme         string
	Summary       string `gorm:"type:text"`
	Reflection    string
	Sentiment     string
	Comment       string `gorm:"type:text"`
	Rating        int
	ViewedAt      *time.Time
}

func (userReading) TableName() string { return "readings" }

func guestRowFromRecord(deviceID, signature string, rec domain.HistoryRecord) guestReading {
	return guestReading{
		ID:            rec.ID,
		DeviceID:      deviceID,
		SessionToken:  rec.SessionToken,
		Signature:     signature,
		CreatedAt:     rec.CreatedAt,
		SpreadID:      rec.SpreadID,
		SpreadName:    rec.SpreadName,
		SpreadBadge:   rec.SpreadBadge,
		CardIDs:       rec.CardIDs,
		CardImages:    rec.CardImages,
		CardNames:     rec.CardNames,
		PositionNames: rec.PositionNames,
		Question:      rec.Question,
		Theme:         rec.Theme,
		Summary:       rec.Summary,
		Reflection:    rec.Reflection,
		Sentiment:     string(rec.Sentiment),
		Comment:       rec.Comment,
		Rating:        rec.Rating,
		ViewedAt:      rec.ViewedAt,
	}
}

func (r guestReading) toRecord() domain.HistoryRecord {
	return domain.HistoryRecord{
		ID:            r.ID,
		SessionToken:  r.SessionToken,
		CreatedAt:     r.CreatedAt,
		SpreadID:      r.SpreadID,
		SpreadName:    r.SpreadName,
		SpreadBadge:   r.SpreadBadge,
		CardIDs:       r.CardIDs,
		CardImages:    r.CardImages,
		CardNames:     r.CardNames,
		PositionNames: r.PositionNames,
		Question:      r.Question,
		Theme:         r.Theme,
		Summary:       r.Summary,
		Reflection:    r.Reflection,
		Sentiment:     domain.Sentiment(r.Sentiment),
		Comment:       r.Comment,
		Rating:        r.Rating,
		ViewedAt:      r.ViewedAt,
	}
}

func userRowFromRecord(userID string, rec domain.HistoryRecord) userReading {
	return userReading{
		ID:            rec.ID,
		UserID:        userID,
		SessionToken:  rec.SessionToken,
		CreatedAt:     rec.CreatedAt,
		SpreadID:      rec.SpreadID,
		SpreadName:    rec.SpreadName,
		SpreadBadge:   rec.SpreadBadge,
		CardIDs:       rec.CardIDs,
		CardImages:    rec.CardImages,
		CardNames:     rec.CardNames,
		PositionNames: rec.PositionNames,
		Question:      rec.Question,
		Theme:         rec.Theme,
		Summary:       rec.Summary,
		Reflection:    rec.Reflection,
		Sentiment:     string(rec.Sentiment),
		Comment:       rec.Comment,
		Rating:        rec.Rating,
		ViewedAt:      rec.ViewedAt,
	}
}

func (r userReading) toRecord() domain.HistoryRecord {
	return domain.HistoryRecord{
		ID:            r.ID,
		SessionToken:  r.SessionToken,
		CreatedAt:     r.CreatedAt,
		SpreadID:      r.SpreadID,
		SpreadName:    r.SpreadName,
		SpreadBadge:   r.SpreadBadge,
		CardIDs:       r.CardIDs,
		CardImages:    r.CardImages,
		CardNames:     r.CardNames,
		PositionNames: r.PositionNames,
		Question:      r.Question,
		Theme:         r.Theme,
		Summary:       r.Summary,
		Reflection:    r.Reflection,
		Sentiment:     domain.Sentiment(r.Sentiment),
		Comment:       r.Comment,
		Rating:        r.Rating,
		ViewedAt:      r.ViewedAt,
	}
}
