package domain

import "time"

// RNG abstracts random number generation for deterministic testing.
type RNG interface {
	// Intn returns a non-negative random int in [0, n).
	Intn(n int) int
}

// Arcana classifies a card as major or minor.
type Arcana string

const (
	ArcanaMajor Arcana = "major"
	ArcanaMinor Arcana = "minor"
)

// Suit is the minor-arcana suit; empty for major arcana.
type Suit string

const (
	SuitWands     Suit = "wands"
	SuitCups      Suit = "cups"
	SuitSwords    Suit = "swords"
	SuitPentacles Suit = "pentacles"
)

// Card represents a single tarot card in the deck.
type Card struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Arcana Arcana `json:"arcana"`
	Suit   Suit   `json:"suit,omitempty"`
	Image  string `json:"image"`
}

// SpreadKind identifies the category of spread, which determines the
// synthesis payload variant.
type SpreadKind string

const (
	SpreadThreeCard   SpreadKind = "three_card"
	SpreadCelticCross SpreadKind = "celtic_cross"
	SpreadLove        SpreadKind = "love"
	SpreadYesNo       SpreadKind = "yes_no"
	SpreadDailyCard   SpreadKind = "daily_card"
)

// Position is one slot of a spread template.
type Position struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Spread is a named template of positions a reading fills. Immutable,
// chosen before a session starts.
type Spread struct {
	ID        string     `json:"id"`
	Kind      SpreadKind `json:"kind"`
	Name      string     `json:"name"`
	Badge     string     `json:"badge"`
	CardCount int        `json:"card_count"`
	Positions []Position `json:"positions"`
}

// Draw is one card bound to one position within an in-progress session.
// Reversal is decided at pick time and is the single source of truth for
// both display and the interpretation payload.
type Draw struct {
	Card     Card      `json:"card"`
	Position int       `json:"position"`
	Reversed bool      `json:"reversed"`
	Revealed bool      `json:"revealed"`
	PickedAt time.Time `json:"picked_at"`
}

// HistoryRecord is the durable artifact of a completed session.
type HistoryRecord struct {
	ID            int64      `json:"id"` // wall-clock ms at creation
	SessionToken  string     `json:"session_token"`
	CreatedAt     time.Time  `json:"created_at"`
	SpreadID      string     `json:"spread_id"`
	SpreadName    string     `json:"spread_name"`
	SpreadBadge   string     `json:"spread_badge"`
	CardIDs       []string   `json:"card_ids"`
	CardImages    []string   `json:"card_images"`
	CardNames     []string   `json:"card_names"`
	PositionNames []string   `json:"position_names"`
	Question      string     `json:"question"`
	Theme         string     `json:"theme"`
	Summary       string     `json:"summary"`
	Reflection    string     `json:"reflection"`
	Sentiment     Sentiment  `json:"sentiment"`
	Comment       string     `json:"comment"`
	Rating        int        `json:"rating"`
	ViewedAt      *time.Time `json:"viewed_at,omitempty"`
}
