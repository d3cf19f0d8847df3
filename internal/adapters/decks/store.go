package decks

import (
	"context"
	"embed"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
)

//go:embed data/*.json
var catalogFS embed.FS

const (
	deckFile    = "data/rider_waite.json"
	spreadsFile = "data/spreads.json"
)

// EmbeddedStore serves the fixed card deck and spread catalog from
// embedded JSON. Loaded once; the same backing slices are reused across
// calls, so callers copy before mutating (the session does).
type EmbeddedStore struct {
	once    sync.Once
	deck    []domain.Card
	spreads []domain.Spread
	byID    map[string]domain.Spread
	err     error
}

func NewEmbeddedStore() *EmbeddedStore {
	return &EmbeddedStore{}
}

func (s *EmbeddedStore) init() {
	raw, err := catalogFS.ReadFile(deckFile)
	if err != nil {
		s.err = fmt.Errorf("read embedded deck: %w", err)
		return
	}
	if err := json.Unmarshal(raw, &s.deck); err != nil {
		s.err = fmt.Errorf("parse embedded deck: %w", err)
		return
	}

	raw, err = catalogFS.ReadFile(spreadsFile)
	if err != nil {
		s.err = fmt.Errorf("read spread catalog: %w", err)
		return
	}
	if err := json.Unmarshal(raw, &s.spreads); err != nil {
		s.err = fmt.Errorf("parse spread catalog: %w", err)
		return
	}

	s.byID = make(map[string]domain.Spread, len(s.spreads))
	for _, sp := range s.spreads {
		s.byID[sp.ID] = sp
	}
}

// Deck returns the full deck in canonical order.
func (s *EmbeddedStore) Deck(_ context.Context) ([]domain.Card, error) {
	s.once.Do(s.init)
	if s.err != nil {
		return nil, s.err
	}
	return s.deck, nil
}

// Spread returns one spread definition by id.
func (s *EmbeddedStore) Spread(_ context.Context, spreadID string) (domain.Spread, error) {
	s.once.Do(s.init)
	if s.err != nil {
		return domain.Spread{}, s.err
	}
	sp, ok := s.byID[spreadID]
	if !ok {
		return domain.Spread{}, domain.ErrSpreadNotFound
	}
	return sp, nil
}

// Spreads returns the full catalog.
func (s *EmbeddedStore) Spreads(_ context.Context) ([]domain.Spread, error) {
	s.once.Do(s.init)
	if s.err != nil {
		return nil, s.err
	}
	return s.spreads, nil
}
