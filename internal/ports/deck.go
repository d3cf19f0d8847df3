package ports

import (
	"context"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
)

// DeckSource supplies the canonical ordered deck. Stateless; the returned
// contents are referentially identical across calls and order varies only
// via explicit shuffling in the session.
type DeckSource interface {
	Deck(ctx context.Context) ([]domain.Card, error)
}

// SpreadCatalog exposes the fixed set of spread definitions.
type SpreadCatalog interface {
	Spread(ctx context.Context, spreadID string) (domain.Spread, error)
	Spreads(ctx context.Context) ([]domain.Spread, error)
}
