package ports

import (
	"context"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
)

// SynthesisCard is a drawn card as the synthesis backend sees it. The
// reversed flag is the one decided at pick time.
type SynthesisCard struct {
	Name     string `json:"name"`
	Position string `json:"position"`
	Reversed bool   `json:"reversed"`
}

// SynthesisRequest holds everything the backend needs for one reading.
type SynthesisRequest struct {
	SessionToken string
	SpreadID     string
	Kind         domain.SpreadKind
	Question     string
	Lang         string
	Cards        []SynthesisCard
}

// Synthesizer requests an AI-generated interpretation for a completed
// draw. Implementations own the retry policy for transient failures; a
// non-nil error always classifies under the domain error taxonomy.
type Synthesizer interface {
	Fetch(ctx context.Context, req SynthesisRequest) (*domain.Synthesis, error)
}
