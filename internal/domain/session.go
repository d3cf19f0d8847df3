package domain

import (
	"fmt"
	"sync"
	"time"
)

// SessionState is the lifecycle of a single reading.
type SessionState string

const (
	StateShuffling         SessionState = "shuffling"
	StateSpreading         SessionState = "spreading"
	StateAwaitingSelection SessionState = "awaiting_selection"
	StateComplete          SessionState = "complete"
)

// RevealDelay is how long after a pick the draw flips face up.
const RevealDelay = 600 * time.Millisecond

// reversalChance is the per-draw probability (percent) of a reversed card,
// rolled once at pick time.
const reversalChance = 20

// CompletionPayload is handed out exactly once when the N-th draw lands;
// it is what the result view navigates with.
type CompletionPayload struct {
	Token    string
	SpreadID string
	Kind     SpreadKind
	Question string
	Lang     string
	Cards    []Draw
}

// Session owns the shuffle/draw lifecycle of one reading attempt. All
// duplicate-effect guards (access charge, synthesis fetch, history write,
// navigation) live here, scoped to the session token, so they die with the
// session instead of with incidental caller behavior.
type Session struct {
	Token     string
	Spread    Spread
	Question  string
	Lang      string
	CreatedAt time.Time

	mu    sync.Mutex
	state SessionState
	deck  []Card
	draws []Draw
	drawn map[string]struct{}

	accessGranted bool
	accessClaim   chan struct{}

	synthesisIssued   bool
	synthesisResolved bool
	synthesisDone     chan struct{}
	synthesis         *Synthesis

	historyWritten bool
	navigated      bool
}

// NewSession binds a spread and the canonical deck to a fresh attempt.
// The session starts in StateShuffling; callers drive Shuffle and LayOut.
func NewSession(token string, spread Spread, deck []Card, question, lang string, now time.Time) *Session {
	cards := make([]Card, len(deck))
	copy(cards, deck)
	return &Session{
		Token:     token,
		Spread:    spread,
		Question:  question,
		Lang:      lang,
		CreatedAt: now,
		state:     StateShuffling,
		deck:      cards,
		drawn:     make(map[string]struct{}),
	}
}

// Shuffle produces a new in-place Fisher-Yates permutation of the full
// deck and discards any in-progress draws. Re-invocable by explicit user
// action until the session completes.
func (s *Session) Shuffle(rng RNG) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateComplete {
		return fmt.Errorf("shuffle: %w", ErrSessionState)
	}

	for i := len(s.deck) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		s.deck[i], s.deck[j] = s.deck[j], s.deck[i]
	}

	s.draws = nil
	s.drawn = make(map[string]struct{})
	s.state = StateSpreading
	return nil
}

// LayOut spreads the permuted deck for picking. Presentation transition
// only; card data is untouched.
func (s *Session) LayOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSpreading {
		return fmt.Errorf("lay out: %w", ErrSessionState)
	}
	s.state = StateAwaitingSelection
	return nil
}

// NeedsAccess reports whether the next pick is the first of the session
// and entitlement has not been confirmed yet. Browsing and spread
// selection are always free; consumption is charged here.
func (s *Session) NeedsAccess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAwaitingSelection && len(s.draws) == 0 && !s.accessGranted
}

// ClaimAccess claims the one-time gate evaluation for this session.
// Exactly one caller at a time gets run=true and must settle the claim
// with FinishAccess; concurrent callers receive a channel closed when
// the claim settles, after which they re-claim. Once access is granted
// both returns are zero and the gate is never evaluated again.
func (s *Session) ClaimAccess() (run bool, settled <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessGranted {
		return false, nil
	}
	if s.accessClaim != nil {
		return false, s.accessClaim
	}
	s.accessClaim = make(chan struct{})
	return true, nil
}

// FinishAccess settles the claim taken with ClaimAccess. A denied claim
// leaves the session open for the next attempt to claim and re-run the
// gate.
func (s *Session) FinishAccess(granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessClaim == nil {
		return
	}
	if granted {
		s.accessGranted = true
	}
	close(s.accessClaim)
	s.accessClaim = nil
}

// Pick binds the face-down card at deckIndex to the next empty position.
// Reversal is rolled here, before the user ever sees the card. When the
// N-th draw lands the session transitions to StateComplete exactly once
// and the returned completed flag is true.
func (s *Session) Pick(deckIndex int, rng RNG, now time.Time) (Draw, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingSelection {
		return Draw{}, false, fmt.Errorf("pick: %w", ErrSessionState)
	}
	if len(s.draws) >= s.Spread.CardCount {
		return Draw{}, false, ErrSpreadFull
	}
	if !s.accessGranted {
		return Draw{}, false, ErrAccessDenied
	}
	if deckIndex < 0 || deckIndex >= len(s.deck) {
		return Draw{}, false, ErrCardNotInDeck
	}

	card := s.deck[deckIndex]
	if _, dup := s.drawn[card.ID]; dup {
		return Draw{}, false, ErrCardAlreadyDrawn
	}

	draw := Draw{
		Card:     card,
		Position: len(s.draws),
		Reversed: rng.Intn(100) < reversalChance,
		PickedAt: now,
	}
	s.draws = append(s.draws, draw)
	s.drawn[card.ID] = struct{}{}

	completed := len(s.draws) == s.Spread.CardCount
	if completed {
		s.state = StateComplete
	}
	return draw, completed, nil
}

// RevealDue flips every draw whose reveal delay has elapsed and returns
// the flipped position indexes.
func (s *Session) RevealDue(now time.Time) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped []int
	for i := range s.draws {
		if !s.draws[i].Revealed && now.Sub(s.draws[i].PickedAt) >= RevealDelay {
			s.draws[i].Revealed = true
			flipped = append(flipped, i)
		}
	}
	return flipped
}

// ConsumeNavigation returns the completion payload the first time it is
// called after the session completes; later calls report false so rapid
// double-picks near the boundary cannot trigger navigation twice.
func (s *Session) ConsumeNavigation() (CompletionPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateComplete || s.navigated {
		return CompletionPayload{}, false
	}
	s.navigated = true
	return CompletionPayload{
		Token:    s.Token,
		SpreadID: s.Spread.ID,
		Kind:     s.Spread.Kind,
		Question: s.Question,
		Lang:     s.Lang,
		Cards:    s.copyDrawsLocked(),
	}, true
}

// ClaimSynthesis claims the single fetch for this session. Exactly one
// caller gets run=true and must call ResolveSynthesis with the outcome;
// every other caller receives a channel closed at resolution, so
// mount/unmount cycles of the result view neither issue a second request
// nor observe the reading before the fetch resolves. Once resolved both
// returns are zero.
func (s *Session) ClaimSynthesis() (run bool, resolved <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synthesisResolved {
		return false, nil
	}
	if s.synthesisIssued {
		return false, s.synthesisDone
	}
	s.synthesisIssued = true
	s.synthesisDone = make(chan struct{})
	return true, nil
}

// ResolveSynthesis records the fetch outcome (nil on degrade) and wakes
// every waiter. Resolution is final; a failed fetch is not retried for
// this session.
func (s *Session) ResolveSynthesis(syn *Synthesis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synthesisResolved || s.synthesisDone == nil {
		return
	}
	s.synthesis = syn
	s.synthesisResolved = true
	close(s.synthesisDone)
}

// Synthesis returns the resolved synthesis, nil before resolution or
// after a degrade.
func (s *Session) Synthesis() *Synthesis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synthesis
}

// MarkHistoryWritten flips the per-session persistence latch.
func (s *Session) MarkHistoryWritten() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyWritten {
		return false
	}
	s.historyWritten = true
	return true
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Draws returns a copy of the draws made so far, in position order.
func (s *Session) Draws() []Draw {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyDrawsLocked()
}

// DeckSize returns the number of face-down cards laid out.
func (s *Session) DeckSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deck)
}

// DeckOrder returns a copy of the current permutation. Test hook; the API
// never exposes face-down identities.
func (s *Session) DeckOrder() []Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := make([]Card, len(s.deck))
	copy(cards, s.deck)
	return cards
}

func (s *Session) copyDrawsLocked() []Draw {
	draws := make([]Draw, len(s.draws))
	copy(draws, s.draws)
	return draws
}
