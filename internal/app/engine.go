// Package app orchestrates the reading session pipeline: access gate,
// draws, completion, synthesis retrieval and history persistence.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/metrics"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

// defaultSessionTTL is how long an abandoned session survives in the
// registry before a sweep discards it.
const defaultSessionTTL = time.Hour

// AccessGate is the entitlement check charged at the first pick.
type AccessGate interface {
	Allow(ctx context.Context, id ports.Identity) error
}

// StartInput describes a confirmed spread selection.
type StartInput struct {
	SpreadID string
	Question string
	Lang     string
}

// SessionView is the engine's read model of one session.
type SessionView struct {
	Token    string
	Spread   domain.Spread
	State    domain.SessionState
	DeckSize int
	Draws    []domain.Draw
}

// PickOutcome reports one pick: the draw made and, exactly once per
// session, the completion payload.
type PickOutcome struct {
	Draw       domain.Draw
	Completed  bool
	Navigation *domain.CompletionPayload
}

// ReadingResult is the completed reading as the result view consumes it.
// Synthesis is nil when the backend degraded; the cards are always there.
type ReadingResult struct {
	Token     string
	Spread    domain.Spread
	Question  string
	Cards     []domain.Draw
	Synthesis *domain.Synthesis
	Summary   domain.Summary
}

// Engine owns the in-memory session registry and drives each session
// through the ordered pipeline. Ordering is enforced by session state;
// duplicate side effects by the per-token latches on the session itself.
type Engine struct {
	decks   ports.DeckSource
	catalog ports.SpreadCatalog
	gate    AccessGate
	synth   ports.Synthesizer
	guest   ports.GuestHistory
	users   ports.UserHistory
	rng     domain.RNG
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	ttl     time.Duration

	mu       sync.Mutex
	sessions map[string]*domain.Session
	entropy  *ulid.MonotonicEntropy
}

func NewEngine(
	decks ports.DeckSource,
	catalog ports.SpreadCatalog,
	gate AccessGate,
	synth ports.Synthesizer,
	guest ports.GuestHistory,
	users ports.UserHistory,
	rng domain.RNG,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		decks:    decks,
		catalog:  catalog,
		gate:     gate,
		synth:    synth,
		guest:    guest,
		users:    users,
		rng:      rng,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		ttl:      defaultSessionTTL,
		sessions: make(map[string]*domain.Session),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// SetNow overrides the engine clock. Test hook.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// newToken mints a monotonically unique session token so logically
// distinct attempts are always distinguishable.
func (e *Engine) newToken() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(e.now()), e.entropy)
	if err != nil {
		return "", fmt.Errorf("mint session token: %w", err)
	}
	return id.String(), nil
}

// Spreads exposes the catalog for spread selection.
func (e *Engine) Spreads(ctx context.Context) ([]domain.Spread, error) {
	return e.catalog.Spreads(ctx)
}

// StartSession turns a confirmed spread selection into a fresh session:
// shuffled, laid out, awaiting the first pick. Starting a new session
// while another is active simply abandons the old one; its latches and
// any in-flight resolution die with it.
func (e *Engine) StartSession(ctx context.Context, in StartInput) (SessionView, error) {
	spread, err := e.catalog.Spread(ctx, in.SpreadID)
	if err != nil {
		return SessionView{}, fmt.Errorf("resolve spread: %w", err)
	}
	deck, err := e.decks.Deck(ctx)
	if err != nil {
		return SessionView{}, fmt.Errorf("load deck: %w", err)
	}
	token, err := e.newToken()
	if err != nil {
		return SessionView{}, err
	}

	s := domain.NewSession(token, spread, deck, in.Question, in.Lang, e.now())
	if err := s.Shuffle(e.rng); err != nil {
		return SessionView{}, fmt.Errorf("shuffle: %w", err)
	}
	if err := s.LayOut(); err != nil {
		return SessionView{}, fmt.Errorf("lay out: %w", err)
	}

	e.mu.Lock()
	e.sweepLocked()
	e.sessions[token] = s
	e.mu.Unlock()

	e.metrics.IncSessionsStarted()
	return e.view(s), nil
}

// Reshuffle re-runs the shuffle for an in-progress session, discarding
// any picks made so far.
func (e *Engine) Reshuffle(_ context.Context, token string) (SessionView, error) {
	s, err := e.session(token)
	if err != nil {
		return SessionView{}, err
	}
	if err := s.Shuffle(e.rng); err != nil {
		return SessionView{}, err
	}
	if err := s.LayOut(); err != nil {
		return SessionView{}, err
	}
	return e.view(s), nil
}

// Pick selects the face-down card at deckIndex. The access gate runs
// exactly on the 0-to-1 draw transition: one concurrent first pick wins
// the claim and evaluates the gate while the rest wait for it to settle.
// A denial leaves the session paused in awaiting_selection with no draw
// recorded, and each denied attempt surfaces the signal again.
func (e *Engine) Pick(ctx context.Context, token string, deckIndex int, id ports.Identity) (PickOutcome, error) {
	s, err := e.session(token)
	if err != nil {
		return PickOutcome{}, err
	}

	for {
		run, settled := s.ClaimAccess()
		if run {
			if err := e.gate.Allow(ctx, id); err != nil {
				s.FinishAccess(false)
				if errors.Is(err, domain.ErrAccessDenied) {
					e.metrics.IncPicksRejected("access_denied")
					return PickOutcome{}, err
				}
				return PickOutcome{}, fmt.Errorf("access gate: %w", err)
			}
			s.FinishAccess(true)
			break
		}
		if settled == nil {
			break
		}
		select {
		case <-ctx.Done():
			return PickOutcome{}, ctx.Err()
		case <-settled:
		}
	}

	draw, completed, err := s.Pick(deckIndex, e.rng, e.now())
	if err != nil {
		e.metrics.IncPicksRejected(pickReason(err))
		return PickOutcome{}, err
	}

	out := PickOutcome{Draw: draw, Completed: completed}
	if completed {
		e.metrics.IncSessionsCompleted()
		if payload, ok := s.ConsumeNavigation(); ok {
			out.Navigation = &payload
		}
	}
	return out, nil
}

// Reveal flips every draw whose reveal delay has elapsed.
func (e *Engine) Reveal(_ context.Context, token string) (SessionView, error) {
	s, err := e.session(token)
	if err != nil {
		return SessionView{}, err
	}
	s.RevealDue(e.now())
	return e.view(s), nil
}

// Result resolves the completed reading: fetches the synthesis at most
// once per token, persists the history record at most once, and returns
// the cards regardless of synthesis availability. Concurrent callers for
// the same token wait on the one in-flight fetch, so persistence never
// begins before the synthesis resolves.
func (e *Engine) Result(ctx context.Context, token string, id ports.Identity) (ReadingResult, error) {
	s, err := e.session(token)
	if err != nil {
		return ReadingResult{}, err
	}
	if s.State() != domain.StateComplete {
		return ReadingResult{}, fmt.Errorf("result: %w", domain.ErrSessionState)
	}

	run, resolved := s.ClaimSynthesis()
	if run {
		syn, fetchErr := e.synth.Fetch(ctx, e.synthesisRequest(s))
		if fetchErr != nil {
			// All synthesis failures degrade silently: the user still
			// sees the cards.
			e.metrics.IncSynthesisFailures()
			e.logger.WarnContext(ctx, "synthesis degraded to null",
				"session_token", token, "error", fetchErr)
			syn = nil
		}
		s.ResolveSynthesis(syn)
	} else if resolved != nil {
		select {
		case <-ctx.Done():
			return ReadingResult{}, ctx.Err()
		case <-resolved:
		}
	}

	// The session may have been abandoned while the fetch was in
	// flight; its resolution is ignored.
	if !e.active(token) {
		return ReadingResult{}, domain.ErrSessionNotFound
	}

	syn := s.Synthesis()
	summary := syn.Summarize()

	if s.MarkHistoryWritten() {
		e.persist(ctx, s, syn, summary, id)
	}

	return ReadingResult{
		Token:     token,
		Spread:    s.Spread,
		Question:  s.Question,
		Cards:     s.Draws(),
		Synthesis: syn,
		Summary:   summary,
	}, nil
}

// persist builds the history record and routes it to exactly one
// backend. Remote failures are logged, never surfaced; the in-session
// view stays the user's source of truth.
func (e *Engine) persist(ctx context.Context, s *domain.Session, syn *domain.Synthesis, summary domain.Summary, id ports.Identity) {
	rec := e.buildRecord(s, summary)

	if !id.Guest() {
		if err := e.users.Insert(ctx, id.UserID, rec); err != nil {
			e.logger.ErrorContext(ctx, "remote history write failed",
				"session_token", s.Token, "user_id", id.UserID, "error", err)
		}
		return
	}

	stored, err := e.guest.Append(ctx, id.DeviceID, rec)
	if err != nil {
		e.logger.ErrorContext(ctx, "guest history write failed",
			"session_token", s.Token, "device_id", id.DeviceID, "error", err)
	} else if !stored {
		e.metrics.IncHistoryDeduped()
	}

	// Stash the raw reading so a later sign-up can claim it.
	if err := e.guest.StashGuestReading(ctx, id.DeviceID, rec, syn); err != nil {
		e.logger.ErrorContext(ctx, "guest reading stash failed",
			"session_token", s.Token, "device_id", id.DeviceID, "error", err)
	}
}

func (e *Engine) buildRecord(s *domain.Session, summary domain.Summary) domain.HistoryRecord {
	draws := s.Draws()
	cardIDs := make([]string, len(draws))
	cardImages := make([]string, len(draws))
	cardNames := make([]string, len(draws))
	for i, d := range draws {
		cardIDs[i] = d.Card.ID
		cardImages[i] = d.Card.Image
		cardNames[i] = d.Card.Name
	}
	positionNames := make([]string, len(s.Spread.Positions))
	for i, p := range s.Spread.Positions {
		positionNames[i] = p.Name
	}

	now := e.now()
	return domain.HistoryRecord{
		ID:            now.UnixMilli(),
		SessionToken:  s.Token,
		CreatedAt:     now,
		SpreadID:      s.Spread.ID,
		SpreadName:    s.Spread.Name,
		SpreadBadge:   s.Spread.Badge,
		CardIDs:       cardIDs,
		CardImages:    cardImages,
		CardNames:     cardNames,
		PositionNames: positionNames,
		Question:      s.Question,
		Theme:         summary.Theme,
		Summary:       summary.Narrative,
		Reflection:    summary.Reflection,
		Sentiment:     summary.Sentiment,
	}
}

func (e *Engine) synthesisRequest(s *domain.Session) ports.SynthesisRequest {
	draws := s.Draws()
	cards := make([]ports.SynthesisCard, len(draws))
	for i, d := range draws {
		position := ""
		if d.Position < len(s.Spread.Positions) {
			position = s.Spread.Positions[d.Position].Name
		}
		cards[i] = ports.SynthesisCard{
			Name:     d.Card.Name,
			Position: position,
			Reversed: d.Reversed,
		}
	}
	return ports.SynthesisRequest{
		SessionToken: s.Token,
		SpreadID:     s.Spread.ID,
		Kind:         s.Spread.Kind,
		Question:     s.Question,
		Lang:         s.Lang,
		Cards:        cards,
	}
}

// History facade

// History lists the identity's readings from whichever store owns them.
func (e *Engine) History(ctx context.Context, id ports.Identity) ([]domain.HistoryRecord, error) {
	if !id.Guest() {
		return e.users.ListByUser(ctx, id.UserID)
	}
	return e.guest.List(ctx, id.DeviceID)
}

// UpdateRecord rewrites a record's comment/rating in its owning store.
func (e *Engine) UpdateRecord(ctx context.Context, id ports.Identity, recordID int64, upd ports.RecordUpdate) error {
	if !id.Guest() {
		return e.users.Update(ctx, id.UserID, recordID, upd)
	}
	return e.guest.Update(ctx, id.DeviceID, recordID, upd)
}

// MarkViewed records the unviewed-to-viewed transition.
func (e *Engine) MarkViewed(ctx context.Context, id ports.Identity, recordID int64) error {
	if !id.Guest() {
		return e.users.MarkViewed(ctx, id.UserID, recordID)
	}
	return e.guest.MarkViewed(ctx, id.DeviceID, recordID)
}

// DeleteRecord removes a record from its owning store.
func (e *Engine) DeleteRecord(ctx context.Context, id ports.Identity, recordID int64) error {
	if !id.Guest() {
		return e.users.Delete(ctx, id.UserID, recordID)
	}
	return e.guest.Delete(ctx, id.DeviceID, recordID)
}

// AttachGuestReading moves the stashed guest reading into the signed-in
// user's remote history. Reports whether anything was attached.
func (e *Engine) AttachGuestReading(ctx context.Context, id ports.Identity) (bool, error) {
	if id.Guest() {
		return false, fmt.Errorf("attach guest reading: %w", domain.ErrAccessDenied)
	}
	rec, _, ok, err := e.guest.TakeGuestReading(ctx, id.DeviceID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := e.users.Insert(ctx, id.UserID, rec); err != nil {
		return false, fmt.Errorf("attach guest reading: %w", err)
	}
	return true, nil
}

// registry plumbing

func (e *Engine) session(token string) (*domain.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[token]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (e *Engine) active(token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[token]
	return ok
}

// sweepLocked drops sessions idle past the TTL.
func (e *Engine) sweepLocked() {
	cutoff := e.now().Add(-e.ttl)
	for token, s := range e.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(e.sessions, token)
		}
	}
}

func (e *Engine) view(s *domain.Session) SessionView {
	return SessionView{
		Token:    s.Token,
		Spread:   s.Spread,
		State:    s.State(),
		DeckSize: s.DeckSize(),
		Draws:    s.Draws(),
	}
}

func pickReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCardAlreadyDrawn):
		return "duplicate_card"
	case errors.Is(err, domain.ErrSpreadFull):
		return "spread_full"
	case errors.Is(err, domain.ErrCardNotInDeck):
		return "bad_index"
	case errors.Is(err, domain.ErrSessionState):
		return "bad_state"
	default:
		return "other"
	}
}
