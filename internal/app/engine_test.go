package app_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/adapters/decks"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/app"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/metrics"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

type zeroRNG struct{}

func (zeroRNG) Intn(int) int { return 0 }

type fakeGate struct {
	allows  int
	denials int
	deny    bool
	err     error
}

func (g *fakeGate) Allow(_ context.Context, _ ports.Identity) error {
	if g.err != nil {
		return g.err
	}
	if g.deny {
		g.denials++
		return domain.ErrAccessDenied
	}
	g.allows++
	return nil
}

type fakeSynth struct {
	fetches int
	out     *domain.Synthesis
	err     error
	lastReq ports.SynthesisRequest
}

func (f *fakeSynth) Fetch(_ context.Context, req ports.SynthesisRequest) (*domain.Synthesis, error) {
	f.fetches++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeGuestHistory struct {
	mu      sync.Mutex
	appends []domain.HistoryRecord
	stashes int
	stash   *domain.HistoryRecord
	stashed *domain.Synthesis
}

func (f *fakeGuestHistory) Append(_ context.Context, _ string, rec domain.HistoryRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.appends {
		if existing.SessionToken == rec.SessionToken {
			return false, nil
		}
	}
	f.appends = append(f.appends, rec)
	return true, nil
}

func (f *fakeGuestHistory) List(_ context.Context, _ string) ([]domain.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.HistoryRecord(nil), f.appends...), nil
}

func (f *fakeGuestHistory) Update(_ context.Context, _ string, _ int64, _ ports.RecordUpdate) error {
	return nil
}
func (f *fakeGuestHistory) MarkViewed(_ context.Context, _ string, _ int64) error { return nil }
func (f *fakeGuestHistory) Delete(_ context.Context, _ string, _ int64) error     { return nil }

func (f *fakeGuestHistory) StashGuestReading(_ context.Context, _ string, rec domain.HistoryRecord, raw *domain.Synthesis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stashes++
	f.stash = &rec
	f.stashed = raw
	return nil
}

func (f *fakeGuestHistory) TakeGuestReading(_ context.Context, _ string) (domain.HistoryRecord, *domain.Synthesis, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stash == nil {
		return domain.HistoryRecord{}, nil, false, nil
	}
	rec := *f.stash
	f.stash = nil
	return rec, f.stashed, true, nil
}

type fakeUserHistory struct {
	mu      sync.Mutex
	inserts []domain.HistoryRecord
	err     error
}

func (f *fakeUserHistory) Insert(_ context.Context, _ string, rec domain.HistoryRecord) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, rec)
	return nil
}

func (f *fakeUserHistory) ListByUser(_ context.Context, _ string) ([]domain.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.HistoryRecord(nil), f.inserts...), nil
}

func (f *fakeUserHistory) Update(_ context.Context, _ string, _ int64, _ ports.RecordUpdate) error {
	return nil
}
func (f *fakeUserHistory) MarkViewed(_ context.Context, _ string, _ int64) error { return nil }
func (f *fakeUserHistory) Delete(_ context.Context, _ string, _ int64) error     { return nil }

type fixture struct {
	engine *app.Engine
	gate   *fakeGate
	synth  *fakeSynth
	guest  *fakeGuestHistory
	users  *fakeUserHistory
}

func threeCardSynthesis() *domain.Synthesis {
	return &domain.Synthesis{
		Kind: domain.SpreadThreeCard,
		ThreeCard: &domain.ThreeCardSynthesis{
			Theme: "Renewal", Past: "a", Present: "b", Future: "c", Reflection: "r",
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := decks.NewEmbeddedStore()
	gate := &fakeGate{}
	synth := &fakeSynth{out: threeCardSynthesis()}
	guest := &fakeGuestHistory{}
	users := &fakeUserHistory{}
	engine := app.NewEngine(store, store, gate, synth, guest, users,
		zeroRNG{}, slog.Default(), metrics.New())
	return &fixture{engine: engine, gate: gate, synth: synth, guest: guest, users: users}
}

var guestID = ports.Identity{DeviceID: "dev-1"}

func completeThreeCard(t *testing.T, f *fixture) string {
	t.Helper()
	view, err := f.engine.StartSession(context.Background(), app.StartInput{
		SpreadID: "three_card", Question: "E agora?", Lang: "pt",
	})
	require.NoError(t, err)
	for _, idx := range []int{0, 1, 2} {
		_, err := f.engine.Pick(context.Background(), view.Token, idx, guestID)
		require.NoError(t, err)
	}
	return view.Token
}

func TestStartSession_ShuffledAndAwaiting(t *testing.T) {
	f := newFixture(t)
	view, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)

	assert.NotEmpty(t, view.Token)
	assert.Equal(t, domain.StateAwaitingSelection, view.State)
	assert.Equal(t, 78, view.DeckSize)
	assert.Empty(t, view.Draws)
}

func TestStartSession_UnknownSpread(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "horseshoe"})
	require.True(t, errors.Is(err, domain.ErrSpreadNotFound))
}

func TestStartSession_TokensAreUnique(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for range 10 {
		view, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
		require.NoError(t, err)
		require.False(t, seen[view.Token], "token %s repeated", view.Token)
		seen[view.Token] = true
	}
}

func TestPick_ThreeCardScenario(t *testing.T) {
	f := newFixture(t)
	view, err := f.engine.StartSession(context.Background(), app.StartInput{
		SpreadID: "three_card", Question: "E agora?", Lang: "pt",
	})
	require.NoError(t, err)

	var completions int
	var nav *domain.CompletionPayload
	for i, idx := range []int{0, 1, 2} {
		out, err := f.engine.Pick(context.Background(), view.Token, idx, guestID)
		require.NoError(t, err)
		assert.Equal(t, i, out.Draw.Position)
		if out.Completed {
			completions++
			nav = out.Navigation
		}
	}

	assert.Equal(t, 1, completions, "completion fired once")
	assert.Equal(t, 1, f.gate.allows, "gate evaluated exactly once, on the first pick")
	require.NotNil(t, nav, "navigation payload delivered with the final pick")
	assert.Equal(t, "three_card", nav.SpreadID)
	assert.Len(t, nav.Cards, 3)
	assert.Equal(t, view.Token, nav.Token)
}

func TestPick_AccessDeniedKeepsSessionPaused(t *testing.T) {
	f := newFixture(t)
	f.gate.deny = true
	view, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)

	// Each denied attempt raises the signal again.
	for range 2 {
		_, err := f.engine.Pick(context.Background(), view.Token, 0, guestID)
		require.True(t, errors.Is(err, domain.ErrAccessDenied))
	}
	assert.Equal(t, 2, f.gate.denials)

	current, err := f.engine.Reveal(context.Background(), view.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingSelection, current.State)
	assert.Empty(t, current.Draws)

	// After upgrade/login the same flow proceeds.
	f.gate.deny = false
	out, err := f.engine.Pick(context.Background(), view.Token, 0, guestID)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Draw.Position)
	assert.Equal(t, 1, f.gate.allows)
}

func TestPick_GateNotReEvaluatedAfterFirstDraw(t *testing.T) {
	f := newFixture(t)
	view, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)

	_, err = f.engine.Pick(context.Background(), view.Token, 0, guestID)
	require.NoError(t, err)

	// Denial after the first draw is irrelevant: the gate must not run.
	f.gate.deny = true
	_, err = f.engine.Pick(context.Background(), view.Token, 1, guestID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.gate.denials)
	assert.Equal(t, 1, f.gate.allows)
}

func TestReshuffle_ResetsPicks(t *testing.T) {
	f := newFixture(t)
	view, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)

	_, err = f.engine.Pick(context.Background(), view.Token, 0, guestID)
	require.NoError(t, err)

	view, err = f.engine.Reshuffle(context.Background(), view.Token)
	require.NoError(t, err)
	assert.Empty(t, view.Draws)
	assert.Equal(t, domain.StateAwaitingSelection, view.State)
	assert.Equal(t, 78, view.DeckSize)
}

func TestResult_FetchesSynthesisOncePerToken(t *testing.T) {
	f := newFixture(t)
	token := completeThreeCard(t, f)

	res, err := f.engine.Result(context.Background(), token, guestID)
	require.NoError(t, err)
	require.NotNil(t, res.Synthesis)
	assert.Equal(t, "Renewal", res.Summary.Theme)
	assert.Len(t, res.Cards, 3)

	// Remount: same token, no second network request, same result.
	res2, err := f.engine.Result(context.Background(), token, guestID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.synth.fetches)
	assert.Equal(t, res.Synthesis, res2.Synthesis)
}

func TestResult_PickReversalThreadedIntoRequest(t *testing.T) {
	f := newFixture(t)
	token := completeThreeCard(t, f)

	_, err := f.engine.Result(context.Background(), token, guestID)
	require.NoError(t, err)

	req := f.synth.lastReq
	assert.Equal(t, token, req.SessionToken)
	assert.Equal(t, domain.SpreadThreeCard, req.Kind)
	require.Len(t, req.Cards, 3)
	assert.Equal(t, "Passado", req.Cards[0].Position)
	for _, c := range req.Cards {
		assert.False(t, c.Reversed, "zeroRNG draws are upright; payload must carry the pick-time flag")
	}
}

func TestResult_BeforeCompletionRejected(t *testing.T) {
	f := newFixture(t)
	view, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)

	_, err = f.engine.Result(context.Background(), view.Token, guestID)
	require.True(t, errors.Is(err, domain.ErrSessionState))
	assert.Zero(t, f.synth.fetches)
}

func TestResult_SynthesisFailureStillPersists(t *testing.T) {
	f := newFixture(t)
	f.synth.err = domain.ErrSynthesisUnavailable
	token := completeThreeCard(t, f)

	res, err := f.engine.Result(context.Background(), token, guestID)
	require.NoError(t, err, "synthesis failure must not block the cards")
	assert.Nil(t, res.Synthesis)
	assert.Len(t, res.Cards, 3)

	require.Len(t, f.guest.appends, 1, "record persisted despite null synthesis")
	assert.Empty(t, f.guest.appends[0].Summary, "empty narrative field")
	assert.Equal(t, token, f.guest.appends[0].SessionToken)
}

func TestResult_HistoryWrittenOncePerSession(t *testing.T) {
	f := newFixture(t)
	token := completeThreeCard(t, f)

	for range 3 {
		_, err := f.engine.Result(context.Background(), token, guestID)
		require.NoError(t, err)
	}
	assert.Len(t, f.guest.appends, 1)
	assert.Equal(t, 1, f.guest.stashes, "guest slot stashed once")
}

func TestResult_GuestRecordContents(t *testing.T) {
	f := newFixture(t)
	token := completeThreeCard(t, f)
	_, err := f.engine.Result(context.Background(), token, guestID)
	require.NoError(t, err)

	rec := f.guest.appends[0]
	assert.Equal(t, "three_card", rec.SpreadID)
	assert.Equal(t, "3 cartas", rec.SpreadBadge)
	assert.Len(t, rec.CardIDs, 3)
	assert.Len(t, rec.CardImages, 3)
	assert.Len(t, rec.CardNames, 3)
	assert.Equal(t, []string{"Passado", "Presente", "Futuro"}, rec.PositionNames)
	assert.Equal(t, "Renewal", rec.Theme)
	assert.Equal(t, "a b c", rec.Summary)
	assert.NotZero(t, rec.ID)
}

func TestResult_SignedInWritesRemoteOnly(t *testing.T) {
	f := newFixture(t)
	signedIn := ports.Identity{UserID: "u1", DeviceID: "dev-1"}
	view, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)
	for _, idx := range []int{0, 1, 2} {
		_, err := f.engine.Pick(context.Background(), view.Token, idx, signedIn)
		require.NoError(t, err)
	}

	_, err = f.engine.Result(context.Background(), view.Token, signedIn)
	require.NoError(t, err)

	assert.Len(t, f.users.inserts, 1, "remote store owns the record")
	assert.Empty(t, f.guest.appends, "guest list untouched for signed-in users")
	assert.Zero(t, f.guest.stashes)
}

func TestResult_RemoteWriteFailureIsSilent(t *testing.T) {
	f := newFixture(t)
	f.users.err = errors.New("backend down")
	signedIn := ports.Identity{UserID: "u1"}
	view, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)
	for _, idx := range []int{0, 1, 2} {
		_, err := f.engine.Pick(context.Background(), view.Token, idx, signedIn)
		require.NoError(t, err)
	}

	res, err := f.engine.Result(context.Background(), view.Token, signedIn)
	require.NoError(t, err, "persistence failure never blocks the view")
	require.NotNil(t, res.Synthesis)
}

func TestAttachGuestReading(t *testing.T) {
	f := newFixture(t)
	token := completeThreeCard(t, f)
	_, err := f.engine.Result(context.Background(), token, guestID)
	require.NoError(t, err)

	signedIn := ports.Identity{UserID: "u1", DeviceID: "dev-1"}
	attached, err := f.engine.AttachGuestReading(context.Background(), signedIn)
	require.NoError(t, err)
	assert.True(t, attached)
	require.Len(t, f.users.inserts, 1)
	assert.Equal(t, token, f.users.inserts[0].SessionToken)

	// Slot is one-shot.
	attached, err = f.engine.AttachGuestReading(context.Background(), signedIn)
	require.NoError(t, err)
	assert.False(t, attached)
}

func TestHistory_RoutesByIdentity(t *testing.T) {
	f := newFixture(t)
	token := completeThreeCard(t, f)
	_, err := f.engine.Result(context.Background(), token, guestID)
	require.NoError(t, err)

	recs, err := f.engine.History(context.Background(), guestID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = f.engine.History(context.Background(), ports.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// blockingSynth holds Fetch open until released, so tests can observe
// what concurrent Result callers do while a fetch is in flight.
type blockingSynth struct {
	entered chan struct{}
	release chan struct{}
	out     *domain.Synthesis

	mu      sync.Mutex
	fetches int
}

func newBlockingSynth(out *domain.Synthesis) *blockingSynth {
	return &blockingSynth{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
		out:     out,
	}
}

func (f *blockingSynth) Fetch(_ context.Context, _ ports.SynthesisRequest) (*domain.Synthesis, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	f.entered <- struct{}{}
	<-f.release
	return f.out, nil
}

// blockingGate holds Allow open until released.
type blockingGate struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	allows int
}

func newBlockingGate() *blockingGate {
	return &blockingGate{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
}

func (g *blockingGate) Allow(_ context.Context, _ ports.Identity) error {
	g.mu.Lock()
	g.allows++
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.release
	return nil
}

type resultOutcome struct {
	res app.ReadingResult
	err error
}

func TestResult_ConcurrentCallersWaitForOneFetch(t *testing.T) {
	store := decks.NewEmbeddedStore()
	synth := newBlockingSynth(threeCardSynthesis())
	guest := &fakeGuestHistory{}
	engine := app.NewEngine(store, store, &fakeGate{}, synth, guest,
		&fakeUserHistory{}, zeroRNG{}, slog.Default(), metrics.New())

	view, err := engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)
	for _, idx := range []int{0, 1, 2} {
		_, err := engine.Pick(context.Background(), view.Token, idx, guestID)
		require.NoError(t, err)
	}

	first := make(chan resultOutcome, 1)
	go func() {
		res, err := engine.Result(context.Background(), view.Token, guestID)
		first <- resultOutcome{res, err}
	}()
	<-synth.entered

	// A second caller for the same token must wait for the in-flight
	// fetch instead of returning a nil synthesis.
	second := make(chan resultOutcome, 1)
	go func() {
		res, err := engine.Result(context.Background(), view.Token, guestID)
		second <- resultOutcome{res, err}
	}()
	select {
	case out := <-second:
		t.Fatalf("second caller returned mid-fetch: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}

	close(synth.release)
	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	require.NotNil(t, r1.res.Synthesis)
	require.NotNil(t, r2.res.Synthesis)
	assert.Equal(t, r1.res.Synthesis, r2.res.Synthesis)
	assert.Equal(t, 1, synth.fetches)

	// Persistence began only after the fetch resolved: the single
	// record carries the synthesis summary, not an empty narrative.
	require.Len(t, guest.appends, 1)
	assert.Equal(t, "Renewal", guest.appends[0].Theme)
	assert.Equal(t, "a b c", guest.appends[0].Summary)
}

func TestPick_ConcurrentFirstPicksEvaluateGateOnce(t *testing.T) {
	store := decks.NewEmbeddedStore()
	gate := newBlockingGate()
	engine := app.NewEngine(store, store, gate, &fakeSynth{}, &fakeGuestHistory{},
		&fakeUserHistory{}, zeroRNG{}, slog.Default(), metrics.New())

	view, err := engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)

	done := make(chan error, 2)
	for _, idx := range []int{0, 1} {
		go func() {
			_, err := engine.Pick(context.Background(), view.Token, idx, guestID)
			done <- err
		}()
	}
	<-gate.entered

	// The losing first pick waits for the claim to settle; the gate is
	// never entered a second time.
	select {
	case <-gate.entered:
		t.Fatal("gate evaluated concurrently for one session")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Equal(t, 1, gate.allows, "usage charged once for the session")

	current, err := engine.Reveal(context.Background(), view.Token)
	require.NoError(t, err)
	assert.Len(t, current.Draws, 2)
}

func TestSession_UnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Pick(context.Background(), "nope", 0, guestID)
	require.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestReveal_FlipsAfterDelay(t *testing.T) {
	f := newFixture(t)
	base := time.Now()
	now := base
	f.engine.SetNow(func() time.Time { return now })

	view, err := f.engine.StartSession(context.Background(), app.StartInput{SpreadID: "three_card"})
	require.NoError(t, err)
	_, err = f.engine.Pick(context.Background(), view.Token, 0, guestID)
	require.NoError(t, err)

	view, err = f.engine.Reveal(context.Background(), view.Token)
	require.NoError(t, err)
	assert.False(t, view.Draws[0].Revealed)

	now = base.Add(domain.RevealDelay)
	view, err = f.engine.Reveal(context.Background(), view.Token)
	require.NoError(t, err)
	assert.True(t, view.Draws[0].Revealed)
}
