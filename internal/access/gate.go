// Package access implements the entitlement gate charged at the first
// card pick of a session.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coocood/freecache"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/domain"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

// FeatureReadings is the only gated feature today.
const FeatureReadings = "readings"

// TierCache is the explicitly owned account-tier cache. Lookups against
// the account service are cached with a TTL; usage counters never are.
type TierCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

type tierCache struct {
	cache *freecache.Cache
	ttl   int
}

// NewTierCache builds a freecache-backed TierCache. sizeMB <= 0 disables
// caching entirely.
func NewTierCache(sizeMB int, ttl time.Duration) TierCache {
	if sizeMB <= 0 {
		return noopCache{}
	}
	seconds := max(int(ttl.Seconds()), 1)
	return &tierCache{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:   seconds,
	}
}

func (c *tierCache) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *tierCache) Set(key string, value []byte) {
	_ = c.cache.Set([]byte(key), value, c.ttl)
}

type noopCache struct{}

func (noopCache) Get(string) ([]byte, bool) { return nil, false }
func (noopCache) Set(string, []byte)        {}

// GateMetrics is the slice of instrumentation the gate reports to.
type GateMetrics interface {
	IncAccessDenied()
	IncTierCacheHit()
	IncTierCacheMiss()
}

// Gate decides whether an identity may consume a reading, and charges
// usage once access is confirmed. Plus accounts always pass; free
// accounts and guests pass while under the daily allowance.
type Gate struct {
	accounts   ports.Accounts
	ledger     ports.UsageLedger
	cache      TierCache
	freePerDay int
	logger     *slog.Logger
	metrics    GateMetrics
}

func NewGate(accounts ports.Accounts, ledger ports.UsageLedger, cache TierCache, freePerDay int, logger *slog.Logger, m GateMetrics) *Gate {
	return &Gate{
		accounts:   accounts,
		ledger:     ledger,
		cache:      cache,
		freePerDay: freePerDay,
		logger:     logger,
		metrics:    m,
	}
}

// CheckAccess is the pure predicate: no usage is charged. Feature other
// than readings is never gated.
func (g *Gate) CheckAccess(ctx context.Context, id ports.Identity, feature string) (bool, error) {
	if feature != FeatureReadings {
		return true, nil
	}

	tier, err := g.tier(ctx, id)
	if err != nil {
		return false, err
	}
	if tier == ports.TierPlus {
		return true, nil
	}

	used, err := g.ledger.Used(ctx, id.Subject(), time.Now())
	if err != nil {
		return false, fmt.Errorf("usage lookup: %w", err)
	}
	return used < g.freePerDay, nil
}

// Allow runs the gate for a first pick: evaluates the predicate and, on
// success, charges usage exactly once before the draw is appended.
func (g *Gate) Allow(ctx context.Context, id ports.Identity) error {
	ok, err := g.CheckAccess(ctx, id, FeatureReadings)
	if err != nil {
		return err
	}
	if !ok {
		g.metrics.IncAccessDenied()
		g.logger.DebugContext(ctx, "reading denied", "subject", id.Subject())
		return domain.ErrAccessDenied
	}
	if err := g.IncrementUsage(ctx, id); err != nil {
		// The draw must not proceed uncharged.
		return fmt.Errorf("charge usage: %w", err)
	}
	return nil
}

// IncrementUsage charges one reading to the identity's ledger subject.
func (g *Gate) IncrementUsage(ctx context.Context, id ports.Identity) error {
	return g.ledger.Increment(ctx, id.Subject(), time.Now())
}

func (g *Gate) tier(ctx context.Context, id ports.Identity) (ports.Tier, error) {
	if id.Guest() {
		return ports.TierGuest, nil
	}

	key := "tier:" + id.UserID
	if raw, ok := g.cache.Get(key); ok {
		g.metrics.IncTierCacheHit()
		return ports.Tier(raw), nil
	}
	g.metrics.IncTierCacheMiss()

	tier, err := g.accounts.Lookup(ctx, id.UserID)
	if err != nil {
		return "", fmt.Errorf("tier lookup: %w", err)
	}
	g.cache.Set(key, []byte(tier))
	return tier, nil
}
