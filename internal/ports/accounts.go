package ports

import (
	"context"
	"time"
)

// Tier is the account entitlement level.
type Tier string

const (
	TierGuest Tier = "guest"
	TierFree  Tier = "free"
	TierPlus  Tier = "plus"
)

// Identity is who is asking: a signed-in account, or a guest known only
// by a stable device id.
type Identity struct {
	UserID   string // empty for guests
	DeviceID string
	Tier     Tier
}

// Subject returns the usage-ledger key for this identity.
func (id Identity) Subject() string {
	if id.UserID != "" {
		return id.UserID
	}
	return "device:" + id.DeviceID
}

// Guest reports whether no account is signed in.
func (id Identity) Guest() bool { return id.UserID == "" }

// Accounts resolves account tier for signed-in users.
type Accounts interface {
	Lookup(ctx context.Context, userID string) (Tier, error)
}

// UsageLedger tracks reading consumption per subject and day. Counters
// are durable; the gate charges them exactly once per session.
type UsageLedger interface {
	Used(ctx context.Context, subject string, day time.Time) (int, error)
	Increment(ctx context.Context, subject string, day time.Time) error
}
