package unlock

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/scoutlink/unlock-api/internal/domain/grant"
	"github.com/scoutlink/unlock-api/internal/domain/identity"
	"github.com/scoutlink/unlock-api/internal/domain/pricing"
	"github.com/scoutlink/unlock-api/internal/domain/wallet"
)

// Ledger is the part of the wallet the saga drives.
type Ledger interface {
	GetBalance(ctx context.Context, operatorID string) (decimal.Decimal, error)
	Debit(ctx context.Context, operatorID string, amount decimal.Decimal, txRef string, kinds wallet.KindCandidates) (*wallet.Movement, error)
	DeleteTransaction(ctx context.Context, txID string) error
	RestoreBalance(ctx context.Context, operatorID string, previous, current decimal.Decimal) error
	LatestByRef(ctx context.Context, operatorID, txRef string) (*wallet.Transaction, error)
}

type GrantStore interface {
	FindActive(ctx context.Context, operatorID, athleteID string) (*grant.Grant, error)
	FindLatest(ctx context.Context, operatorID, athleteID string) (*grant.Grant, error)
	Upsert(ctx context.Context, g grant.Grant) (*grant.Grant, error)
	VoidAll(ctx context.Context, operatorID string) (*grant.VoidSummary, error)
	CountActive(ctx context.Context, operatorID string) (*int64, error)
	// Degraded reports that new grants are recorded in the ledger only.
	Degraded(ctx context.Context) (bool, error)
}

type PriceResolver interface {
	Active(ctx context.Context) (*pricing.Tariff, error)
}

type IdentityResolver interface {
	Lookup(ctx context.Context, id string) identity.Identity
}

// Locker serialises sagas for one (operator, athlete) pair. Acquire returns
// ErrLockHeld when another saga owns key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
