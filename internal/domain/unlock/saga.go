package unlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scoutlink/unlock-api/internal/domain/grant"
	"github.com/scoutlink/unlock-api/internal/domain/identity"
	"github.com/scoutlink/unlock-api/internal/domain/wallet"
	"github.com/scoutlink/unlock-api/internal/pkg/logger"
	"github.com/scoutlink/unlock-api/internal/pkg/metrics"
)

const (
	defaultNotifyTimeout     = 15 * time.Second
	defaultCompensateTimeout = 10 * time.Second
	txRefPrefix              = "unlock:athlete:"
)

// TxRef is the ledger idempotency key of an unlock debit.
func TxRef(athleteID string) string { return txRefPrefix + athleteID }

type Deps struct {
	Ledger     Ledger
	Grants     GrantStore
	Pricing    PriceResolver
	Identities IdentityResolver
	Notifier   *Notifier
	Locker     Locker

	NotifyTimeout time.Duration
}

// Orchestrator runs the contact-unlock saga: idempotency check, price,
// debit, grant write, and compensation when the grant write fails.
type Orchestrator struct {
	ledger     Ledger
	grants     GrantStore
	pricing    PriceResolver
	identities IdentityResolver
	notifier   *Notifier
	locker     Locker

	notifyTimeout time.Duration
	now           func() time.Time
	wg            sync.WaitGroup
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.NotifyTimeout <= 0 {
		d.NotifyTimeout = defaultNotifyTimeout
	}
	return &Orchestrator{
		ledger:        d.Ledger,
		grants:        d.Grants,
		pricing:       d.Pricing,
		identities:    d.Identities,
		notifier:      d.Notifier,
		locker:        d.Locker,
		notifyTimeout: d.NotifyTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Result is the outcome of a successful unlock.
type Result struct {
	AlreadyUnlocked bool
	Grant           *grant.Grant
	Balance         decimal.Decimal
	Contacts        *identity.Identity
	TxID            string
	State           State
}

// Unlock spends credits so operatorID may see athleteID's contacts. A pair
// that is already unlocked returns without touching the ledger.
func (o *Orchestrator) Unlock(ctx context.Context, operatorID, athleteID string) (*Result, error) {
	if operatorID == "" || athleteID == "" {
		metrics.UnlockSagasTotal.WithLabelValues("invalid").Inc()
		return nil, ErrValidation
	}

	release, err := o.locker.Acquire(ctx, operatorID+":"+athleteID)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			metrics.UnlockSagasTotal.WithLabelValues("busy").Inc()
			return nil, ErrUnlockInProgress
		}
		metrics.UnlockSagasTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: acquire lock: %v", ErrStoreFailure, err)
	}
	defer release()

	r := &run{
		state: StateStart,
		log:   logger.FromContext(ctx).With().Str("operator_id", operatorID).Str("athlete_id", athleteID).Logger(),
	}

	res, outcome, err := o.unlock(ctx, r, operatorID, athleteID)
	metrics.UnlockSagasTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		r.abort(err)
		return nil, err
	}
	res.State = r.state
	return res, nil
}

func (o *Orchestrator) unlock(ctx context.Context, r *run, operatorID, athleteID string) (*Result, string, error) {
	existing, err := o.activeGrant(ctx, operatorID, athleteID)
	if err != nil {
		return nil, "failed", err
	}
	if existing != nil {
		balance, err := o.ledger.GetBalance(ctx, operatorID)
		if err != nil {
			return nil, "failed", fmt.Errorf("%w: balance: %v", ErrStoreFailure, err)
		}
		contacts := o.identities.Lookup(ctx, athleteID)
		r.advance(StateIdempotencyChecked)
		r.log.Info().Msg("contact already unlocked")
		return &Result{AlreadyUnlocked: true, Grant: existing, Balance: balance, Contacts: &contacts}, "already_unlocked", nil
	}
	r.advance(StateIdempotencyChecked)

	tariff, err := o.pricing.Active(ctx)
	if err != nil {
		return nil, "pricing_unavailable", fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}
	if !tariff.CreditsCost.IsPositive() {
		return nil, "pricing_unavailable", ErrPricingUnavailable
	}
	r.advance(StatePriced)

	mv, err := o.ledger.Debit(ctx, operatorID, tariff.CreditsCost, TxRef(athleteID), wallet.ContactUnlockKinds)
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientCredits) || errors.Is(err, wallet.ErrWalletNotFound) {
			return nil, "insufficient_credits", ErrInsufficientCredits
		}
		return nil, "failed", fmt.Errorf("%w: debit: %v", ErrStoreFailure, err)
	}
	r.advance(StateDebited)

	now := o.now()
	g, err := o.grants.Upsert(ctx, grant.Grant{
		OperatorID: operatorID,
		AthleteID:  athleteID,
		UnlockedAt: now,
		ExpiresAt:  tariff.ExpiresAt(now),
	})
	if err != nil {
		o.compensate(ctx, r, operatorID, mv)
		return nil, "failed", fmt.Errorf("%w: persist grant: %v", ErrStoreFailure, err)
	}
	r.advance(StateGrantPersisted)

	contacts := o.identities.Lookup(ctx, athleteID)
	o.notifyAsync(ctx, Notice{
		OperatorID:   operatorID,
		Athlete:      contacts,
		CreditsSpent: tariff.CreditsCost,
		Balance:      mv.Balance,
		ExpiresAt:    g.ExpiresAt,
	})
	r.advance(StateNotified)

	r.log.Info().
		Str("tx_id", mv.TxID).
		Str("credits", wallet.Format(tariff.CreditsCost)).
		Str("balance", wallet.Format(mv.Balance)).
		Bool("derived", g.Derived).
		Msg("contact unlocked")

	return &Result{Grant: g, Balance: mv.Balance, Contacts: &contacts, TxID: mv.TxID}, "unlocked", nil
}

// activeGrant asks the grant store first. While grants can only be recorded
// in the ledger (nothing readable, or nothing writable) the ledger debit for
// the pair stands in for the grant.
func (o *Orchestrator) activeGrant(ctx context.Context, operatorID, athleteID string) (*grant.Grant, error) {
	g, err := o.grants.FindActive(ctx, operatorID, athleteID)
	switch {
	case err == nil && g != nil:
		return g, nil
	case err == nil:
		degraded, err := o.grants.Degraded(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: grant store mode: %v", ErrStoreFailure, err)
		}
		if !degraded {
			return nil, nil
		}
	case !errors.Is(err, grant.ErrSchemaUnavailable):
		return nil, fmt.Errorf("%w: find grant: %v", ErrStoreFailure, err)
	}

	g, err = o.derivedGrant(ctx, operatorID, athleteID)
	if err != nil || g == nil || !g.Active(o.now()) {
		return nil, err
	}
	return g, nil
}

func (o *Orchestrator) derivedGrant(ctx context.Context, operatorID, athleteID string) (*grant.Grant, error) {
	tx, err := o.ledger.LatestByRef(ctx, operatorID, TxRef(athleteID))
	if err != nil {
		return nil, fmt.Errorf("%w: ledger lookup: %v", ErrStoreFailure, err)
	}
	if tx == nil {
		return nil, nil
	}

	tariff, err := o.pricing.Active(ctx)
	if err != nil {
		// Without a validity window the expiry of a ledger-only grant is unknown.
		return nil, nil
	}

	return &grant.Grant{
		OperatorID: operatorID,
		AthleteID:  athleteID,
		UnlockedAt: tx.SettledAt.UTC(),
		ExpiresAt:  tariff.ExpiresAt(tx.SettledAt.UTC()),
		Derived:    true,
	}, nil
}

// compensate undoes a debit after the grant write failed. Failures are
// logged only; the caller reports the original error.
func (o *Orchestrator) compensate(ctx context.Context, r *run, operatorID string, mv *wallet.Movement) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultCompensateTimeout)
	defer cancel()

	result := "ok"
	if err := o.ledger.DeleteTransaction(ctx, mv.TxID); err != nil {
		result = "failed"
		r.log.Error().Err(err).Str("tx_id", mv.TxID).Msg("compensation: delete transaction failed")
	}
	if err := o.ledger.RestoreBalance(ctx, operatorID, mv.PreviousBalance, mv.Balance); err != nil {
		result = "failed"
		r.log.Error().Err(err).
			Str("previous_balance", wallet.Format(mv.PreviousBalance)).
			Msg("compensation: restore balance failed")
	}
	metrics.CompensationsTotal.WithLabelValues(result).Inc()

	if result == "ok" {
		r.log.Info().Str("tx_id", mv.TxID).Str("balance", wallet.Format(mv.PreviousBalance)).Msg("debit compensated")
	}
}

func (o *Orchestrator) notifyAsync(ctx context.Context, n Notice) {
	if o.notifier == nil {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.notifyTimeout)
		defer cancel()

		n.Operator = o.identities.Lookup(ctx, n.OperatorID)
		if err := o.notifier.Send(ctx, n); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Str("operator_id", n.OperatorID).Msg("unlock notification failed")
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status reports the pair's current grant: the active one, or the latest
// expired one marked inactive.
type Status struct {
	Active   bool
	Grant    *grant.Grant
	Balance  decimal.Decimal
	Contacts *identity.Identity
}

func (o *Orchestrator) Status(ctx context.Context, operatorID, athleteID string) (*Status, error) {
	if operatorID == "" || athleteID == "" {
		return nil, ErrValidation
	}

	balance, err := o.ledger.GetBalance(ctx, operatorID)
	if err != nil {
		return nil, fmt.Errorf("%w: balance: %v", ErrStoreFailure, err)
	}

	g, err := o.activeGrant(ctx, operatorID, athleteID)
	if err != nil {
		return nil, err
	}
	if g != nil {
		contacts := o.identities.Lookup(ctx, athleteID)
		return &Status{Active: true, Grant: g, Balance: balance, Contacts: &contacts}, nil
	}

	latest, err := o.grants.FindLatest(ctx, operatorID, athleteID)
	if err != nil && !errors.Is(err, grant.ErrSchemaUnavailable) {
		return nil, fmt.Errorf("%w: latest grant: %v", ErrStoreFailure, err)
	}
	return &Status{Grant: latest, Balance: balance}, nil
}
