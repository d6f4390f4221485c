package unlock

import (
	"context"
	"fmt"

	"github.com/scoutlink/unlock-api/internal/domain/grant"
	"github.com/scoutlink/unlock-api/internal/pkg/logger"
)

// ResetResult summarises one revocation sweep.
type ResetResult struct {
	OperatorID string
	Cleared    int64
	Tables     []grant.TableOutcome
	// Remaining is nil when the active view could not be read.
	Remaining *int64
}

// Reset voids every grant held by operatorID and re-counts what is still
// active. Running it again is a no-op.
func (o *Orchestrator) Reset(ctx context.Context, operatorID string) (*ResetResult, error) {
	if operatorID == "" {
		return nil, ErrValidation
	}

	summary, err := o.grants.VoidAll(ctx, operatorID)
	if err != nil {
		return nil, fmt.Errorf("%w: void grants: %v", ErrStoreFailure, err)
	}

	remaining, err := o.grants.CountActive(ctx, operatorID)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("operator_id", operatorID).Msg("could not verify remaining unlocks")
		remaining = nil
	}
	// Ledger-only grants survive the sweep, so the count cannot be trusted.
	if remaining != nil {
		degraded, err := o.grants.Degraded(ctx)
		if err != nil || degraded {
			logger.FromContext(ctx).Warn().Err(err).Str("operator_id", operatorID).Msg("grants recorded in ledger only, remaining unlocks unverifiable")
			remaining = nil
		}
	}

	res := &ResetResult{
		OperatorID: operatorID,
		Cleared:    summary.Cleared(),
		Tables:     summary.Tables,
		Remaining:  remaining,
	}

	ev := logger.FromContext(ctx).Info().Str("operator_id", operatorID).Int64("cleared", res.Cleared)
	if remaining != nil {
		ev = ev.Int64("remaining", *remaining)
	}
	ev.Msg("unlock reset sweep finished")
	return res, nil
}
