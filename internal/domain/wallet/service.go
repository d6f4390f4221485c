package wallet

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/scoutlink/unlock-api/internal/pkg/metrics"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetBalance(ctx context.Context, operatorID string) (decimal.Decimal, error) {
	if operatorID == "" {
		return decimal.Zero, ErrInvalidOperator
	}
	defer metrics.ObserveStoreCall("wallet_balance", time.Now())
	return s.repo.GetBalance(ctx, operatorID)
}

// Debit spends amount from an existing wallet. kinds is tried in order.
func (s *Service) Debit(ctx context.Context, operatorID string, amount decimal.Decimal, txRef string, kinds KindCandidates) (*Movement, error) {
	return s.apply(ctx, Mutation{
		OperatorID: operatorID,
		Amount:     amount,
		TxRef:      txRef,
		Kinds:      kinds,
		Direction:  DirectionDebit,
	})
}

// Credit adds amount, creating the wallet when it does not exist yet.
func (s *Service) Credit(ctx context.Context, operatorID string, amount decimal.Decimal, txRef string, kinds KindCandidates) (*Movement, error) {
	return s.apply(ctx, Mutation{
		OperatorID: operatorID,
		Amount:     amount,
		TxRef:      txRef,
		Kinds:      kinds,
		Direction:  DirectionCredit,
		Replay:     true,
	})
}

func (s *Service) apply(ctx context.Context, m Mutation) (*Movement, error) {
	if m.OperatorID == "" {
		return nil, ErrInvalidOperator
	}
	m.Amount = Round(m.Amount)
	if !m.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if len(m.Kinds) == 0 {
		return nil, ErrKindRejected
	}

	defer metrics.ObserveStoreCall("wallet_"+m.Direction.String(), time.Now())

	mv, err := s.repo.Apply(ctx, m)
	if err != nil {
		log.Warn().Err(err).
			Str("operator_id", m.OperatorID).
			Str("direction", m.Direction.String()).
			Str("amount", Format(m.Amount)).
			Str("tx_ref", m.TxRef).
			Msg("wallet mutation rejected")
		return nil, err
	}

	log.Info().
		Str("operator_id", m.OperatorID).
		Str("direction", m.Direction.String()).
		Str("kind", string(mv.Kind)).
		Str("amount", Format(m.Amount)).
		Str("balance", Format(mv.Balance)).
		Str("tx_id", mv.TxID).
		Bool("replayed", mv.Replayed).
		Msg("wallet mutation applied")
	return mv, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, txID string) error {
	defer metrics.ObserveStoreCall("wallet_delete_tx", time.Now())
	return s.repo.DeleteTransaction(ctx, txID)
}

// RestoreBalance resets operatorID to previous, given the balance the failed
// mutation left behind.
func (s *Service) RestoreBalance(ctx context.Context, operatorID string, previous, current decimal.Decimal) error {
	defer metrics.ObserveStoreCall("wallet_restore", time.Now())
	return s.repo.RestoreBalance(ctx, operatorID, previous, current)
}

func (s *Service) LatestByRef(ctx context.Context, operatorID, txRef string) (*Transaction, error) {
	defer metrics.ObserveStoreCall("wallet_latest_by_ref", time.Now())
	return s.repo.LatestByRef(ctx, operatorID, txRef)
}

func (s *Service) ListTransactions(ctx context.Context, operatorID string, limit, offset int) ([]Transaction, error) {
	if operatorID == "" {
		return nil, ErrInvalidOperator
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactions(ctx, operatorID, limit, offset)
}
