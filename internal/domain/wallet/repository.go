package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/scoutlink/unlock-api/internal/pkg/schema"
)

const defaultQueryTimeout = 3 * time.Second

// Options tunes the ledger repository.
type Options struct {
	QueryTimeout time.Duration
	// DedupeWindow bounds how far back a tx_ref is matched for replay.
	// Zero disables replay detection.
	DedupeWindow time.Duration
}

// Repository owns op_wallets and op_wallet_transactions. Each mutation runs in
// one SQL transaction holding the wallet row lock, so concurrent debits for
// the same operator serialize instead of losing updates.
type Repository struct {
	db           *sqlx.DB
	timeout      time.Duration
	dedupeWindow time.Duration
	now          func() time.Time
}

func NewRepository(db *sqlx.DB, opts Options) *Repository {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	return &Repository{
		db:           db,
		timeout:      opts.QueryTimeout,
		dedupeWindow: opts.DedupeWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) GetBalance(ctx context.Context, operatorID string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance, `SELECT balance_credits FROM op_wallets WHERE operator_id = $1`, operatorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("%w: get balance: %v", ErrInternal, err)
	}
	return Round(balance), nil
}

// Apply runs one debit or credit: lock wallet, check replay, bounds-check,
// insert the ledger row, then write the new balance.
func (r *Repository) Apply(ctx context.Context, m Mutation) (*Movement, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ErrInternal, err)
	}
	defer tx.Rollback()

	balance, err := r.lockWallet(ctx, tx, m.OperatorID, m.Direction == DirectionCredit)
	if err != nil {
		return nil, err
	}

	if existing, err := r.findReplay(ctx, tx, m); err != nil {
		return nil, err
	} else if existing != nil {
		if !Round(existing.Credits).Equal(m.Amount) {
			return nil, ErrReferenceConflict
		}
		return &Movement{
			TxID:            existing.ID,
			Kind:            Kind(existing.Kind),
			PreviousBalance: balance,
			Balance:         balance,
			Replayed:        true,
		}, nil
	}

	var next decimal.Decimal
	if m.Direction == DirectionDebit {
		var ok bool
		next, ok = Sub(balance, m.Amount)
		if !ok {
			return nil, ErrInsufficientCredits
		}
	} else {
		next = Add(balance, m.Amount)
	}

	now := r.now()
	txID := uuid.NewString()
	kind, err := r.insertTransaction(ctx, tx, txID, m, now)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE op_wallets
		SET balance_credits = $2, updated_at = $3
		WHERE operator_id = $1
	`, m.OperatorID, next, now); err != nil {
		return nil, fmt.Errorf("%w: update balance: %v", ErrInternal, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrInternal, err)
	}

	return &Movement{TxID: txID, Kind: kind, PreviousBalance: balance, Balance: next}, nil
}

func (r *Repository) lockWallet(ctx context.Context, tx *sqlx.Tx, operatorID string, create bool) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance, `SELECT balance_credits FROM op_wallets WHERE operator_id = $1 FOR UPDATE`, operatorID)
	if err == nil {
		return Round(balance), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: lock wallet: %v", ErrInternal, err)
	}
	if !create {
		return decimal.Zero, ErrWalletNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO op_wallets (operator_id, balance_credits, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (operator_id) DO NOTHING
	`, operatorID); err != nil {
		return decimal.Zero, fmt.Errorf("%w: create wallet: %v", ErrInternal, err)
	}

	if err := tx.GetContext(ctx, &balance, `SELECT balance_credits FROM op_wallets WHERE operator_id = $1 FOR UPDATE`, operatorID); err != nil {
		return decimal.Zero, fmt.Errorf("%w: lock new wallet: %v", ErrInternal, err)
	}
	return Round(balance), nil
}

func (r *Repository) findReplay(ctx context.Context, tx *sqlx.Tx, m Mutation) (*Transaction, error) {
	if !m.Replay || m.TxRef == "" || r.dedupeWindow <= 0 {
		return nil, nil
	}

	var existing Transaction
	err := tx.GetContext(ctx, &existing, `
		SELECT id, operator_id, kind, status, credits, tx_ref, settled_at
		FROM op_wallet_transactions
		WHERE operator_id = $1 AND tx_ref = $2 AND settled_at > $3
		ORDER BY settled_at DESC
		LIMIT 1
	`, m.OperatorID, m.TxRef, r.now().Add(-r.dedupeWindow))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: replay lookup: %v", ErrInternal, err)
	}
	return &existing, nil
}

// insertTransaction tries each kind inside a savepoint so an enum/check
// rejection does not abort the surrounding transaction.
func (r *Repository) insertTransaction(ctx context.Context, tx *sqlx.Tx, txID string, m Mutation, now time.Time) (Kind, error) {
	var ref interface{}
	if m.TxRef != "" {
		ref = m.TxRef
	}

	for _, kind := range m.Kinds {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT ledger_kind`); err != nil {
			return "", fmt.Errorf("%w: savepoint: %v", ErrInternal, err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO op_wallet_transactions (id, operator_id, kind, status, credits, tx_ref, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, txID, m.OperatorID, string(kind), StatusSettled, m.Amount, ref, now)
		if err == nil {
			if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT ledger_kind`); err != nil {
				return "", fmt.Errorf("%w: release savepoint: %v", ErrInternal, err)
			}
			return kind, nil
		}
		if !schema.IsRejectedValue(err) {
			return "", fmt.Errorf("%w: insert transaction: %v", ErrInternal, err)
		}

		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT ledger_kind`); err != nil {
			return "", fmt.Errorf("%w: rollback savepoint: %v", ErrInternal, err)
		}
	}

	return "", ErrKindRejected
}

// DeleteTransaction removes a ledger row. Compensation only.
func (r *Repository) DeleteTransaction(ctx context.Context, txID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM op_wallet_transactions WHERE id = $1`, txID)
	if err != nil {
		return fmt.Errorf("%w: delete transaction: %v", ErrInternal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrInternal, err)
	}
	if n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// RestoreBalance puts the balance back to previous. It first tries a
// compare-and-swap against the post-debit value; if another mutation landed
// in between it re-applies the difference instead, so that mutation is kept.
func (r *Repository) RestoreBalance(ctx context.Context, operatorID string, previous, current decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE op_wallets
		SET balance_credits = $2, updated_at = $4
		WHERE operator_id = $1 AND balance_credits = $3
	`, operatorID, Round(previous), Round(current), now)
	if err != nil {
		return fmt.Errorf("%w: restore balance: %v", ErrInternal, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	delta := Round(previous).Sub(Round(current))
	res, err = r.db.ExecContext(ctx, `
		UPDATE op_wallets
		SET balance_credits = ROUND(balance_credits + $2, 2), updated_at = $3
		WHERE operator_id = $1
	`, operatorID, delta, now)
	if err != nil {
		return fmt.Errorf("%w: restore balance delta: %v", ErrInternal, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// LatestByRef returns the newest ledger row for (operator, tx_ref).
func (r *Repository) LatestByRef(ctx context.Context, operatorID, txRef string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var t Transaction
	err := r.db.GetContext(ctx, &t, `
		SELECT id, operator_id, kind, status, credits, tx_ref, settled_at
		FROM op_wallet_transactions
		WHERE operator_id = $1 AND tx_ref = $2
		ORDER BY settled_at DESC
		LIMIT 1
	`, operatorID, txRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: latest by ref: %v", ErrInternal, err)
	}
	return &t, nil
}

func (r *Repository) ListTransactions(ctx context.Context, operatorID string, limit, offset int) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT id, operator_id, kind, status, credits, tx_ref, settled_at
		FROM op_wallet_transactions
		WHERE operator_id = $1
		ORDER BY settled_at DESC
		LIMIT $2 OFFSET $3
	`, operatorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", ErrInternal, err)
	}
	return transactions, nil
}
