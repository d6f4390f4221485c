package wallet

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type creditsArg string

// Match compares the driver value numerically so "6" and "6.00" agree.
func (c creditsArg) Match(v driver.Value) bool {
	var got decimal.Decimal
	if err := got.Scan(v); err != nil {
		return false
	}
	return got.Equal(decimal.RequireFromString(string(c)))
}

func setupWalletMock(t *testing.T, opts Options) (*Repository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewRepository(sqlxDB, opts)
	repo.now = func() time.Time { return fixedNow }

	closer := func() { sqlxDB.Close() }
	return repo, mock, closer
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const (
	lockWalletSQL = "SELECT balance_credits FROM op_wallets WHERE operator_id = $1 FOR UPDATE"
	insertTxSQL   = "INSERT INTO op_wallet_transactions (id, operator_id, kind, status, credits, tx_ref, settled_at)"
	updateBalSQL  = "UPDATE op_wallets SET balance_credits = $2, updated_at = $3 WHERE operator_id = $1"
	replaySQL     = "FROM op_wallet_transactions WHERE operator_id = $1 AND tx_ref = $2 AND settled_at > $3"
)

func TestApplyDebitSubtractsAndRecordsMagnitude(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_credits"}).AddRow("10.00"))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertTxSQL)).
		WithArgs(sqlmock.AnyArg(), "op-1", "DEBIT_CONTACT_UNLOCK", StatusSettled, creditsArg("4.00"), "unlock:athlete:9", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(updateBalSQL)).
		WithArgs("op-1", creditsArg("6.00"), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mv, err := repo.Apply(context.Background(), Mutation{
		OperatorID: "op-1",
		Amount:     dec("4.00"),
		TxRef:      "unlock:athlete:9",
		Kinds:      ContactUnlockKinds,
		Direction:  DirectionDebit,
	})
	require.NoError(t, err)
	require.Equal(t, "6.00", Format(mv.Balance))
	require.Equal(t, "10.00", Format(mv.PreviousBalance))
	require.Equal(t, KindDebitContactUnlock, mv.Kind)
	require.NotEmpty(t, mv.TxID)
	require.False(t, mv.Replayed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDebitBeyondBalanceWritesNothing(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_credits"}).AddRow("3.99"))
	mock.ExpectRollback()

	_, err := repo.Apply(context.Background(), Mutation{
		OperatorID: "op-1",
		Amount:     dec("4.00"),
		Kinds:      ContactUnlockKinds,
		Direction:  DirectionDebit,
	})
	require.ErrorIs(t, err, ErrInsufficientCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDebitWithoutWallet(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Apply(context.Background(), Mutation{
		OperatorID: "op-1",
		Amount:     dec("1"),
		Kinds:      ContactUnlockKinds,
		Direction:  DirectionDebit,
	})
	require.ErrorIs(t, err, ErrWalletNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyFallsBackToNextAcceptedKind(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	enumErr := &pq.Error{Code: "22P02", Message: `invalid input value for enum wallet_tx_kind: "DEBIT_CONTACT_UNLOCK"`}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_credits"}).AddRow("5"))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertTxSQL)).
		WithArgs(sqlmock.AnyArg(), "op-1", "DEBIT_CONTACT_UNLOCK", StatusSettled, creditsArg("2"), nil, fixedNow).
		WillReturnError(enumErr)
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertTxSQL)).
		WithArgs(sqlmock.AnyArg(), "op-1", "CONTACT_UNLOCK", StatusSettled, creditsArg("2"), nil, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(updateBalSQL)).
		WithArgs("op-1", creditsArg("3"), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mv, err := repo.Apply(context.Background(), Mutation{
		OperatorID: "op-1",
		Amount:     dec("2"),
		Kinds:      ContactUnlockKinds,
		Direction:  DirectionDebit,
	})
	require.NoError(t, err)
	require.Equal(t, KindContactUnlock, mv.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyFailsWhenNoKindAccepted(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	checkErr := &pq.Error{Code: "23514", Message: "violates check constraint"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_credits"}).AddRow("5"))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertTxSQL)).WillReturnError(checkErr)
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Apply(context.Background(), Mutation{
		OperatorID: "op-1",
		Amount:     dec("1"),
		Kinds:      KindCandidates{KindDebit},
		Direction:  DirectionDebit,
	})
	require.ErrorIs(t, err, ErrKindRejected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReplaysSameReferenceInsideWindow(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{DedupeWindow: 2 * time.Minute})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_credits"}).AddRow("16.00"))
	mock.ExpectQuery(regexp.QuoteMeta(replaySQL)).
		WithArgs("op-1", "invoice-77", fixedNow.Add(-2*time.Minute)).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("tx-1", "op-1", "ADMIN_TOPUP", "SETTLED", "10.00", "invoice-77", fixedNow.Add(-time.Minute)))
	mock.ExpectRollback()

	mv, err := repo.Apply(context.Background(), Mutation{
		OperatorID: "op-1",
		Amount:     dec("10.00"),
		TxRef:      "invoice-77",
		Kinds:      AdminTopUpKinds,
		Direction:  DirectionCredit,
		Replay:     true,
	})
	require.NoError(t, err)
	require.True(t, mv.Replayed)
	require.Equal(t, "tx-1", mv.TxID)
	require.Equal(t, "16.00", Format(mv.Balance))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRejectsReferenceReuseWithOtherAmount(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{DedupeWindow: 2 * time.Minute})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_credits"}).AddRow("16.00"))
	mock.ExpectQuery(regexp.QuoteMeta(replaySQL)).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("tx-1", "op-1", "ADMIN_TOPUP", "SETTLED", "10.00", "invoice-77", fixedNow))
	mock.ExpectRollback()

	_, err := repo.Apply(context.Background(), Mutation{
		OperatorID: "op-1",
		Amount:     dec("5.00"),
		TxRef:      "invoice-77",
		Kinds:      AdminTopUpKinds,
		Direction:  DirectionCredit,
		Replay:     true,
	})
	require.ErrorIs(t, err, ErrReferenceConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A second unlock debit for the same pair, e.g. after a reset voided the
// grant, is charged again even inside the dedupe window.
func TestApplyUnlockDebitIsChargedInsideWindow(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{DedupeWindow: 2 * time.Minute})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_credits"}).AddRow("6.00"))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertTxSQL)).
		WithArgs(sqlmock.AnyArg(), "op-1", "DEBIT_CONTACT_UNLOCK", StatusSettled, creditsArg("4.00"), "unlock:athlete:9", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(updateBalSQL)).
		WithArgs("op-1", creditsArg("2.00"), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mv, err := repo.Apply(context.Background(), Mutation{
		OperatorID: "op-1",
		Amount:     dec("4.00"),
		TxRef:      "unlock:athlete:9",
		Kinds:      ContactUnlockKinds,
		Direction:  DirectionDebit,
	})
	require.NoError(t, err)
	require.False(t, mv.Replayed)
	require.Equal(t, "2.00", Format(mv.Balance))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCreditCreatesMissingWallet(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-2").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO op_wallets (operator_id, balance_credits, updated_at)")).
		WithArgs("op-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(lockWalletSQL)).
		WithArgs("op-2").
		WillReturnRows(sqlmock.NewRows([]string{"balance_credits"}).AddRow("0"))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(insertTxSQL)).
		WithArgs(sqlmock.AnyArg(), "op-2", "ADMIN_TOPUP", StatusSettled, creditsArg("10"), "topup-1", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT ledger_kind")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(updateBalSQL)).
		WithArgs("op-2", creditsArg("10"), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mv, err := repo.Apply(context.Background(), Mutation{
		OperatorID: "op-2",
		Amount:     dec("10"),
		TxRef:      "topup-1",
		Kinds:      AdminTopUpKinds,
		Direction:  DirectionCredit,
	})
	require.NoError(t, err)
	require.Equal(t, "10.00", Format(mv.Balance))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreBalanceCompareAndSwap(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("WHERE operator_id = $1 AND balance_credits = $3")).
		WithArgs("op-1", creditsArg("10"), creditsArg("6"), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RestoreBalance(context.Background(), "op-1", dec("10"), dec("6")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreBalanceFallsBackToDelta(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("WHERE operator_id = $1 AND balance_credits = $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET balance_credits = ROUND(balance_credits + $2, 2)")).
		WithArgs("op-1", creditsArg("4"), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RestoreBalance(context.Background(), "op-1", dec("10"), dec("6")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTransactionReportsMissingRow(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM op_wallet_transactions WHERE id = $1")).
		WithArgs("tx-404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteTransaction(context.Background(), "tx-404")
	require.ErrorIs(t, err, ErrTransactionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalanceMissingWalletIsZero(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance_credits FROM op_wallets WHERE operator_id = $1")).
		WithArgs("op-9").
		WillReturnError(sql.ErrNoRows)

	balance, err := repo.GetBalance(context.Background(), "op-9")
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

var txColumns = []string{"id", "operator_id", "kind", "status", "credits", "tx_ref", "settled_at"}

func TestListTransactionsDefaultsLimit(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE operator_id = $1 ORDER BY settled_at DESC LIMIT $2 OFFSET $3")).
		WithArgs("op-1", 20, 0).
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow("tx-2", "op-1", "DEBIT_CONTACT_UNLOCK", StatusSettled, "4.00", "unlock:athlete:9", fixedNow).
			AddRow("tx-1", "op-1", "ADMIN_TOPUP", StatusSettled, "10.00", nil, fixedNow.Add(-time.Hour)))

	items, err := repo.ListTransactions(context.Background(), "op-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "unlock:athlete:9", *items[0].TxRef)
	require.Nil(t, items[1].TxRef)
	require.Equal(t, "10.00", Format(items[1].Credits))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestByRefMissingIsNil(t *testing.T) {
	repo, mock, close := setupWalletMock(t, Options{})
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE operator_id = $1 AND tx_ref = $2 ORDER BY settled_at DESC LIMIT 1")).
		WithArgs("op-1", "unlock:athlete:9").
		WillReturnRows(sqlmock.NewRows(txColumns))

	tx, err := repo.LatestByRef(context.Background(), "op-1", "unlock:athlete:9")
	require.NoError(t, err)
	require.Nil(t, tx)
	require.NoError(t, mock.ExpectationsWereMet())
}
