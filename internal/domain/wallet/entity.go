package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind labels a ledger row. Deployments migrated the enum over time, so every
// mutation carries an ordered list of acceptable spellings (see KindCandidates).
type Kind string

const (
	KindDebitContactUnlock Kind = "DEBIT_CONTACT_UNLOCK"
	KindContactUnlock      Kind = "CONTACT_UNLOCK"
	KindUnlock             Kind = "UNLOCK"
	KindDebit              Kind = "DEBIT"

	KindAdminTopUp Kind = "ADMIN_TOPUP"
	KindTopUp      Kind = "TOPUP"
	KindCredit     Kind = "CREDIT"
)

// KindCandidates is tried in order; the first value the store accepts wins.
type KindCandidates []Kind

var (
	ContactUnlockKinds = KindCandidates{KindDebitContactUnlock, KindContactUnlock, KindUnlock, KindDebit}
	AdminTopUpKinds    = KindCandidates{KindAdminTopUp, KindTopUp, KindCredit}
)

const StatusSettled = "SETTLED"

type Direction int

const (
	DirectionDebit Direction = iota
	DirectionCredit
)

func (d Direction) String() string {
	if d == DirectionCredit {
		return "credit"
	}
	return "debit"
}

type Wallet struct {
	OperatorID     string          `db:"operator_id" json:"operator_id"`
	BalanceCredits decimal.Decimal `db:"balance_credits" json:"balance_credits"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction is an append-only ledger row. Credits is always a magnitude.
type Transaction struct {
	ID         string          `db:"id" json:"id"`
	OperatorID string          `db:"operator_id" json:"operator_id"`
	Kind       string          `db:"kind" json:"kind"`
	Status     string          `db:"status" json:"status"`
	Credits    decimal.Decimal `db:"credits" json:"credits"`
	TxRef      *string         `db:"tx_ref" json:"tx_ref,omitempty"`
	SettledAt  time.Time       `db:"settled_at" json:"settled_at"`
}

// Mutation describes one debit or credit request.
type Mutation struct {
	OperatorID string
	Amount     decimal.Decimal
	TxRef      string
	Kinds      KindCandidates
	Direction  Direction
	// Replay returns an identical mutation found inside the dedupe window
	// instead of writing again. Off for unlock debits: their tx_ref names
	// the pair, not the attempt.
	Replay bool
}

// Movement is the result of an applied mutation.
type Movement struct {
	TxID            string
	Kind            Kind
	PreviousBalance decimal.Decimal
	Balance         decimal.Decimal
	// Replayed is set when an identical mutation with the same tx_ref was
	// found inside the dedupe window and nothing new was written.
	Replayed bool
}
