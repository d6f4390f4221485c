package wallet

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TopUpRequest is the admin top-up body. Amount accepts a JSON number or string.
type TopUpRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id" validate:"omitempty,max=128"`
	Reason      string          `json:"reason" validate:"omitempty,max=255"`
}

type BalanceResponse struct {
	Success bool        `json:"success"`
	Balance json.Number `json:"balance"`
}

type TransactionResponse struct {
	ID        string      `json:"id"`
	Kind      string      `json:"kind"`
	Status    string      `json:"status"`
	Credits   json.Number `json:"credits"`
	TxRef     *string     `json:"tx_ref,omitempty"`
	SettledAt time.Time   `json:"settled_at"`
}

type TopUpResponse struct {
	Success  bool        `json:"success"`
	TxID     string      `json:"tx_id"`
	Kind     string      `json:"kind"`
	Balance  json.Number `json:"balance"`
	Replayed bool        `json:"replayed,omitempty"`
}

// Number renders a credit amount as a JSON number with two decimals.
func Number(d decimal.Decimal) json.Number {
	return json.Number(Format(d))
}

func TransactionResponseFrom(t Transaction) TransactionResponse {
	return TransactionResponse{
		ID:        t.ID,
		Kind:      t.Kind,
		Status:    t.Status,
		Credits:   Number(t.Credits),
		TxRef:     t.TxRef,
		SettledAt: t.SettledAt,
	}
}
