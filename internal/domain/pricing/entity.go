package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultProductCode = "CONTACT_UNLOCK"

// Row is one op_pricing tariff. Rows are read-only here.
type Row struct {
	Code          string          `db:"code"`
	CreditsCost   decimal.Decimal `db:"credits_cost"`
	ValidityDays  *int            `db:"validity_days"`
	EffectiveFrom time.Time       `db:"effective_from"`
	EffectiveTo   *time.Time      `db:"effective_to"`
}

// Tariff is the price of one unlock.
type Tariff struct {
	Code         string          `json:"code"`
	CreditsCost  decimal.Decimal `json:"credits_cost"`
	ValidityDays *int            `json:"validity_days"`
}

// ExpiresAt returns unlockedAt plus the validity window, or nil when the
// tariff grants access without expiry.
func (t Tariff) ExpiresAt(unlockedAt time.Time) *time.Time {
	if t.ValidityDays == nil || *t.ValidityDays <= 0 {
		return nil
	}
	exp := unlockedAt.AddDate(0, 0, *t.ValidityDays)
	return &exp
}
