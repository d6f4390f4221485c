package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Active returns the tariff for code in effect at now, or nil.
func (r *Repository) Active(ctx context.Context, code string, now time.Time) (*Row, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var row Row
	err := r.db.GetContext(ctx, &row, `
		SELECT code, credits_cost, validity_days, effective_from, effective_to
		FROM op_pricing
		WHERE code = $1
		  AND effective_from <= $2
		  AND (effective_to IS NULL OR effective_to > $2)
		ORDER BY effective_from DESC
		LIMIT 1
	`, code, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: active tariff: %v", ErrInternal, err)
	}
	return &row, nil
}
