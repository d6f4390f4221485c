package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const cacheKeyPrefix = "pricing:active:"

// Resolver returns the active tariff for one product code. Results are
// cached in Redis when a client is configured.
type Resolver struct {
	repo  *Repository
	redis *redis.Client
	ttl   time.Duration
	code  string
	now   func() time.Time
}

func NewResolver(repo *Repository, rdb *redis.Client, code string, ttl time.Duration) *Resolver {
	if code == "" {
		code = DefaultProductCode
	}
	return &Resolver{
		repo:  repo,
		redis: rdb,
		ttl:   ttl,
		code:  code,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Resolver) cacheKey() string { return cacheKeyPrefix + s.code }

// Active resolves the current tariff. A missing row or a non-positive cost
// is reported as unavailable.
func (s *Resolver) Active(ctx context.Context) (*Tariff, error) {
	if t, ok := s.cached(ctx); ok {
		return t, nil
	}

	row, err := s.repo.Active(ctx, s.code, s.now())
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNoActivePrice
	}
	if !row.CreditsCost.IsPositive() {
		log.Warn().Str("code", s.code).Str("credits_cost", row.CreditsCost.String()).Msg("active tariff has non-positive cost")
		return nil, ErrInvalidPrice
	}

	t := &Tariff{Code: row.Code, CreditsCost: row.CreditsCost.Round(2), ValidityDays: row.ValidityDays}
	s.store(ctx, t)
	return t, nil
}

func (s *Resolver) cached(ctx context.Context) (*Tariff, bool) {
	if s.redis == nil || s.ttl <= 0 {
		return nil, false
	}

	raw, err := s.redis.Get(ctx, s.cacheKey()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("code", s.code).Msg("pricing cache read failed")
		}
		return nil, false
	}

	var t Tariff
	if err := json.Unmarshal(raw, &t); err != nil || !t.CreditsCost.IsPositive() {
		return nil, false
	}
	return &t, true
}

func (s *Resolver) store(ctx context.Context, t *Tariff) {
	if s.redis == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, s.cacheKey(), raw, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("code", s.code).Msg("pricing cache write failed")
	}
}

// Invalidate drops the cached tariff.
func (s *Resolver) Invalidate(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Del(ctx, s.cacheKey()).Err()
}
