package grant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/scoutlink/unlock-api/internal/pkg/metrics"
	"github.com/scoutlink/unlock-api/internal/pkg/schema"
)

const defaultQueryTimeout = 3 * time.Second

// SQLStore persists grants into whichever candidate relation the connected
// database provides. Callers never see which one was used.
type SQLStore struct {
	db        *sqlx.DB
	inspector schema.Inspector
	cand      Candidates
	timeout   time.Duration
	now       func() time.Time

	// refused is set when the last write fell through every candidate.
	refused atomic.Bool
}

type Option func(*SQLStore)

// WithCandidates overrides the default relation and column lists.
func WithCandidates(c Candidates) Option {
	return func(s *SQLStore) { s.cand = c }
}

func WithTimeout(d time.Duration) Option {
	return func(s *SQLStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewStore(db *sqlx.DB, inspector schema.Inspector, opts ...Option) *SQLStore {
	s := &SQLStore{
		db:        db,
		inspector: inspector,
		cand:      DefaultCandidates(),
		timeout:   defaultQueryTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func quote(ident string) string { return pq.QuoteIdentifier(ident) }

// layout resolves the physical columns of table. A nil layout means the
// relation is missing or lacks a required column.
func (s *SQLStore) layout(ctx context.Context, table string) (*Layout, error) {
	l := &Layout{Table: table}
	required := []struct {
		dst        *string
		candidates []string
	}{
		{&l.Operator, s.cand.OperatorColumns},
		{&l.Athlete, s.cand.AthleteColumns},
		{&l.Expires, s.cand.ExpiresColumns},
	}
	for _, r := range required {
		col, verdict, err := s.inspector.Resolve(ctx, table, r.candidates)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		if verdict != schema.OK {
			return nil, nil
		}
		*r.dst = col
	}

	col, verdict, err := s.inspector.Resolve(ctx, table, s.cand.UnlockedAtColumns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if verdict == schema.OK {
		l.UnlockedAt = col
	}
	return l, nil
}

// FindActive returns the grant in force for the pair, or nil.
func (s *SQLStore) FindActive(ctx context.Context, operatorID, athleteID string) (*Grant, error) {
	return s.find(ctx, operatorID, athleteID, true)
}

// FindLatest returns the most recent grant for the pair regardless of expiry.
func (s *SQLStore) FindLatest(ctx context.Context, operatorID, athleteID string) (*Grant, error) {
	return s.find(ctx, operatorID, athleteID, false)
}

func (s *SQLStore) find(ctx context.Context, operatorID, athleteID string, activeOnly bool) (*Grant, error) {
	if operatorID == "" || athleteID == "" {
		return nil, ErrInvalidGrant
	}
	defer metrics.ObserveStoreCall("grant_find", time.Now())

	usable := false
	var latest *Grant
	for _, table := range s.cand.readSources(activeOnly) {
		l, err := s.layout(ctx, table)
		if err != nil {
			return nil, err
		}
		if l == nil {
			continue
		}

		g, err := s.selectGrant(ctx, l, operatorID, athleteID, activeOnly)
		if err != nil {
			if schema.IsSchemaMismatch(err) {
				s.inspector.Forget(table)
				continue
			}
			return nil, fmt.Errorf("%w: read %s: %v", ErrStoreFailure, table, err)
		}
		usable = true
		if g == nil {
			continue
		}
		// Any active row answers FindActive; history rows are compared
		// across every source so a stale copy cannot shadow a newer one.
		if activeOnly {
			return g, nil
		}
		if latest == nil || newer(g, latest) {
			latest = g
		}
	}

	if !usable {
		return nil, ErrSchemaUnavailable
	}
	return latest, nil
}

// newer orders grants by unlock time, then by expiry. A missing expiry
// counts as later than any date.
func newer(a, b *Grant) bool {
	if !a.UnlockedAt.Equal(b.UnlockedAt) {
		return a.UnlockedAt.After(b.UnlockedAt)
	}
	switch {
	case a.ExpiresAt == nil:
		return b.ExpiresAt != nil
	case b.ExpiresAt == nil:
		return false
	}
	return a.ExpiresAt.After(*b.ExpiresAt)
}

func (s *SQLStore) selectGrant(ctx context.Context, l *Layout, operatorID, athleteID string, activeOnly bool) (*Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	unlockedExpr := "NULL::timestamptz"
	if l.UnlockedAt != "" {
		unlockedExpr = quote(l.UnlockedAt)
	}
	exp := quote(l.Expires)

	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s::text = $1 AND %s::text = $2",
		unlockedExpr, exp, quote(l.Table), quote(l.Operator), quote(l.Athlete))
	args := []interface{}{operatorID, athleteID}

	if activeOnly {
		query += fmt.Sprintf(" AND (%s IS NULL OR %s > $3) ORDER BY %s DESC NULLS FIRST LIMIT 1", exp, exp, exp)
		args = append(args, s.now())
	} else {
		order := exp
		if l.UnlockedAt != "" {
			order = quote(l.UnlockedAt)
		}
		query += fmt.Sprintf(" ORDER BY %s DESC NULLS LAST LIMIT 1", order)
	}

	var unlocked, expires sql.NullTime
	err := s.db.QueryRowxContext(ctx, query, args...).Scan(&unlocked, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	g := &Grant{OperatorID: operatorID, AthleteID: athleteID, Source: l.Table}
	if unlocked.Valid {
		g.UnlockedAt = unlocked.Time.UTC()
	}
	if expires.Valid {
		t := expires.Time.UTC()
		g.ExpiresAt = &t
	}
	return g, nil
}

// Upsert writes g into the first writable candidate table whose columns
// resolve. A duplicate (operator, athlete) row is updated in place. When no
// candidate accepts the write the grant comes back Derived and no error is
// returned.
func (s *SQLStore) Upsert(ctx context.Context, g Grant) (*Grant, error) {
	if g.OperatorID == "" || g.AthleteID == "" {
		return nil, ErrInvalidGrant
	}
	defer metrics.ObserveStoreCall("grant_upsert", time.Now())

	for _, table := range s.cand.Tables {
		writable, err := s.inspector.Writable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		if !writable {
			continue
		}

		l, err := s.layout(ctx, table)
		if err != nil {
			return nil, err
		}
		if l == nil {
			continue
		}

		err = s.insert(ctx, l, g)
		if schema.IsUniqueViolation(err) {
			err = s.update(ctx, l, g)
		}
		if err == nil {
			s.refused.Store(false)
			out := g
			out.Source = table
			log.Debug().Str("table", table).Str("operator_id", g.OperatorID).Str("athlete_id", g.AthleteID).Msg("grant persisted")
			return &out, nil
		}

		// A candidate that does not fit the data is skipped like a missing one.
		if schema.IsSchemaMismatch(err) || schema.IsNotWritable(err) || schema.IsRejectedValue(err) {
			log.Warn().Err(err).Str("table", table).Msg("grant candidate rejected write")
			s.inspector.Forget(table)
			continue
		}
		return nil, fmt.Errorf("%w: write %s: %v", ErrStoreFailure, table, err)
	}

	s.refused.Store(true)
	metrics.DegradedGrantsTotal.Inc()
	log.Warn().Str("operator_id", g.OperatorID).Str("athlete_id", g.AthleteID).Msg("no grant table usable, unlock recorded in ledger only")

	out := g
	out.Derived = true
	return &out, nil
}

// Degraded reports whether new grants currently land in the ledger only:
// no candidate table is writable with a resolvable layout, or the last
// write was refused by every candidate.
func (s *SQLStore) Degraded(ctx context.Context) (bool, error) {
	if s.refused.Load() {
		return true, nil
	}
	for _, table := range s.cand.Tables {
		writable, err := s.inspector.Writable(ctx, table)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
		if !writable {
			continue
		}
		l, err := s.layout(ctx, table)
		if err != nil {
			return false, err
		}
		if l != nil {
			return false, nil
		}
	}
	return true, nil
}

func expiresArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}

func (s *SQLStore) insert(ctx context.Context, l *Layout, g Grant) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cols := []string{quote(l.Operator), quote(l.Athlete)}
	args := []interface{}{g.OperatorID, g.AthleteID}
	if l.UnlockedAt != "" {
		cols = append(cols, quote(l.UnlockedAt))
		args = append(args, g.UnlockedAt)
	}
	cols = append(cols, quote(l.Expires))
	args = append(args, expiresArg(g.ExpiresAt))

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(l.Table), strings.Join(cols, ", "), placeholders(len(cols)))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLStore) update(ctx context.Context, l *Layout, g Grant) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []interface{}{g.OperatorID, g.AthleteID}
	var set []string
	if l.UnlockedAt != "" {
		args = append(args, g.UnlockedAt)
		set = append(set, fmt.Sprintf("%s = $%d", quote(l.UnlockedAt), len(args)))
	}
	args = append(args, expiresArg(g.ExpiresAt))
	set = append(set, fmt.Sprintf("%s = $%d", quote(l.Expires), len(args)))

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s::text = $1 AND %s::text = $2",
		quote(l.Table), strings.Join(set, ", "), quote(l.Operator), quote(l.Athlete))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// VoidAll deletes the operator's grants from every writable candidate and
// back-dates expiry where deletion is refused. Missing or read-only
// relations are recorded as skipped.
func (s *SQLStore) VoidAll(ctx context.Context, operatorID string) (*VoidSummary, error) {
	if operatorID == "" {
		return nil, ErrInvalidGrant
	}
	defer metrics.ObserveStoreCall("grant_void_all", time.Now())

	now := s.now()
	summary := &VoidSummary{OperatorID: operatorID}
	for _, table := range s.cand.sweepTargets() {
		out, err := s.voidTable(ctx, table, operatorID, now)
		if err != nil {
			return summary, err
		}
		summary.Tables = append(summary.Tables, out)

		metrics.SweepRowsTotal.WithLabelValues("removed").Add(float64(out.Removed))
		metrics.SweepRowsTotal.WithLabelValues("expired").Add(float64(out.Expired))
	}
	return summary, nil
}

func sweepTolerable(err error) bool {
	return schema.IsSchemaMismatch(err) || schema.IsNotWritable(err)
}

func skipReason(err error) string {
	switch {
	case schema.IsNotWritable(err):
		return "not_writable"
	case schema.IsSchemaMismatch(err):
		return "schema_mismatch"
	}
	return "error"
}

func (s *SQLStore) voidTable(ctx context.Context, table, operatorID string, now time.Time) (TableOutcome, error) {
	out := TableOutcome{Table: table}

	opCol, verdict, err := s.inspector.Resolve(ctx, table, s.cand.OperatorColumns)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	switch verdict {
	case schema.TableMissing:
		out.Skipped, out.Reason = true, "table_missing"
		return out, nil
	case schema.ColumnMissing:
		out.Skipped, out.Reason = true, "operator_column_missing"
		return out, nil
	}
	out.Column = opCol

	writable, err := s.inspector.Writable(ctx, table)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if writable {
		out.Attempted = true
		n, err := s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s::text = $1", quote(table), quote(opCol)), operatorID)
		if err == nil {
			out.Removed = n
			return out, nil
		}
		if !sweepTolerable(err) {
			return out, fmt.Errorf("%w: delete %s: %v", ErrStoreFailure, table, err)
		}
		log.Warn().Err(err).Str("table", table).Msg("grant delete refused, back-dating expiry")
		s.inspector.Forget(table)
	}

	expCol, verdict, err := s.inspector.Resolve(ctx, table, s.cand.ExpiresColumns)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if verdict != schema.OK {
		out.Skipped, out.Reason = true, "expiry_column_missing"
		return out, nil
	}

	out.Attempted = true
	exp := quote(expCol)
	n, err := s.exec(ctx,
		fmt.Sprintf("UPDATE %s SET %s = $2 WHERE %s::text = $1 AND (%s IS NULL OR %s > $3)", quote(table), exp, quote(opCol), exp, exp),
		operatorID, now.Add(-time.Second), now)
	if err == nil {
		out.Expired = n
		return out, nil
	}
	if !sweepTolerable(err) {
		return out, fmt.Errorf("%w: expire %s: %v", ErrStoreFailure, table, err)
	}
	out.Skipped, out.Reason = true, skipReason(err)
	return out, nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountActive counts the operator's grants in the active view. It returns
// nil when the view cannot be read.
func (s *SQLStore) CountActive(ctx context.Context, operatorID string) (*int64, error) {
	view := s.cand.ActiveView
	if view == "" {
		return nil, nil
	}

	opCol, verdict, err := s.inspector.Resolve(ctx, view, s.cand.OperatorColumns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if verdict != schema.OK {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s::text = $1", quote(view), quote(opCol))
	args := []interface{}{operatorID}
	expCol, verdict, err := s.inspector.Resolve(ctx, view, s.cand.ExpiresColumns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if verdict == schema.OK {
		query += fmt.Sprintf(" AND (%s IS NULL OR %s > $2)", quote(expCol), quote(expCol))
		args = append(args, s.now())
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int64
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		if schema.IsSchemaMismatch(err) {
			s.inspector.Forget(view)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: count active: %v", ErrStoreFailure, err)
	}
	return &n, nil
}
