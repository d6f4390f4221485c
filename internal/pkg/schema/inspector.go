// Package schema discovers which candidate tables and columns exist in the
// connected database so callers can bind logical fields to whatever physical
// shape the current migration level provides.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/scoutlink/unlock-api/internal/pkg/metrics"
)

// Verdict is the outcome of probing one (table, column) pair.
type Verdict int

const (
	OK Verdict = iota
	ColumnMissing
	TableMissing
)

func (v Verdict) String() string {
	switch v {
	case OK:
		return "ok"
	case ColumnMissing:
		return "column_missing"
	case TableMissing:
		return "table_missing"
	}
	return "unknown"
}

// Inspector is the capability-discovery contract used by the grant store.
type Inspector interface {
	Inspect(ctx context.Context, table, column string) (Verdict, error)
	Writable(ctx context.Context, table string) (bool, error)
	Resolve(ctx context.Context, table string, candidates []string) (string, Verdict, error)
	Forget(table string)
}

type cacheEntry struct {
	verdict  Verdict
	writable bool
	expires  time.Time
}

// SQLInspector inspects PostgreSQL with minimal reads and caches verdicts.
type SQLInspector struct {
	db      *sqlx.DB
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewInspector creates an inspector. ttl <= 0 caches for the process lifetime.
func NewInspector(db *sqlx.DB, ttl, timeout time.Duration) *SQLInspector {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &SQLInspector{
		db:      db,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

func columnKey(table, column string) string { return table + "." + column }
func writableKey(table string) string        { return table + "#writable" }

func (p *SQLInspector) lookup(key string) (cacheEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.cache[key]
	if !ok {
		return cacheEntry{}, false
	}
	if !e.expires.IsZero() && p.now().After(e.expires) {
		return cacheEntry{}, false
	}
	return e, true
}

func (p *SQLInspector) store(key string, e cacheEntry) {
	if p.ttl > 0 {
		e.expires = p.now().Add(p.ttl)
	}
	p.mu.Lock()
	p.cache[key] = e
	p.mu.Unlock()
}

// Inspect selects one row of table.column and classifies the backend error.
func (p *SQLInspector) Inspect(ctx context.Context, table, column string) (Verdict, error) {
	key := columnKey(table, column)
	if e, ok := p.lookup(key); ok {
		return e.verdict, nil
	}

	// A cached missing table answers every column of it.
	if e, ok := p.lookup(columnKey(table, "*")); ok && e.verdict == TableMissing {
		return TableMissing, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM %s LIMIT 1", pq.QuoteIdentifier(column), pq.QuoteIdentifier(table))
	rows, err := p.db.QueryContext(ctx, query)
	if err == nil {
		err = rows.Err()
		rows.Close()
	}

	var verdict Verdict
	switch {
	case err == nil:
		verdict = OK
	case IsUndefinedTable(err):
		verdict = TableMissing
		p.store(columnKey(table, "*"), cacheEntry{verdict: TableMissing})
	case IsUndefinedColumn(err):
		verdict = ColumnMissing
	default:
		return 0, fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}

	metrics.SchemaInspectionsTotal.WithLabelValues(verdict.String()).Inc()
	log.Debug().Str("table", table).Str("column", column).Stringer("verdict", verdict).Msg("schema inspection")

	p.store(key, cacheEntry{verdict: verdict})
	return verdict, nil
}

// Writable reports whether rows can be inserted into table (false for plain
// views and for relations that do not exist).
func (p *SQLInspector) Writable(ctx context.Context, table string) (bool, error) {
	key := writableKey(table)
	if e, ok := p.lookup(key); ok {
		return e.writable, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var insertable string
	err := p.db.GetContext(ctx, &insertable, `
		SELECT is_insertable_into
		FROM information_schema.tables
		WHERE table_name = $1 AND table_schema = ANY (current_schemas(false))
		LIMIT 1
	`, table)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("writable %s: %w", table, err)
	}

	writable := insertable == "YES"
	p.store(key, cacheEntry{writable: writable})
	return writable, nil
}

// Resolve returns the first candidate column present on table. A missing
// table short-circuits with TableMissing.
func (p *SQLInspector) Resolve(ctx context.Context, table string, candidates []string) (string, Verdict, error) {
	for _, column := range candidates {
		verdict, err := p.Inspect(ctx, table, column)
		if err != nil {
			return "", 0, err
		}
		switch verdict {
		case OK:
			return column, OK, nil
		case TableMissing:
			return "", TableMissing, nil
		}
	}
	return "", ColumnMissing, nil
}

// Forget drops every cached verdict for table, e.g. after a write hit a
// schema error the cache did not predict.
func (p *SQLInspector) Forget(table string) {
	prefix := table + "."
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.cache {
		if key == writableKey(table) || strings.HasPrefix(key, prefix) {
			delete(p.cache, key)
		}
	}
}
