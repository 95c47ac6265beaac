package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // bundles the CGo-free SQLite engine itself
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/types"
)

// warmupConcurrency bounds how many CREATE TABLE mirrors run against the
// shadow database at once during Oracle startup.
const warmupConcurrency = 4

// Oracle owns the embedded SQLite "shadow" database (spec §6): a schema
// mirror used both for unsupported-feature fallback execution and for
// get_plan's textual EXPLAIN output. Mirroring happens through
// database/sql, the same retry-wrapped-open pattern the teacher uses for
// its own SQLite-backed storage (internal/storage/sqlite).
type Oracle struct {
	db *sql.DB
}

// Open creates an in-memory shadow database.
func Open() (*Oracle, error) {
	var db *sql.DB
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Second
	err := backoff.Retry(func() error {
		opened, err := sql.Open("sqlite3", "file:hustle-shadow?mode=memory&cache=shared")
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := opened.Ping(); err != nil {
			return err // transient — a locked shared-cache handle — retry
		}
		db = opened
		return nil
	}, bo)
	if err != nil {
		return nil, herr.Wrap(herr.KindExecutionError, err, "oracle: open shadow database")
	}
	return &Oracle{db: db}, nil
}

// Close releases the shadow database's connection.
func (o *Oracle) Close() error {
	return o.db.Close()
}

// Mirror creates name as a table in the shadow database matching schema,
// for DDL error reporting and unsupported-feature fallback (spec §6).
func (o *Oracle) Mirror(ctx context.Context, name string, schema types.Schema) error {
	ddl, err := createTableDDL(name, schema)
	if err != nil {
		return err
	}
	if _, err := o.db.ExecContext(ctx, ddl); err != nil {
		return herr.Wrap(herr.KindExecutionError, err, "oracle: mirror table %q", name)
	}
	return nil
}

// MirrorAll mirrors every named schema concurrently, bounding concurrency
// with a semaphore so a large catalog's warm-up does not open an unbounded
// number of shadow-database statements at once.
func (o *Oracle) MirrorAll(ctx context.Context, schemas map[string]types.Schema) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(warmupConcurrency)
	for name, schema := range schemas {
		name, schema := name, schema
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return o.Mirror(gctx, name, schema)
		})
	}
	return g.Wait()
}

// DropMirror removes name from the shadow database.
func (o *Oracle) DropMirror(ctx context.Context, name string) error {
	if _, err := o.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name))); err != nil {
		return herr.Wrap(herr.KindExecutionError, err, "oracle: drop mirror %q", name)
	}
	return nil
}

// FallbackExecute runs sql against the shadow database and renders the
// result as text, used when the core's resolver rejects a construct as an
// UnsupportedFeature (spec §7: "fall back to the oracle execution path and
// return the oracle's textual output verbatim").
func (o *Oracle) FallbackExecute(ctx context.Context, query string) (string, error) {
	rows, err := o.db.QueryContext(ctx, query)
	if err != nil {
		return "", herr.Wrap(herr.KindExecutionError, err, "oracle: fallback execute")
	}
	defer rows.Close()
	return renderRows(rows)
}

// ExplainText returns SQLite's EXPLAIN QUERY PLAN text for query, the
// backing for get_plan (spec §6).
func (o *Oracle) ExplainText(ctx context.Context, query string) (string, error) {
	rows, err := o.db.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query)
	if err != nil {
		return "", herr.Wrap(herr.KindExecutionError, err, "oracle: explain")
	}
	defer rows.Close()
	return renderRows(rows)
}

func renderRows(rows *sql.Rows) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", herr.Wrap(herr.KindExecutionError, err, "oracle: read columns")
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(cols, " | "))
	sb.WriteByte('\n')

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", herr.Wrap(herr.KindExecutionError, err, "oracle: scan row")
		}
		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = fmt.Sprintf("%v", v)
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		return "", herr.Wrap(herr.KindExecutionError, err, "oracle: iterate rows")
	}
	return sb.String(), nil
}

func createTableDDL(name string, schema types.Schema) (string, error) {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		sqlType, err := sqliteType(c.Type)
		if err != nil {
			return "", err
		}
		def := quoteIdent(c.Name) + " " + sqlType
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if !c.Nullable && !c.PrimaryKey {
			def += " NOT NULL"
		}
		if c.Unique && !c.PrimaryKey {
			def += " UNIQUE"
		}
		cols[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(name), strings.Join(cols, ", ")), nil
}

func sqliteType(t types.ColumnType) (string, error) {
	switch t {
	case types.Int64:
		return "INTEGER", nil
	case types.FixedChar, types.VarChar:
		return "TEXT", nil
	default:
		return "", herr.New(herr.KindInternal, "oracle: column type %v has no shadow-database equivalent", t)
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
