package oracle

import (
	"context"

	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/types"
)

// ResolveQuery parses sql and resolves it against schemas in one step —
// internal/engine's only entry point into the parser oracle's (ii) SELECT
// path (spec §6). A parse error or an UnsupportedFeature error from
// Resolve both signal the caller to fall back to shadow *Oracle.
func ResolveQuery(sql string, schemas map[string]types.Schema) (*Plan, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, herr.Wrap(herr.KindUnsupportedFeature, err, "oracle: parse %q", sql)
	}
	return Resolve(stmt, schemas)
}

// Explain runs sql's fallback path (i) for get_plan: it returns the shadow
// database's EXPLAIN QUERY PLAN text for a statement the core's parser or
// resolver rejected. It does not execute sql.
func (o *Oracle) Explain(ctx context.Context, sql string) (string, error) {
	return o.ExplainText(ctx, sql)
}
