package boundary

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/db"
	"github.com/sells-group/zipatlas/internal/resilience"
)

// pgColumns is the column list for boundary COPY loads.
var pgColumns = []string{"code", "geom"}

// defaultSchema reports whether the schema name needs no qualification.
func defaultSchema(schema string) bool {
	return schema == "" || schema == "public"
}

func qualifiedTable(schema, table string) string {
	if defaultSchema(schema) {
		return table
	}
	return schema + "." + table
}

// MigratePG creates the boundary table (and schema, when one is named).
func MigratePG(ctx context.Context, pool db.Pool, schema string, product Product) error {
	if !defaultSchema(schema) {
		if _, err := pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
			return eris.Wrapf(err, "boundary: create schema %s", schema)
		}
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	code TEXT PRIMARY KEY,
	geom BYTEA NOT NULL
)`, qualifiedTable(schema, product.Table))
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return eris.Wrapf(err, "boundary: create table %s", product.Table)
	}
	return nil
}

// LoadPG bulk-loads boundaries from a shapefile into Postgres via COPY,
// replacing the table contents. Returns the number of rows copied.
func LoadPG(ctx context.Context, pool db.Pool, shpPath string, product Product, schema string) (int64, error) {
	log := zap.L().With(zap.String("component", "boundary.pgload"))

	var rows [][]any
	err := ScanShapefile(ctx, shpPath, product, func(code string, mp *geom.MultiPolygon) error {
		data, encErr := EncodeGeom(mp)
		if encErr != nil {
			return encErr
		}
		rows = append(rows, []any{code, data})
		return nil
	})
	if err != nil {
		return 0, err
	}

	table := qualifiedTable(schema, product.Table)
	if _, err := pool.Exec(ctx, `TRUNCATE `+table); err != nil {
		return 0, eris.Wrapf(err, "boundary: truncate %s", table)
	}

	// COPY is atomic, so a transient failure can be retried wholesale.
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("postgres", "copy boundaries")

	var copied int64
	err = resilience.Do(ctx, cfg, func(ctx context.Context) error {
		var copyErr error
		if defaultSchema(schema) {
			copied, copyErr = db.CopyFrom(ctx, pool, product.Table, pgColumns, rows)
		} else {
			copied, copyErr = db.CopyFromSchema(ctx, pool, schema, product.Table, pgColumns, rows)
		}
		return copyErr
	})
	if err != nil {
		return 0, err
	}

	log.Info("postgres load complete", zap.Int64("copied", copied), zap.String("table", table))
	return copied, nil
}

// CountPG returns the number of boundary rows in Postgres.
func CountPG(ctx context.Context, pool db.Pool, schema string, product Product) (int64, error) {
	var n int64
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+qualifiedTable(schema, product.Table))
	if err := row.Scan(&n); err != nil {
		return 0, eris.Wrap(err, "boundary: count postgres")
	}
	return n, nil
}

// PGProvider serves lookups from a Postgres boundary table. It implements
// Provider.
type PGProvider struct {
	pool   db.Pool
	schema string
	table  string
}

// NewPGProvider creates a provider over the given pool. An empty schema means
// the default search path.
func NewPGProvider(pool db.Pool, schema string, product Product) *PGProvider {
	return &PGProvider{pool: pool, schema: schema, table: product.Table}
}

func (p *PGProvider) Lookup(ctx context.Context, codes []string) (map[string]*geom.MultiPolygon, error) {
	query := `SELECT code, geom FROM ` + qualifiedTable(p.schema, p.table) + ` WHERE code = ANY($1)`

	rows, err := p.pool.Query(ctx, query, codes)
	if err != nil {
		return nil, eris.Wrapf(ErrUnavailable, "postgres query: %v", err)
	}
	defer rows.Close()

	out := make(map[string]*geom.MultiPolygon, len(codes))
	for rows.Next() {
		var code string
		var data []byte
		if err := rows.Scan(&code, &data); err != nil {
			return nil, eris.Wrapf(ErrUnavailable, "postgres scan: %v", err)
		}
		mp, err := DecodeGeom(data)
		if err != nil {
			return nil, eris.Wrapf(ErrUnavailable, "postgres decode %s: %v", code, err)
		}
		out[code] = mp
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(ErrUnavailable, "postgres iterate: %v", err)
	}

	return out, nil
}
