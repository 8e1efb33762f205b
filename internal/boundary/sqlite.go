package boundary

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// lookupBatch bounds the size of IN clauses in cache lookups.
const lookupBatch = 500

const cacheSchema = `
CREATE TABLE IF NOT EXISTS boundaries (
	code TEXT PRIMARY KEY,
	geom BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS boundary_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// CacheStore is a local SQLite cache of boundary geometries, loaded once from
// a TIGER/Line shapefile and then queried per pipeline run. It implements
// Provider.
type CacheStore struct {
	db *sql.DB
}

// OpenCache opens (creating if needed) the boundary cache at the given path
// and configures WAL mode.
func OpenCache(path string) (*CacheStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: open cache")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "boundary: exec %s", pragma)
		}
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "boundary: migrate cache")
	}
	return &CacheStore{db: db}, nil
}

func (s *CacheStore) Close() error {
	return s.db.Close()
}

// LoadShapefile bulk-loads boundaries from a shapefile into the cache,
// replacing any codes already present. Returns the number of records loaded.
func (s *CacheStore) LoadShapefile(ctx context.Context, shpPath string, product Product, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	log := zap.L().With(zap.String("component", "boundary.cache"))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "boundary: begin load")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO boundaries (code, geom) VALUES (?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "boundary: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	var loaded int
	err = ScanShapefile(ctx, shpPath, product, func(code string, mp *geom.MultiPolygon) error {
		data, encErr := EncodeGeom(mp)
		if encErr != nil {
			return encErr
		}
		if _, execErr := stmt.ExecContext(ctx, code, data); execErr != nil {
			return eris.Wrapf(execErr, "boundary: insert %s", code)
		}
		loaded++
		if loaded%batchSize == 0 {
			log.Debug("cache load progress", zap.Int("loaded", loaded))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for key, value := range map[string]string{
		"product":   product.Name,
		"source":    shpPath,
		"loaded_at": now,
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO boundary_meta (key, value) VALUES (?, ?)`, key, value,
		); err != nil {
			return 0, eris.Wrap(err, "boundary: record load meta")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "boundary: commit load")
	}

	log.Info("cache load complete", zap.Int("loaded", loaded))
	return loaded, nil
}

// Lookup implements Provider with batched IN queries against the cache.
func (s *CacheStore) Lookup(ctx context.Context, codes []string) (map[string]*geom.MultiPolygon, error) {
	out := make(map[string]*geom.MultiPolygon, len(codes))

	for start := 0; start < len(codes); start += lookupBatch {
		end := start + lookupBatch
		if end > len(codes) {
			end = len(codes)
		}
		batch := codes[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, c := range batch {
			args[i] = c
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT code, geom FROM boundaries WHERE code IN (`+placeholders+`)`, args...,
		)
		if err != nil {
			return nil, eris.Wrapf(ErrUnavailable, "cache query: %v", err)
		}

		for rows.Next() {
			var code string
			var data []byte
			if err := rows.Scan(&code, &data); err != nil {
				rows.Close()
				return nil, eris.Wrapf(ErrUnavailable, "cache scan: %v", err)
			}
			mp, err := DecodeGeom(data)
			if err != nil {
				rows.Close()
				return nil, eris.Wrapf(ErrUnavailable, "cache decode %s: %v", code, err)
			}
			out[code] = mp
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, eris.Wrapf(ErrUnavailable, "cache iterate: %v", err)
		}
		rows.Close()
	}

	return out, nil
}

// Count returns the number of cached boundaries.
func (s *CacheStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boundaries`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "boundary: count cache")
	}
	return n, nil
}

// Meta returns all load metadata recorded in the cache.
func (s *CacheStore) Meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM boundary_meta`)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: query meta")
	}
	defer rows.Close() //nolint:errcheck

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "boundary: scan meta")
		}
		meta[k] = v
	}
	return meta, eris.Wrap(rows.Err(), "boundary: iterate meta")
}

// SetMeta records a metadata key, replacing any existing value.
func (s *CacheStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO boundary_meta (key, value) VALUES (?, ?)`, key, value,
	)
	return eris.Wrap(err, "boundary: set meta")
}
