package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/zipatlas/internal/boundary"
	"github.com/sells-group/zipatlas/internal/store"
)

// providerEnv holds a boundary provider plus whatever backs it, so commands
// can defer a single Close.
type providerEnv struct {
	Provider boundary.Provider
	closers  []func() error
}

// Close releases the provider's backing resources.
func (pe *providerEnv) Close() {
	for _, c := range pe.closers {
		_ = c()
	}
}

// initProvider builds the boundary provider named by config, or by the
// command's --provider override when non-empty.
func initProvider(ctx context.Context, override string) (*providerEnv, error) {
	name := cfg.Boundary.Provider
	if override != "" {
		name = override
	}

	switch name {
	case "sqlite":
		cache, err := boundary.OpenCache(cfg.Boundary.CachePath)
		if err != nil {
			return nil, err
		}
		return &providerEnv{Provider: cache, closers: []func() error{cache.Close}}, nil

	case "postgres":
		pool, err := boundaryPool(ctx, cfg.BoundaryDatabaseURL())
		if err != nil {
			return nil, err
		}
		return &providerEnv{
			Provider: boundary.NewPGProvider(pool, cfg.Boundary.Schema, boundary.ZCTA5),
			closers:  []func() error{func() error { pool.Close(); return nil }},
		}, nil

	case "archive":
		shpPath, err := extractedShapefile()
		if err != nil {
			return nil, err
		}
		return &providerEnv{Provider: boundary.NewArchiveProvider(shpPath, boundary.ZCTA5)}, nil

	default:
		return nil, eris.Errorf("unsupported boundary provider: %s", name)
	}
}

// boundaryPool opens a plain pgx pool for boundary-only connections. The job
// store's pool is not reused here because its prepared statements require the
// jobs schema.
func boundaryPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, eris.New("no database_url configured (set boundary.database_url or store.database_url)")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping database")
	}

	return pool, nil
}

// extractedShapefile locates the extracted .shp for the configured vintage
// under the archive directory.
func extractedShapefile() (string, error) {
	name := strings.TrimSuffix(boundary.ArchiveName(boundary.ZCTA5, cfg.Boundary.Year), ".zip")
	path := filepath.Join(cfg.Boundary.ArchiveDir, name, name+".shp")
	if _, err := os.Stat(path); err != nil {
		return "", eris.Errorf("no extracted shapefile at %s, run `zipatlas boundaries fetch` first", path)
	}
	return path, nil
}

// initStore opens the job store selected by config.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "zipatlas.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
