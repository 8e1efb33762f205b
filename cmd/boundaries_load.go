package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/zipatlas/internal/boundary"
)

var (
	loadShapefilePath string
	loadCachePath     string
	loadDatabaseURL   string
	loadSchema        string
	loadBatchSize     int
)

var boundariesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the extracted shapefile into the boundary store",
	Long: `Loads ZCTA boundaries into the SQLite cache by default, or into
Postgres when --database-url is set (or the configured provider is postgres).
Run "zipatlas boundaries fetch" first to download and extract the shapefile.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shpPath := loadShapefilePath
		if shpPath == "" {
			var err error
			shpPath, err = extractedShapefile()
			if err != nil {
				return err
			}
		}

		dsn := loadDatabaseURL
		if dsn == "" && cfg.Boundary.Provider == "postgres" {
			dsn = cfg.BoundaryDatabaseURL()
		}
		if dsn != "" {
			return loadPostgres(ctx, dsn, shpPath)
		}
		return loadCache(ctx, shpPath)
	},
}

func init() {
	boundariesLoadCmd.Flags().StringVar(&loadShapefilePath, "shapefile", "", "path to the extracted .shp (default: the fetched archive)")
	boundariesLoadCmd.Flags().StringVar(&loadCachePath, "cache", "", "SQLite cache path (default from config)")
	boundariesLoadCmd.Flags().StringVar(&loadDatabaseURL, "database-url", "", "load into Postgres at this DSN instead of the cache")
	boundariesLoadCmd.Flags().StringVar(&loadSchema, "schema", "", "Postgres schema for the boundary table (default from config)")
	boundariesLoadCmd.Flags().IntVar(&loadBatchSize, "batch-size", 0, "progress logging interval in rows (default 1000)")
	boundariesCmd.AddCommand(boundariesLoadCmd)
}

func loadCache(ctx context.Context, shpPath string) error {
	path := loadCachePath
	if path == "" {
		path = cfg.Boundary.CachePath
	}

	cache, err := boundary.OpenCache(path)
	if err != nil {
		return err
	}
	defer cache.Close() //nolint:errcheck

	n, err := cache.LoadShapefile(ctx, shpPath, boundary.ZCTA5, loadBatchSize)
	if err != nil {
		return eris.Wrap(err, "boundaries load")
	}
	if err := cache.SetMeta(ctx, "year", strconv.Itoa(cfg.Boundary.Year)); err != nil {
		return err
	}

	fmt.Printf("Loaded %d boundaries into %s\n", n, path)
	return nil
}

func loadPostgres(ctx context.Context, dsn, shpPath string) error {
	pool, err := boundaryPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	schema := loadSchema
	if schema == "" {
		schema = cfg.Boundary.Schema
	}

	if err := boundary.MigratePG(ctx, pool, schema, boundary.ZCTA5); err != nil {
		return err
	}
	n, err := boundary.LoadPG(ctx, pool, shpPath, boundary.ZCTA5, schema)
	if err != nil {
		return eris.Wrap(err, "boundaries load")
	}

	fmt.Printf("Loaded %d boundaries into %s\n", n, boundary.ZCTA5.Table)
	return nil
}
