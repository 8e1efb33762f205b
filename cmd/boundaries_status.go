package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/zipatlas/internal/boundary"
)

var statusDatabaseURL string

var boundariesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many boundaries the configured store holds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dsn := statusDatabaseURL
		if dsn == "" && cfg.Boundary.Provider == "postgres" {
			dsn = cfg.BoundaryDatabaseURL()
		}
		if dsn != "" {
			return printPGStatus(ctx, dsn)
		}
		return printCacheStatus(ctx)
	},
}

func init() {
	boundariesStatusCmd.Flags().StringVar(&statusDatabaseURL, "database-url", "", "inspect Postgres at this DSN instead of the cache")
	boundariesCmd.AddCommand(boundariesStatusCmd)
}

func printCacheStatus(ctx context.Context) error {
	cache, err := boundary.OpenCache(cfg.Boundary.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close() //nolint:errcheck

	n, err := cache.Count(ctx)
	if err != nil {
		return err
	}
	meta, err := cache.Meta(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Cache:      %s\n", cfg.Boundary.CachePath)
	fmt.Printf("Boundaries: %d\n", n)
	for _, key := range []string{"product", "year", "source", "loaded_at"} {
		if v, ok := meta[key]; ok {
			fmt.Printf("%-11s %s\n", key+":", v)
		}
	}
	return nil
}

func printPGStatus(ctx context.Context, dsn string) error {
	pool, err := boundaryPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	schema := cfg.Boundary.Schema
	n, err := boundary.CountPG(ctx, pool, schema, boundary.ZCTA5)
	if err != nil {
		return err
	}

	fmt.Printf("Table:      %s\n", boundary.ZCTA5.Table)
	fmt.Printf("Boundaries: %d\n", n)
	return nil
}
