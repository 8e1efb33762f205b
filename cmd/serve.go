package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/boundary"
	"github.com/sells-group/zipatlas/internal/resilience"
	"github.com/sells-group/zipatlas/internal/server"
	"github.com/sells-group/zipatlas/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for submitting and tracking pipeline jobs",
	Long: `Starts the HTTP server. Clients upload a tabular file to /api/generate,
poll /api/jobs/{id}, and download artifacts once the job completes. Jobs are
persisted in the configured store, so queued history survives restarts.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		provider, closeProvider, err := serveProvider(ctx, st)
		if err != nil {
			return err
		}
		defer closeProvider()

		srv := server.New(st, provider, server.Options{
			DataDir:        cfg.Server.DataDir,
			SampleK:        cfg.Pipeline.SampleK,
			Parallelism:    cfg.Pipeline.Parallelism,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Breaker:        resilience.FromCircuitConfig(cfg.Server.Breaker.FailureThreshold, cfg.Server.Breaker.ResetTimeoutSecs),
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return srv.Start(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// serveProvider reuses the job store's pool when both point at the same
// Postgres database, so the server holds one pool instead of two.
func serveProvider(ctx context.Context, st store.Store) (boundary.Provider, func(), error) {
	if ps, ok := st.(*store.PostgresStore); ok && cfg.Boundary.Provider == "postgres" && cfg.Boundary.DatabaseURL == "" {
		zap.L().Info("boundary provider sharing the job store pool",
			zap.String("schema", cfg.Boundary.Schema))
		return boundary.NewPGProvider(ps.Pool(), cfg.Boundary.Schema, boundary.ZCTA5), func() {}, nil
	}

	pe, err := initProvider(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	return pe.Provider, pe.Close, nil
}
