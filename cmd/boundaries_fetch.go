package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/zipatlas/internal/boundary"
	"github.com/sells-group/zipatlas/internal/fetcher"
	"github.com/sells-group/zipatlas/internal/resilience"
)

var (
	fetchYear    int
	fetchDest    string
	fetchURL     string
	fetchFTP     bool
	fetchRefresh bool
)

var boundariesFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download and extract the ZCTA boundary archive",
	Long: `Downloads the national TIGER/Line ZCTA archive from the Census Bureau
and extracts the shapefile. An archive already on disk is reused; --refresh
re-checks it against the remote ETag.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		year := fetchYear
		if year == 0 {
			year = cfg.Boundary.Year
		}
		dest := fetchDest
		if dest == "" {
			dest = cfg.Boundary.ArchiveDir
		}

		retry := resilience.FromRetryConfig(
			cfg.Boundary.Retry.MaxAttempts,
			cfg.Boundary.Retry.InitialBackoffMs,
			cfg.Boundary.Retry.MaxBackoffMs,
			cfg.Boundary.Retry.Multiplier,
			cfg.Boundary.Retry.JitterFraction,
		)

		shpPath, err := boundary.Fetch(ctx, boundary.FetchOptions{
			Year:    year,
			DestDir: dest,
			URL:     fetchURL,
			UseFTP:  fetchFTP,
			Refresh: fetchRefresh,
			HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				UserAgent:    cfg.Boundary.UserAgent,
				MaxRetries:   cfg.Boundary.Retry.MaxAttempts,
				RateLimiters: fetcher.DefaultRateLimiters(),
			}),
			Retry: &retry,
		})
		if err != nil {
			return eris.Wrap(err, "boundaries fetch")
		}

		fmt.Printf("Shapefile ready: %s\n", shpPath)
		return nil
	},
}

func init() {
	boundariesFetchCmd.Flags().IntVar(&fetchYear, "year", 0, "TIGER/Line vintage (default from config)")
	boundariesFetchCmd.Flags().StringVar(&fetchDest, "dest", "", "download directory (default from config)")
	boundariesFetchCmd.Flags().StringVar(&fetchURL, "url", "", "override the catalog download URL")
	boundariesFetchCmd.Flags().BoolVar(&fetchFTP, "ftp", false, "download over FTP instead of HTTPS")
	boundariesFetchCmd.Flags().BoolVar(&fetchRefresh, "refresh", false, "re-check an existing archive against the remote ETag")
	boundariesCmd.AddCommand(boundariesFetchCmd)
}
