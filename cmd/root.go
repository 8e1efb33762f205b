package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "zipatlas",
	Short: "ZIP-code boundary join and map export pipeline",
	Long:  "Aggregates tabular records by ZIP code, joins Census ZCTA boundaries, exports CSV/GeoJSON/shapefile artifacts, and builds a map payload from sampled, dissolved groups.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
