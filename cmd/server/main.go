package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/finquest/portfolio-engine/internal/config"
)

var (
	envFile    string
	configPath string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:           "portfolio-engine",
		Short:         "virtual portfolio ledger and price feed for the trading games",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(envFile, "config.toml", configPath)
			if err != nil {
				return err
			}
			slog.SetDefault(cfg.Logging.NewLogger(os.Stdout))
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file merged over config.toml")

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("portfolio-engine failed", "err", err)
		os.Exit(1)
	}
}
