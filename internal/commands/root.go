package commands

import (
	"context"
	"fmt"

	appconfig "fundingscan/config"
	"fundingscan/logger"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fundingscan",
	Short: "Rank Bybit perpetual funding rates filtered by market cap",
	Long: `fundingscan lists Bybit linear perpetuals, looks up each asset's market
capitalization on CoinGecko and prints the most positive and most negative
funding rates among assets above a market cap threshold.

Examples:
  fundingscan scan
  fundingscan scan --min-cap 500000000 --top 10
  fundingscan scan --skip-market-cap --output json
  fundingscan watch --schedule "@every 8h"`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default is %s)", appconfig.DefaultPath))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// bootstrap loads the configuration and sets up logging and metrics.
func bootstrap(ctx context.Context) (*appconfig.Config, error) {
	log := logger.GetLogger()

	cfg, err := appconfig.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := log.Configure(level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}

	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(ctx, logger.CloudWatchOptions{
			Region:          cw.Region,
			Namespace:       cw.Namespace,
			AccessKeyID:     cw.AccessKeyID,
			SecretAccessKey: cw.SecretAccessKey,
		})
	}

	log.WithFields(logger.Fields{
		"service":     cfg.FundingScan.Name,
		"version":     cfg.FundingScan.Version,
		"environment": appconfig.AppEnvironment(),
	}).Debug("configuration loaded")

	return cfg, nil
}
