package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	appconfig "fundingscan/config"
	"fundingscan/scanner"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one funding scan and print the result",
	Long: `Fetch Bybit tickers and CoinGecko market caps once and print two tables:
the highest positive and the most negative funding rates.

Example:
  fundingscan scan --min-cap 100000000 --top 15
  fundingscan scan --output json`,
	RunE: runScan,
}

// Scan flags
var (
	scanMinCap        string
	scanTop           int
	scanSkipMarketCap bool
	scanOutput        string
)

func init() {
	rootCmd.AddCommand(scanCmd)
	addScanFlags(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&scanMinCap, "min-cap", "", "minimum market cap in USD (default from config)")
	cmd.Flags().IntVar(&scanTop, "top", 0, "rows per table (default from config)")
	cmd.Flags().BoolVar(&scanSkipMarketCap, "skip-market-cap", false, "rank every instrument without the market cap filter")
	cmd.Flags().StringVarP(&scanOutput, "output", "o", "table", "output format (table|json)")
}

// applyScanFlags overrides cfg with the flags the user set.
func applyScanFlags(cmd *cobra.Command, cfg *appconfig.Config) error {
	if cmd.Flags().Changed("min-cap") {
		d, err := decimal.NewFromString(scanMinCap)
		if err != nil {
			return fmt.Errorf("invalid --min-cap %q: %w", scanMinCap, err)
		}
		cfg.Scan.MinCapUSD = d
	}
	if cmd.Flags().Changed("top") {
		cfg.Scan.TopN = scanTop
	}
	if scanSkipMarketCap {
		cfg.Scan.SkipMarketCap = true
	}
	if scanOutput != "table" && scanOutput != "json" {
		return fmt.Errorf("invalid --output %q (table|json)", scanOutput)
	}
	return appconfig.ValidateScan(cfg)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	if err := applyScanFlags(cmd, cfg); err != nil {
		return err
	}
	return scanOnce(ctx, cfg, cmd.OutOrStdout())
}

func scanOnce(ctx context.Context, cfg *appconfig.Config, w io.Writer) error {
	res, err := scanner.RunFundingScan(ctx, cfg)
	if err != nil {
		return fmt.Errorf("funding scan failed: %w", err)
	}
	if scanOutput == "json" {
		return WriteJSON(w, res)
	}
	return WriteTables(w, res)
}
