package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fundingscan/internal/metrics"
	"fundingscan/logger"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Repeat the funding scan on a schedule",
	Long: `Run a scan immediately and then on every tick of the cron schedule until
interrupted. Funding on Bybit settles every 8 hours for most contracts.

Example:
  fundingscan watch
  fundingscan watch --schedule "0 */8 * * *"`,
	RunE: runWatch,
}

var (
	watchSchedule    string
	watchMetricsAddr string
)

func init() {
	rootCmd.AddCommand(watchCmd)
	addScanFlags(watchCmd)
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "cron spec or @every duration (default from config)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	if err := applyScanFlags(cmd, cfg); err != nil {
		return err
	}
	schedule := cfg.Scan.Schedule
	if watchSchedule != "" {
		schedule = watchSchedule
	}

	log := logger.GetLogger().WithComponent("watch").WithFields(logger.Fields{"schedule": schedule})
	out := cmd.OutOrStdout()

	addr := watchMetricsAddr
	if addr == "" && cfg.Metrics.Prometheus.Enabled {
		addr = cfg.Metrics.Prometheus.Addr
	}
	if addr != "" {
		metrics.Init()
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
		log.WithField("addr", addr).Info("serving prometheus metrics")
	}

	run := func() {
		if err := scanOnce(ctx, cfg, out); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("scheduled scan failed")
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	log.Info("starting watch")
	run()
	c.Start()

	<-ctx.Done()
	log.Info("stopping watch")
	<-c.Stop().Done()
	return nil
}
