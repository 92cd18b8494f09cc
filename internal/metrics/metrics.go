// Registers:
//
//	#fundingscan_scans_total{result}
//	#fundingscan_scan_duration_seconds
//	#fundingscan_scan_records{stage}
//	#fundingscan_retries_total{feed}
//	#go_* and process_* system metrics
//
// Serve exposes them on /metrics using the Prometheus HTTP handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"fundingscan/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once         sync.Once
	registry     *prometheus.Registry
	scanRuns     *prometheus.CounterVec
	scanDuration prometheus.Histogram
	scanRecords  *prometheus.GaugeVec
	feedRetries  *prometheus.CounterVec
)

// Init registers the collectors. Until it is called every Observe/Add
// helper is a no-op, so one-shot scans never touch Prometheus.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		scanRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundingscan_scans_total",
				Help: "Number of funding scans by result",
			},
			[]string{"result"},
		)
		scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fundingscan_scan_duration_seconds",
			Help:    "Wall time of a funding scan",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		})
		scanRecords = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fundingscan_scan_records",
				Help: "Records seen at each stage of the last successful scan",
			},
			[]string{"stage"},
		)
		feedRetries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundingscan_retries_total",
				Help: "Retried requests per feed",
			},
			[]string{"feed"},
		)

		registry.MustRegister(scanRuns, scanDuration, scanRecords, feedRetries)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler returns the /metrics handler, initialising the collectors first.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveScan records the outcome of one scan.
func ObserveScan(stats models.ScanStats, elapsed time.Duration, err error) {
	if scanRuns == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	scanRuns.WithLabelValues(result).Inc()
	scanDuration.Observe(elapsed.Seconds())
	if err != nil {
		return
	}
	scanRecords.WithLabelValues("instruments").Set(float64(stats.Instruments))
	scanRecords.WithLabelValues("caps_found").Set(float64(stats.CapsFound))
	scanRecords.WithLabelValues("joined").Set(float64(stats.Joined))
	scanRecords.WithLabelValues("eligible").Set(float64(stats.Eligible))
}

// AddRetries increases the retry counter for feed.
func AddRetries(feed string, n int) {
	if feedRetries != nil && n > 0 {
		feedRetries.WithLabelValues(feed).Add(float64(n))
	}
}
