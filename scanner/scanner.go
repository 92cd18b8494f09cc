// Package scanner runs one funding-rate scan: list Bybit perpetuals, look up
// their market caps, join and rank.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	appconfig "fundingscan/config"
	"fundingscan/internal/fetch"
	"fundingscan/internal/metrics"
	ratemetrics "fundingscan/internal/metrics/rate"
	"fundingscan/internal/retry"
	"fundingscan/internal/symbols"
	"fundingscan/logger"
	"fundingscan/models"
	"fundingscan/processor"
	"fundingscan/reader/bybit"
	"fundingscan/reader/coingecko"

	"github.com/google/uuid"
)

type options struct {
	transport http.RoundTripper
	sleeper   retry.Sleeper
	now       func() time.Time
}

// Option customises a scan.
type Option func(*options)

// WithTransport sets the round tripper used for every request.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithSleeper replaces the backoff wait.
func WithSleeper(s retry.Sleeper) Option {
	return func(o *options) { o.sleeper = s }
}

// WithClock sets the time source stamped on results.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// RunFundingScan performs one scan with cfg. The configuration is validated
// before any request is made. A fresh HTTP client and retry controller are
// built for every call.
func RunFundingScan(ctx context.Context, cfg *appconfig.Config, opts ...Option) (res models.RankedResult, err error) {
	if cfg == nil {
		return models.RankedResult{}, errors.New("scanner: nil config")
	}
	if err := appconfig.ValidateScan(cfg); err != nil {
		return models.RankedResult{}, fmt.Errorf("invalid scan config: %w", err)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	runID := uuid.NewString()
	base := logger.GetLogger()
	log := base.WithComponent("scanner").WithFields(logger.Fields{"run_id": runID})
	start := o.now()
	defer func() {
		metrics.ObserveScan(res.Stats, o.now().Sub(start), err)
	}()

	log.WithFields(logger.Fields{
		"min_cap_usd":     cfg.Scan.MinCapUSD.String(),
		"top_n":           cfg.Scan.TopN,
		"skip_market_cap": cfg.Scan.SkipMarketCap,
	}).Info("starting funding scan")

	fc := fetch.New(fetch.Options{
		Timeout:   cfg.HTTP.RequestTimeout,
		UserAgent: cfg.HTTP.UserAgent,
		Transport: o.transport,
		OnResponse: func(resp *http.Response) {
			if resp.Request != nil && strings.HasPrefix(resp.Request.URL.Path, "/v5/") {
				ratemetrics.ReportBybitWeight(base, resp.Header, resp.Request.URL.Path)
			}
		},
	})
	rc := retry.NewController(retry.Policy{
		MaxAttempts: cfg.Retry.MaxRetries,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
	}, retry.WithSleeper(o.sleeper), retry.WithLogger(base))
	normalizer := symbols.NewNormalizer(cfg.Source.Bybit.QuoteCoins, cfg.Symbols.Aliases)

	instruments, err := bybit.NewPaginator(cfg.Source.Bybit, fc, rc).FetchAllInstruments(ctx)
	if err != nil {
		log.WithError(err).Error("failed to fetch instruments")
		return models.RankedResult{}, fmt.Errorf("fetch instruments: %w", err)
	}
	stats := models.ScanStats{Instruments: len(instruments)}

	if cfg.Scan.SkipMarketCap {
		records := processor.Unpriced(instruments)
		res = processor.RankAll(records, cfg.Scan.TopN)
		stats.Joined = len(records)
	} else {
		syms := make([]string, 0, len(instruments))
		for _, inst := range instruments {
			syms = append(syms, inst.Symbol)
		}
		fetcher := coingecko.NewFetcher(cfg.Source.CoinGecko, fc, rc, normalizer)
		stats.CapsRequested = len(fetcher.IDs(syms))

		caps, err := fetcher.FetchMarketCaps(ctx, syms)
		if err != nil {
			log.WithError(err).Error("failed to fetch market caps")
			return models.RankedResult{}, fmt.Errorf("fetch market caps: %w", err)
		}
		stats.CapsFound = len(caps)

		joined := processor.Join(instruments, caps, normalizer)
		stats.Joined = len(joined)
		stats.Unmatched = len(instruments) - len(joined)
		res = processor.Rank(joined, cfg.Scan.MinCapUSD, cfg.Scan.TopN)
	}

	stats.Eligible = res.Stats.Eligible
	res.Stats = stats
	res.RunID = runID
	res.GeneratedAt = o.now().UTC()
	res.MinCapUSD = cfg.Scan.MinCapUSD
	res.TopN = cfg.Scan.TopN

	elapsed := o.now().Sub(start)
	base.LogMetric("scanner", "instruments_fetched", stats.Instruments, "gauge", nil)
	if !cfg.Scan.SkipMarketCap {
		base.LogMetric("scanner", "marketcaps_fetched", stats.CapsFound, "gauge", nil)
	}
	base.LogMetric("scanner", "records_joined", stats.Joined, "gauge", nil)
	base.LogMetric("scanner", "records_ranked", len(res.TopPositive)+len(res.TopNegative), "gauge", nil)
	base.LogMetric("scanner", "scan_duration_ms", elapsed.Milliseconds(), "gauge", nil)

	log.WithFields(logger.Fields{
		"positive": len(res.TopPositive),
		"negative": len(res.TopNegative),
		"eligible": stats.Eligible,
	}).Info("funding scan complete")

	return res, nil
}
