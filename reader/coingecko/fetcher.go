package coingecko

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appconfig "fundingscan/config"
	"fundingscan/internal/fetch"
	"fundingscan/internal/retry"
	"fundingscan/internal/symbols"
	"fundingscan/logger"
	"fundingscan/models"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const marketsPath = "/coins/markets"

// market is the subset of a /coins/markets entry we use.
type market struct {
	ID        string              `json:"id"`
	Symbol    string              `json:"symbol"`
	Name      string              `json:"name"`
	MarketCap decimal.NullDecimal `json:"market_cap"`
}

// Fetcher queries market capitalizations in batches.
type Fetcher struct {
	fetch        *fetch.Client
	retry        *retry.Controller
	limiter      *rate.Limiter
	normalizer   *symbols.Normalizer
	baseURL      string
	apiKey       string
	apiKeyHeader string
	batchSize    int
	concurrency  int
	log          *logger.Log
}

func NewFetcher(cfg appconfig.CoinGeckoSourceConfig, fc *fetch.Client, rc *retry.Controller, n *symbols.Normalizer) *Fetcher {
	batch := cfg.BatchSize
	if batch <= 0 || batch > appconfig.MaxCoinGeckoBatch {
		batch = appconfig.MaxCoinGeckoBatch
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	header := cfg.APIKeyHeader
	if header == "" {
		header = "x-cg-demo-api-key"
	}

	return &Fetcher{
		fetch:        fc,
		retry:        rc.ForFeed("coingecko"),
		limiter:      rate.NewLimiter(limit, 1),
		normalizer:   n,
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		apiKey:       cfg.APIKey,
		apiKeyHeader: header,
		batchSize:    batch,
		concurrency:  concurrency,
		log:          logger.GetLogger(),
	}
}

// IDs normalizes exchange symbols to feed identifiers, keeping the first
// occurrence of each. Symbols that do not normalize are skipped.
func (f *Fetcher) IDs(syms []string) []string {
	seen := make(map[string]struct{}, len(syms))
	ids := make([]string, 0, len(syms))
	for _, s := range syms {
		id, ok := f.normalizer.ID(s)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Batches splits ids into consecutive chunks of at most size entries.
func Batches(ids []string, size int) [][]string {
	if size <= 0 {
		size = appconfig.MaxCoinGeckoBatch
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// FetchMarketCaps returns the capitalization of every symbol the feed
// knows, keyed by normalized identifier. The first unrecoverable batch
// error cancels the remaining batches and no partial map is returned.
func (f *Fetcher) FetchMarketCaps(ctx context.Context, syms []string) (models.CapMap, error) {
	log := f.log.WithComponent("coingecko_reader").WithFields(logger.Fields{"operation": "FetchMarketCaps"})
	start := time.Now()

	ids := f.IDs(syms)
	batches := Batches(ids, f.batchSize)
	results := make([][]market, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			ms, err := f.fetchBatch(gctx, i, batch)
			if err != nil {
				return err
			}
			results[i] = ms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	requested := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}

	caps := make(models.CapMap, len(ids))
	omitted := 0
	for _, ms := range results {
		for _, m := range ms {
			key := strings.ToLower(strings.TrimSpace(m.Symbol))
			if _, ok := requested[key]; !ok {
				continue
			}
			if !m.MarketCap.Valid || m.MarketCap.Decimal.IsNegative() {
				omitted++
				continue
			}
			caps.Put(key, models.CapitalizationRecord{
				ID:           m.ID,
				Symbol:       key,
				Name:         m.Name,
				MarketCapUSD: m.MarketCap.Decimal,
			})
		}
	}

	logger.LogPerformanceEntry(log, "coingecko_reader", "fetch_market_caps", time.Since(start), logger.Fields{
		"batches": len(batches),
	})
	log.WithFields(logger.Fields{
		"requested": len(ids),
		"found":     len(caps),
		"omitted":   omitted,
	}).Info("fetched market caps")

	return caps, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, index int, batch []string) ([]market, error) {
	query := url.Values{
		"vs_currency":    {"usd"},
		"symbols":        {strings.Join(batch, ",")},
		"include_tokens": {"top"},
		"per_page":       {strconv.Itoa(appconfig.MaxCoinGeckoBatch)},
		"page":           {"1"},
	}
	var header http.Header
	if f.apiKey != "" {
		header = http.Header{}
		header.Set(f.apiKeyHeader, f.apiKey)
	}
	target := f.baseURL + marketsPath

	ms, out, err := retry.Execute(ctx, f.retry, marketsPath, func(ctx context.Context) ([]market, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := f.fetch.Get(ctx, target, query, header)
		if err != nil {
			return nil, err
		}
		var raw []json.RawMessage
		if err := fetch.DecodeJSON(resp, &raw); err != nil {
			return nil, err
		}
		ms := make([]market, 0, len(raw))
		for _, r := range raw {
			var m market
			if err := json.Unmarshal(r, &m); err != nil || m.Symbol == "" {
				continue
			}
			ms = append(ms, m)
		}
		return ms, nil
	})

	entry := f.log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"batch":    index,
		"size":     len(batch),
		"attempts": out.Attempts,
		"retries":  out.Retries,
	})
	if err != nil {
		entry.WithError(err).Warn("market cap batch failed")
		return nil, err
	}
	entry.WithField("entries", len(ms)).Debug("fetched market cap batch")
	return ms, nil
}
