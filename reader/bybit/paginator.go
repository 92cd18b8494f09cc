package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	appconfig "fundingscan/config"
	"fundingscan/internal/fetch"
	ratemetrics "fundingscan/internal/metrics/rate"
	"fundingscan/internal/retry"
	"fundingscan/logger"
	"fundingscan/models"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"golang.org/x/time/rate"
)

const (
	tickersEndpoint     = "/v5/market/tickers"
	instrumentsEndpoint = "/v5/market/instruments-info"
)

// Paginator lists Bybit linear perpetuals and their tickers.
type Paginator struct {
	client    *bybit.Client
	fetch     *fetch.Client
	retry     *retry.Controller
	limiter   *rate.Limiter
	baseURL   string
	category  string
	quotes    map[string]struct{}
	pageLimit int
	maxPages  int
	log       *logger.Log
}

// NewPaginator builds a paginator whose SDK client shares fc's transport.
// Only the scheme and host of cfg.URL are used as the SDK base.
func NewPaginator(cfg appconfig.BybitSourceConfig, fc *fetch.Client, rc *retry.Controller) *Paginator {
	log := logger.GetLogger()

	base := strings.TrimRight(cfg.URL, "/")
	if parsed, err := url.Parse(cfg.URL); err == nil && parsed.Host != "" {
		base = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	}

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	client.HTTPClient = fc.HTTPClient()

	quotes := make(map[string]struct{}, len(cfg.QuoteCoins))
	for _, q := range cfg.QuoteCoins {
		quotes[strings.ToUpper(strings.TrimSpace(q))] = struct{}{}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 1000
	}
	category := cfg.Category
	if category == "" {
		category = "linear"
	}

	p := &Paginator{
		client:    client,
		fetch:     fc,
		retry:     rc.ForFeed("bybit"),
		limiter:   rate.NewLimiter(limit, 1),
		baseURL:   base,
		category:  category,
		quotes:    quotes,
		pageLimit: pageLimit,
		maxPages:  maxPages,
		log:       log,
	}

	log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"base_url":  base,
		"category":  category,
		"max_pages": maxPages,
	}).Debug("bybit paginator initialized")

	return p
}

type pageCall func(ctx context.Context, params map[string]interface{}) (*bybit.ServerResponse, error)

func (p *Paginator) tickersCall(ctx context.Context, params map[string]interface{}) (*bybit.ServerResponse, error) {
	return p.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
}

func (p *Paginator) instrumentsCall(ctx context.Context, params map[string]interface{}) (*bybit.ServerResponse, error) {
	return p.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
}

// FetchAllInstruments returns the tradable linear perpetuals that carry a
// funding rate and a next funding time. Malformed records are dropped.
func (p *Paginator) FetchAllInstruments(ctx context.Context) ([]models.Instrument, error) {
	log := p.log.WithComponent("bybit_reader").WithFields(logger.Fields{"operation": "FetchAllInstruments"})
	start := time.Now()

	perps := make(map[string]instrumentRecord)
	malformedSpecs := 0
	specPages, err := p.collect(ctx, instrumentsEndpoint, map[string]interface{}{
		"category": p.category,
		"limit":    p.pageLimit,
	}, p.instrumentsCall, func(raw json.RawMessage) {
		rec, ok := parseInstrumentRecord(raw)
		if !ok {
			malformedSpecs++
			return
		}
		if rec.perpetual() {
			perps[strings.ToUpper(rec.Symbol)] = rec
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}

	var (
		out       []models.Instrument
		seen      = make(map[string]struct{})
		malformed int
		skipped   int
	)
	tickerPages, err := p.collect(ctx, tickersEndpoint, map[string]interface{}{
		"category": p.category,
	}, p.tickersCall, func(raw json.RawMessage) {
		inst, ok := parseTicker(raw)
		if !ok {
			malformed++
			return
		}
		spec, ok := perps[inst.Symbol]
		if !ok {
			skipped++
			return
		}
		if _, ok := p.quotes[strings.ToUpper(spec.QuoteCoin)]; !ok {
			skipped++
			return
		}
		if _, dup := seen[inst.Symbol]; dup {
			return
		}
		seen[inst.Symbol] = struct{}{}
		out = append(out, inst)
	})
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}

	if dropped := malformed + malformedSpecs; dropped > 0 {
		log.WithField("dropped", dropped).Warn("dropped malformed records")
		p.log.LogMetric("bybit_reader", "records_dropped", int64(dropped), "counter", logger.Fields{"reason": "malformed"})
	}

	logger.LogPerformanceEntry(log, "bybit_reader", "fetch_all_instruments", time.Since(start), logger.Fields{
		"instrument_pages": specPages,
		"ticker_pages":     tickerPages,
	})
	log.WithFields(logger.Fields{
		"perpetuals":  len(perps),
		"instruments": len(out),
		"skipped":     skipped,
	}).Info("fetched bybit instruments")

	return out, nil
}

// collect walks endpoint following nextPageCursor. It stops on an empty
// cursor, an empty page, a cursor seen before, or after maxPages pages.
func (p *Paginator) collect(ctx context.Context, endpoint string, base map[string]interface{}, call pageCall, visit func(json.RawMessage)) (int, error) {
	log := p.log.WithComponent("bybit_reader").WithFields(logger.Fields{"endpoint": endpoint})

	seen := make(map[string]struct{})
	cursor := ""
	pages := 0
	for pages < p.maxPages {
		params := make(map[string]interface{}, len(base)+1)
		for k, v := range base {
			params[k] = v
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		pg, err := p.fetchPage(ctx, endpoint, params, call)
		if err != nil {
			return pages, err
		}
		pages++

		for _, raw := range pg.List {
			visit(raw)
		}

		next := pg.NextPageCursor
		if len(pg.List) == 0 || next == "" {
			return pages, nil
		}
		if _, dup := seen[next]; dup {
			log.WithField("cursor", next).Warn("cursor repeated, stopping pagination")
			return pages, nil
		}
		seen[next] = struct{}{}
		cursor = next
	}

	log.WithField("max_pages", p.maxPages).Warn("page limit reached, stopping pagination")
	return pages, nil
}

func (p *Paginator) fetchPage(ctx context.Context, endpoint string, params map[string]interface{}, call pageCall) (*page, error) {
	target := p.baseURL + endpoint

	pg, out, err := retry.Execute(ctx, p.retry, endpoint, func(ctx context.Context) (*page, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := p.fetch.CallContext(ctx)
		defer cancel()
		callCtx, slot := fetch.WithFailure(callCtx)

		resp, err := call(callCtx, params)
		if ferr := slot.Err(); ferr != nil {
			if perr := ctx.Err(); perr != nil {
				return nil, perr
			}
			return nil, ferr
		}
		if err != nil {
			if perr := ctx.Err(); perr != nil {
				return nil, perr
			}
			if callCtx.Err() != nil {
				return nil, &fetch.Error{Kind: fetch.KindTimeout, URL: target, Err: err}
			}
			// the transport succeeded, so the SDK failed decoding the body
			return nil, fetch.Malformed(target, err)
		}
		if resp == nil {
			return nil, fetch.Malformed(target, fmt.Errorf("empty response"))
		}
		if resp.RetCode != 0 && ratemetrics.IsBybitThrottle(resp.RetCode, resp.RetMsg) {
			return nil, fetch.RateLimited(target, resp.RetCode, resp.RetMsg, nil)
		}
		if resp.RetCode != 0 {
			return nil, &fetch.Error{Kind: fetch.KindHTTP, Status: 200, Code: resp.RetCode, Body: resp.RetMsg, URL: target}
		}

		payload, err := json.Marshal(resp.Result)
		if err != nil {
			return nil, fetch.Malformed(target, err)
		}
		var pg page
		if err := json.Unmarshal(payload, &pg); err != nil {
			return nil, fetch.Malformed(target, err)
		}
		return &pg, nil
	})

	entry := p.log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"endpoint": endpoint,
		"attempts": out.Attempts,
		"retries":  out.Retries,
	})
	if err != nil {
		entry.WithError(err).Warn("bybit page request failed")
		return nil, err
	}
	entry.WithField("records", len(pg.List)).Debug("fetched bybit page")
	return pg, nil
}
