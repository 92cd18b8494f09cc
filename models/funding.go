package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is one perpetual contract parsed from the ticker feed.
type Instrument struct {
	Symbol          string          `json:"symbol"`
	FundingRate     decimal.Decimal `json:"funding_rate"`
	IndexPrice      decimal.Decimal `json:"index_price"`
	MarkPrice       decimal.Decimal `json:"mark_price"`
	Turnover24h     decimal.Decimal `json:"turnover_24h"`
	NextFundingTime time.Time       `json:"next_funding_time"`
}

// CapitalizationRecord is one entry of the market cap feed.
type CapitalizationRecord struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	MarketCapUSD decimal.Decimal `json:"market_cap_usd"`
}

// CapMap indexes capitalization records by normalized identifier.
type CapMap map[string]CapitalizationRecord

// Put stores rec under id unless a larger cap is already present.
func (m CapMap) Put(id string, rec CapitalizationRecord) {
	if cur, ok := m[id]; ok && cur.MarketCapUSD.GreaterThanOrEqual(rec.MarketCapUSD) {
		return
	}
	m[id] = rec
}

// JoinedRecord is an instrument matched to its capitalization entry.
// MarketCapUSD is invalid only when the scan skipped the cap feed.
type JoinedRecord struct {
	Symbol          string              `json:"symbol"`
	CapID           string              `json:"cap_id,omitempty"`
	Name            string              `json:"name,omitempty"`
	FundingRate     decimal.Decimal     `json:"funding_rate"`
	IndexPrice      decimal.Decimal     `json:"index_price"`
	MarkPrice       decimal.Decimal     `json:"mark_price"`
	Turnover24h     decimal.Decimal     `json:"turnover_24h"`
	NextFundingTime time.Time           `json:"next_funding_time"`
	MarketCapUSD    decimal.NullDecimal `json:"market_cap_usd"`
}

// ScanStats counts records at each pipeline stage.
type ScanStats struct {
	Instruments   int `json:"instruments"`
	CapsRequested int `json:"caps_requested"`
	CapsFound     int `json:"caps_found"`
	Joined        int `json:"joined"`
	Unmatched     int `json:"unmatched"`
	Eligible      int `json:"eligible"`
}

// RankedResult holds both funding tables of a scan.
type RankedResult struct {
	RunID         string          `json:"run_id,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
	MinCapUSD     decimal.Decimal `json:"min_cap_usd"`
	TopN          int             `json:"top_n"`
	SkipMarketCap bool            `json:"skip_market_cap,omitempty"`
	TopPositive   []JoinedRecord  `json:"top_positive"`
	TopNegative   []JoinedRecord  `json:"top_negative"`
	Stats         ScanStats       `json:"stats"`
}
