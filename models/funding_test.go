package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCapMapPutKeepsLargest(t *testing.T) {
	m := CapMap{}
	m.Put("og", CapitalizationRecord{ID: "og-fan-token", MarketCapUSD: decimal.NewFromInt(40_000_000)})
	m.Put("og", CapitalizationRecord{ID: "origin-game", MarketCapUSD: decimal.NewFromInt(2_000)})
	m.Put("og", CapitalizationRecord{ID: "og-bigger", MarketCapUSD: decimal.NewFromInt(90_000_000)})

	if got := m["og"].ID; got != "og-bigger" {
		t.Fatalf("expected largest cap to win, got %s", got)
	}
}

func TestJoinedRecordJSONWithoutCap(t *testing.T) {
	rec := JoinedRecord{Symbol: "BTCUSDT", FundingRate: decimal.RequireFromString("0.0001")}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"market_cap_usd":null`) {
		t.Fatalf("expected null cap: %s", data)
	}
	if !strings.Contains(string(data), `"funding_rate":"0.0001"`) {
		t.Fatalf("unexpected funding rate encoding: %s", data)
	}
}
