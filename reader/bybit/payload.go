package bybit

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"fundingscan/models"

	"github.com/shopspring/decimal"
)

// page is the `result` object shared by the v5 market listing endpoints.
type page struct {
	Category       string            `json:"category"`
	NextPageCursor string            `json:"nextPageCursor"`
	List           []json.RawMessage `json:"list"`
}

type tickerRecord struct {
	Symbol          string `json:"symbol"`
	FundingRate     string `json:"fundingRate"`
	IndexPrice      string `json:"indexPrice"`
	MarkPrice       string `json:"markPrice"`
	Turnover24h     string `json:"turnover24h"`
	NextFundingTime string `json:"nextFundingTime"`
}

type instrumentRecord struct {
	Symbol       string `json:"symbol"`
	ContractType string `json:"contractType"`
	Status       string `json:"status"`
	BaseCoin     string `json:"baseCoin"`
	QuoteCoin    string `json:"quoteCoin"`
}

const (
	contractLinearPerpetual = "LinearPerpetual"
	statusTrading           = "Trading"
)

func (r instrumentRecord) perpetual() bool {
	return r.ContractType == contractLinearPerpetual && r.Status == statusTrading
}

func parseInstrumentRecord(raw json.RawMessage) (instrumentRecord, bool) {
	var rec instrumentRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Symbol == "" {
		return instrumentRecord{}, false
	}
	return rec, true
}

// parseTicker converts one ticker record. Records without a usable funding
// rate or next funding time are rejected; price fields default to zero when
// absent.
func parseTicker(raw json.RawMessage) (models.Instrument, bool) {
	var rec tickerRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Symbol == "" {
		return models.Instrument{}, false
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(rec.FundingRate))
	if err != nil {
		return models.Instrument{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(rec.NextFundingTime), 10, 64)
	if err != nil || ms <= 0 {
		return models.Instrument{}, false
	}

	inst := models.Instrument{
		Symbol:          strings.ToUpper(rec.Symbol),
		FundingRate:     rate,
		NextFundingTime: time.UnixMilli(ms).UTC(),
	}
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{rec.IndexPrice, &inst.IndexPrice},
		{rec.MarkPrice, &inst.MarkPrice},
		{rec.Turnover24h, &inst.Turnover24h},
	} {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return models.Instrument{}, false
		}
		*f.dst = d
	}
	return inst, true
}
