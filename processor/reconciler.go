package processor

import (
	"fundingscan/internal/symbols"
	"fundingscan/logger"
	"fundingscan/models"

	"github.com/shopspring/decimal"
)

// Join matches instruments to their capitalization entries. Instruments
// whose identifier is missing from caps are dropped. Duplicate symbols keep
// the first occurrence.
func Join(instruments []models.Instrument, caps models.CapMap, n *symbols.Normalizer) []models.JoinedRecord {
	log := logger.GetLogger().WithComponent("reconciler")

	out := make([]models.JoinedRecord, 0, len(instruments))
	seen := make(map[string]struct{}, len(instruments))
	unmatched := 0
	for _, inst := range instruments {
		if _, dup := seen[inst.Symbol]; dup {
			continue
		}
		seen[inst.Symbol] = struct{}{}

		id, ok := n.ID(inst.Symbol)
		if !ok {
			unmatched++
			log.WithField("symbol", inst.Symbol).Debug("symbol does not normalize")
			continue
		}
		rec, ok := caps[id]
		if !ok {
			unmatched++
			log.WithFields(logger.Fields{"symbol": inst.Symbol, "id": id}).Debug("no market cap for symbol")
			continue
		}
		out = append(out, joined(inst, rec.ID, rec.Name, decimal.NewNullDecimal(rec.MarketCapUSD)))
	}

	if unmatched > 0 {
		log.WithField("unmatched", unmatched).Info("instruments without market cap dropped")
	}
	return out
}

// Unpriced turns every instrument into a record without capitalization,
// for scans that skip the cap feed.
func Unpriced(instruments []models.Instrument) []models.JoinedRecord {
	out := make([]models.JoinedRecord, 0, len(instruments))
	seen := make(map[string]struct{}, len(instruments))
	for _, inst := range instruments {
		if _, dup := seen[inst.Symbol]; dup {
			continue
		}
		seen[inst.Symbol] = struct{}{}
		out = append(out, joined(inst, "", "", decimal.NullDecimal{}))
	}
	return out
}

func joined(inst models.Instrument, capID, name string, capUSD decimal.NullDecimal) models.JoinedRecord {
	return models.JoinedRecord{
		Symbol:          inst.Symbol,
		CapID:           capID,
		Name:            name,
		FundingRate:     inst.FundingRate,
		IndexPrice:      inst.IndexPrice,
		MarkPrice:       inst.MarkPrice,
		Turnover24h:     inst.Turnover24h,
		NextFundingTime: inst.NextFundingTime,
		MarketCapUSD:    capUSD,
	}
}
