package processor

import (
	"sort"

	"fundingscan/models"

	"github.com/shopspring/decimal"
)

// Rank keeps records whose market cap is at least minCapUSD and returns the
// topN most positive and topN most negative funding rates. Zero rates are
// in neither table. Ties break on higher 24h turnover, then symbol.
// The input slice is not modified.
func Rank(records []models.JoinedRecord, minCapUSD decimal.Decimal, topN int) models.RankedResult {
	res := rank(records, func(r models.JoinedRecord) bool {
		return r.MarketCapUSD.Valid && r.MarketCapUSD.Decimal.GreaterThanOrEqual(minCapUSD)
	}, topN)
	res.MinCapUSD = minCapUSD
	return res
}

// RankAll ranks every record without a capitalization filter.
func RankAll(records []models.JoinedRecord, topN int) models.RankedResult {
	res := rank(records, func(models.JoinedRecord) bool { return true }, topN)
	res.SkipMarketCap = true
	return res
}

func rank(records []models.JoinedRecord, keep func(models.JoinedRecord) bool, topN int) models.RankedResult {
	var pos, neg []models.JoinedRecord
	eligible := 0
	for _, r := range records {
		if !keep(r) {
			continue
		}
		eligible++
		switch r.FundingRate.Sign() {
		case 1:
			pos = append(pos, r)
		case -1:
			neg = append(neg, r)
		}
	}

	sort.SliceStable(pos, func(i, j int) bool {
		if c := pos[i].FundingRate.Cmp(pos[j].FundingRate); c != 0 {
			return c > 0
		}
		return tieBreak(pos[i], pos[j])
	})
	sort.SliceStable(neg, func(i, j int) bool {
		if c := neg[i].FundingRate.Cmp(neg[j].FundingRate); c != 0 {
			return c < 0
		}
		return tieBreak(neg[i], neg[j])
	})

	return models.RankedResult{
		TopN:        topN,
		TopPositive: truncate(pos, topN),
		TopNegative: truncate(neg, topN),
		Stats:       models.ScanStats{Eligible: eligible},
	}
}

func tieBreak(a, b models.JoinedRecord) bool {
	if c := a.Turnover24h.Cmp(b.Turnover24h); c != 0 {
		return c > 0
	}
	return a.Symbol < b.Symbol
}

func truncate(rs []models.JoinedRecord, n int) []models.JoinedRecord {
	if n < 0 {
		n = 0
	}
	if len(rs) > n {
		rs = rs[:n]
	}
	out := make([]models.JoinedRecord, len(rs))
	copy(out, rs)
	return out
}
