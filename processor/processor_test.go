package processor

import (
	"reflect"
	"testing"
	"time"

	"fundingscan/internal/symbols"
	"fundingscan/models"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func inst(symbol, rate, turnover string) models.Instrument {
	return models.Instrument{
		Symbol:          symbol,
		FundingRate:     d(rate),
		MarkPrice:       d("1"),
		Turnover24h:     d(turnover),
		NextFundingTime: time.Unix(1700028800, 0).UTC(),
	}
}

func capRecord(id, capUSD string) models.CapitalizationRecord {
	return models.CapitalizationRecord{ID: id + "-id", Symbol: id, Name: id, MarketCapUSD: d(capUSD)}
}

func symbolsOf(rs []models.JoinedRecord) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Symbol)
	}
	return out
}

func TestJoinAndRankScenario(t *testing.T) {
	n := symbols.NewNormalizer([]string{"USDT"}, nil)
	instruments := []models.Instrument{
		inst("BTCUSDT", "0.0001", "100"),
		inst("OGUSDT", "-0.01", "100"),
		inst("XUSDT", "0.02", "100"),
	}
	caps := models.CapMap{
		"btc": capRecord("btc", "500000000000"),
		"og":  capRecord("og", "150000000"),
		"x":   capRecord("x", "50000000"),
	}

	joined := Join(instruments, caps, n)
	if len(joined) != 3 {
		t.Fatalf("expected 3 joined records, got %d", len(joined))
	}
	res := Rank(joined, d("100000000"), 5)

	if got := symbolsOf(res.TopPositive); !reflect.DeepEqual(got, []string{"BTCUSDT"}) {
		t.Fatalf("positive = %v", got)
	}
	if got := symbolsOf(res.TopNegative); !reflect.DeepEqual(got, []string{"OGUSDT"}) {
		t.Fatalf("negative = %v", got)
	}
	if res.Stats.Eligible != 2 || !res.MinCapUSD.Equal(d("100000000")) || res.TopN != 5 {
		t.Fatalf("unexpected metadata: %+v", res)
	}
}

func TestJoinDropsUnmatched(t *testing.T) {
	n := symbols.NewNormalizer([]string{"USDT"}, nil)
	joined := Join([]models.Instrument{
		inst("BTCUSDT", "0.0001", "1"),
		inst("ZZZUSDT", "0.5", "1"),
		inst("BTCUSDT", "0.9", "1"),
		inst("BTCEUR", "0.1", "1"),
	}, models.CapMap{"btc": capRecord("btc", "1")}, n)

	if len(joined) != 1 || joined[0].Symbol != "BTCUSDT" || !joined[0].FundingRate.Equal(d("0.0001")) {
		t.Fatalf("unexpected join output: %+v", joined)
	}
	if joined[0].CapID != "btc-id" || !joined[0].MarketCapUSD.Valid {
		t.Fatalf("cap not carried over: %+v", joined[0])
	}
}

func TestJoinNormalizesMultipliers(t *testing.T) {
	n := symbols.NewNormalizer([]string{"USDT"}, nil)
	joined := Join([]models.Instrument{
		inst("1000PEPEUSDT", "0.001", "1"),
		inst("SHIB1000USDT", "-0.001", "1"),
		inst("1INCHUSDT", "0.002", "1"),
	}, models.CapMap{
		"pepe":  capRecord("pepe", "1"),
		"shib":  capRecord("shib", "1"),
		"1inch": capRecord("1inch", "1"),
	}, n)
	if len(joined) != 3 {
		t.Fatalf("expected all three to join, got %v", symbolsOf(joined))
	}
}

func TestRankOrderingAndTies(t *testing.T) {
	capped := func(symbol, rate, turnover string) models.JoinedRecord {
		return models.JoinedRecord{
			Symbol:       symbol,
			FundingRate:  d(rate),
			Turnover24h:  d(turnover),
			MarketCapUSD: decimal.NewNullDecimal(d("1000")),
		}
	}
	records := []models.JoinedRecord{
		capped("AAA", "0.001", "10"),
		capped("BBB", "0.003", "10"),
		capped("CCC", "0.001", "50"),
		capped("ABC", "0.001", "50"),
		capped("ZERO", "0", "99"),
		capped("NEG1", "-0.002", "10"),
		capped("NEG2", "-0.004", "10"),
		capped("NEG3", "-0.002", "20"),
		{Symbol: "NOCAP", FundingRate: d("0.5")},
	}
	before := append([]models.JoinedRecord(nil), records...)

	res := Rank(records, d("0"), 3)

	if got := symbolsOf(res.TopPositive); !reflect.DeepEqual(got, []string{"BBB", "ABC", "CCC"}) {
		t.Fatalf("positive = %v", got)
	}
	if got := symbolsOf(res.TopNegative); !reflect.DeepEqual(got, []string{"NEG2", "NEG3", "NEG1"}) {
		t.Fatalf("negative = %v", got)
	}
	if !reflect.DeepEqual(records, before) {
		t.Fatal("Rank mutated its input")
	}
}

func TestRankBoundsAndFilter(t *testing.T) {
	var records []models.JoinedRecord
	for i := 0; i < 20; i++ {
		rate := decimal.NewFromInt(int64(i - 10)).Div(decimal.NewFromInt(1000))
		records = append(records, models.JoinedRecord{
			Symbol:       string(rune('A'+i)) + "USDT",
			FundingRate:  rate,
			MarketCapUSD: decimal.NewNullDecimal(decimal.NewFromInt(int64(i) * 1_000_000)),
		})
	}
	minCap := d("5000000")
	res := Rank(records, minCap, 4)

	if len(res.TopPositive) > 4 || len(res.TopNegative) > 4 {
		t.Fatalf("tables exceed topN: %d %d", len(res.TopPositive), len(res.TopNegative))
	}
	for _, r := range append(res.TopPositive, res.TopNegative...) {
		if r.MarketCapUSD.Decimal.LessThan(minCap) {
			t.Fatalf("%s below min cap", r.Symbol)
		}
	}
	for _, r := range res.TopPositive {
		if !r.FundingRate.IsPositive() {
			t.Fatalf("non-positive rate in positive table: %s", r.Symbol)
		}
	}
	for i := 1; i < len(res.TopPositive); i++ {
		if res.TopPositive[i].FundingRate.GreaterThan(res.TopPositive[i-1].FundingRate) {
			t.Fatal("positive table not descending")
		}
	}
	for i := 1; i < len(res.TopNegative); i++ {
		if res.TopNegative[i].FundingRate.LessThan(res.TopNegative[i-1].FundingRate) {
			t.Fatal("negative table not ascending")
		}
	}
	// indexes 5..9 are negative and capped, 11..19 positive
	if got := symbolsOf(res.TopNegative); !reflect.DeepEqual(got, []string{"FUSDT", "GUSDT", "HUSDT", "IUSDT"}) {
		t.Fatalf("negative = %v", got)
	}
}

func TestRankIsIdempotent(t *testing.T) {
	n := symbols.NewNormalizer(nil, nil)
	instruments := []models.Instrument{
		inst("BTCUSDT", "0.0001", "5"),
		inst("ETHUSDT", "0.0001", "7"),
		inst("SOLUSDT", "-0.0003", "1"),
	}
	caps := models.CapMap{
		"btc": capRecord("btc", "10"),
		"eth": capRecord("eth", "10"),
		"sol": capRecord("sol", "10"),
	}
	first := Rank(Join(instruments, caps, n), d("1"), 10)
	second := Rank(Join(instruments, caps, n), d("1"), 10)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ:\n%+v\n%+v", first, second)
	}
	if got := symbolsOf(first.TopPositive); !reflect.DeepEqual(got, []string{"ETHUSDT", "BTCUSDT"}) {
		t.Fatalf("positive = %v", got)
	}
}

func TestRankAllSkipsCapFilter(t *testing.T) {
	records := Unpriced([]models.Instrument{
		inst("AUSDT", "0.01", "1"),
		inst("BUSDT", "-0.01", "1"),
		inst("AUSDT", "0.02", "1"),
	})
	if len(records) != 2 || records[0].MarketCapUSD.Valid {
		t.Fatalf("unexpected unpriced records: %+v", records)
	}
	res := RankAll(records, 5)
	if !res.SkipMarketCap || len(res.TopPositive) != 1 || len(res.TopNegative) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if Rank(records, d("0"), 5).Stats.Eligible != 0 {
		t.Fatal("records without cap must not pass the cap filter")
	}
}

func TestRankEmpty(t *testing.T) {
	res := Rank(nil, d("0"), 5)
	if res.TopPositive == nil || res.TopNegative == nil {
		t.Fatal("tables should be empty, not nil")
	}
	if len(res.TopPositive) != 0 || len(res.TopNegative) != 0 {
		t.Fatal("expected empty tables")
	}
}
