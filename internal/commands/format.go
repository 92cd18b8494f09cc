package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"fundingscan/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// WriteTables prints the positive and negative funding tables.
func WriteTables(w io.Writer, res models.RankedResult) error {
	minCap := "off"
	if !res.SkipMarketCap {
		minCap = formatUSD(decimal.NewNullDecimal(res.MinCapUSD))
	}
	if _, err := fmt.Fprintf(w, "UTC %s | min_cap=%s | top=%d | instruments=%d joined=%d\n",
		res.GeneratedAt.UTC().Format(time.RFC3339), minCap, res.TopN, res.Stats.Instruments, res.Stats.Joined); err != nil {
		return err
	}
	if err := writeTable(w, "HIGHEST POSITIVE FUNDING", res.TopPositive); err != nil {
		return err
	}
	return writeTable(w, "MOST NEGATIVE FUNDING", res.TopNegative)
}

func writeTable(w io.Writer, title string, rows []models.JoinedRecord) error {
	if _, err := fmt.Fprintf(w, "\n%s\n", title); err != nil {
		return err
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "(none)")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tNAME\tMARK PRICE\tFUNDING\tMARKET CAP\tTURNOVER 24H\tNEXT FUNDING")
	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Symbol,
			name,
			formatNumber(r.MarkPrice),
			formatRate(r.FundingRate),
			formatUSD(r.MarketCapUSD),
			formatNumber(r.Turnover24h),
			r.NextFundingTime.UTC().Format(time.RFC3339),
		)
	}
	return tw.Flush()
}

// WriteJSON prints the result as indented JSON.
func WriteJSON(w io.Writer, res models.RankedResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// formatRate renders a funding rate as a percentage: 0.0001 -> 0.0100%.
func formatRate(rate decimal.Decimal) string {
	return rate.Mul(hundred).StringFixed(4) + "%"
}

func formatUSD(v decimal.NullDecimal) string {
	if !v.Valid {
		return "N/A"
	}
	return "$" + groupThousands(v.Decimal.Round(0).String())
}

// formatNumber prints up to six decimals with thousands separators.
func formatNumber(v decimal.Decimal) string {
	s := v.Round(6).String()
	intPart, frac, _ := strings.Cut(s, ".")
	out := groupThousands(intPart)
	if frac != "" {
		out += "." + frac
	}
	return out
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}
