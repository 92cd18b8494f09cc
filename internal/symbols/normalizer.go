// Package symbols maps exchange contract symbols to capitalization feed
// identifiers.
package symbols

import (
	"sort"
	"strings"
)

// DefaultQuotes are the settlement suffixes stripped from contract symbols.
var DefaultQuotes = []string{"USDT", "USDC", "PERP", "USD"}

// DefaultAliases covers rebrands where the exchange base differs from the
// symbol listed by the capitalization feed.
var DefaultAliases = map[string]string{
	"luna2":   "luna",
	"raydium": "ray",
	"rndr":    "render",
}

// Contract multipliers, longest first.
var multipliers = []string{"10000000", "1000000", "100000", "10000", "1000", "100"}

// Normalizer is safe for concurrent use once built.
type Normalizer struct {
	quotes  []string
	aliases map[string]string
}

// NewNormalizer builds a Normalizer recognising quotes in addition to
// DefaultQuotes. aliases override DefaultAliases key by key.
func NewNormalizer(quotes []string, aliases map[string]string) *Normalizer {
	seen := make(map[string]struct{})
	var qs []string
	for _, q := range append(append([]string{}, quotes...), DefaultQuotes...) {
		q = strings.ToUpper(strings.TrimSpace(q))
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		qs = append(qs, q)
	}
	sort.SliceStable(qs, func(i, j int) bool { return len(qs[i]) > len(qs[j]) })

	al := make(map[string]string, len(DefaultAliases)+len(aliases))
	for k, v := range DefaultAliases {
		al[k] = v
	}
	for k, v := range aliases {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.TrimSpace(v))
		if k != "" && v != "" {
			al[k] = v
		}
	}
	return &Normalizer{quotes: qs, aliases: al}
}

// Split separates an exchange symbol into its base and quote. Separators
// are ignored: BTC-PERP and BTCPERP split the same way.
func (n *Normalizer) Split(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
	for _, q := range n.quotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return "", "", false
}

// Base returns the upper-case base asset with contract multipliers
// removed: 1000PEPEUSDT -> PEPE, SHIB1000USDT -> SHIB, 1INCHUSDT -> 1INCH.
func (n *Normalizer) Base(symbol string) (string, bool) {
	base, _, ok := n.Split(symbol)
	if !ok {
		return "", false
	}
	base = stripMultiplier(base)
	if base == "" {
		return "", false
	}
	return base, true
}

// ID returns the capitalization feed identifier for symbol: the lower-case
// base after alias lookup.
func (n *Normalizer) ID(symbol string) (string, bool) {
	base, ok := n.Base(symbol)
	if !ok {
		return "", false
	}
	id := strings.ToLower(base)
	if alias, ok := n.aliases[id]; ok {
		return alias, true
	}
	return id, true
}

func stripMultiplier(base string) string {
	for _, m := range multipliers {
		if len(base) > len(m) && strings.HasPrefix(base, m) && isLetter(base[len(m)]) {
			return base[len(m):]
		}
	}
	for _, m := range multipliers {
		if len(base) > len(m) && strings.HasSuffix(base, m) && isLetter(base[len(base)-len(m)-1]) {
			return base[:len(base)-len(m)]
		}
	}
	return base
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
