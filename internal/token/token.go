// Package token collapses trading-pair symbols to their base asset.
package token

import "strings"

// majors are bases in their own right even though they also appear as quotes.
var majors = map[string]bool{
	"BTC": true,
	"ETH": true,
}

// quoteSuffixes is ordered: stablecoins first, then majors. BUSD precedes USD
// so "XBUSD" strips to "X" rather than "XB".
var quoteSuffixes = []string{"BUSD", "USDT", "USDC", "USD", "BTC", "ETH"}

// Base returns the base asset of symbol, e.g. "SOLUSDT" -> "SOL".
// The first matching quote suffix is stripped; symbols with no known quote
// are returned unchanged. A bare quote such as "USDT" yields "", which callers
// treat as "no identifiable base asset".
func Base(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if majors[s] {
		return s
	}
	for _, quote := range quoteSuffixes {
		if strings.HasSuffix(s, quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	return s
}

// IsQuote reports whether asset is one of the known quote currencies.
func IsQuote(asset string) bool {
	a := strings.ToUpper(strings.TrimSpace(asset))
	for _, quote := range quoteSuffixes {
		if a == quote {
			return true
		}
	}
	return false
}

// stablecoins are valued at exactly one dollar.
var stablecoins = map[string]bool{
	"USDT": true,
	"USDC": true,
	"BUSD": true,
}

// renames maps retired tickers to the symbol venues list them under today.
var renames = map[string]string{
	"MATIC": "POL",
}

// IsStablecoin reports whether asset is pegged at 1 USD.
func IsStablecoin(asset string) bool {
	return stablecoins[strings.ToUpper(strings.TrimSpace(asset))]
}

// Canonical returns the ticker an asset trades under now, e.g. "MATIC" -> "POL".
func Canonical(asset string) string {
	a := strings.ToUpper(strings.TrimSpace(asset))
	if renamed, ok := renames[a]; ok {
		return renamed
	}
	return a
}
