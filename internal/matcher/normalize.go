package matcher

import "strings"

// assetAliases maps lowercase title tokens to a canonical asset tag. The
// table is explicit: only pre-validated equivalences match, never fuzzy
// similarity.
var assetAliases = map[string]string{
	"btc":      "BTC",
	"bitcoin":  "BTC",
	"xbt":      "BTC",
	"eth":      "ETH",
	"ethereum": "ETH",
	"ether":    "ETH",
	"sol":      "SOL",
	"solana":   "SOL",
}

// sourceClasses maps a resolution-source label to its equivalence class.
// Sources in the same class are interchangeable index providers for the same
// asset price.
var sourceClasses = map[string]string{
	"cf benchmarks":       "cf",
	"cf-benchmarks":       "cf",
	"kalshi-cf":           "cf",
	"coinbase":            "coinbase",
	"coinbase spot":       "coinbase",
	"binance":             "binance",
	"binance spot":        "binance",
	"chainlink":           "chainlink",
	"chainlink btc/usd":   "chainlink",
	"chainlink eth/usd":   "chainlink",
	"chainlink sol/usd":   "chainlink",
	"pyth":                "pyth",
	"pyth network":        "pyth",
}

// equivalentSources lists cross-provider classes pre-validated to track the
// same index closely enough for 15-minute binaries.
var equivalentSources = map[[2]string]bool{
	{"cf", "chainlink"}:       true,
	{"cf", "pyth"}:            true,
	{"coinbase", "chainlink"}: true,
	{"coinbase", "pyth"}:      true,
	{"binance", "chainlink"}:  true,
	{"binance", "pyth"}:       true,
}

// titleStopwords are dropped when scanning a title for an asset token.
var titleStopwords = map[string]bool{
	"will": true, "the": true, "be": true, "at": true, "or": true,
	"up": true, "down": true, "above": true, "below": true, "price": true,
	"usd": true, "by": true, "in": true, "on": true, "to": true,
	"et": true, "edt": true, "est": true, "pm": true, "am": true,
}

// fifteenMinuteMarkers are title fragments signalling a 15-minute cadence
// market on either venue.
var fifteenMinuteMarkers = []string{
	"15 min", "15-min", "15min", "15 minute", "15-minute", "up or down",
}

// assetFromTitle extracts the canonical asset tag from a market title, or ""
// when no alias token is present. Punctuation is stripped and stopwords are
// skipped before lookup.
func assetFromTitle(title string) string {
	for _, tok := range titleTokens(title) {
		if titleStopwords[tok] {
			continue
		}
		if canon, ok := assetAliases[tok]; ok {
			return canon
		}
	}
	return ""
}

// titleTokens lower-cases the title, strips punctuation, and splits on
// whitespace.
func titleTokens(title string) []string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// sourceClass returns the equivalence class for a resolution source label,
// falling back to the normalized label itself so unknown-but-identical
// sources still match each other.
func sourceClass(source string) string {
	norm := strings.ToLower(strings.TrimSpace(source))
	if class, ok := sourceClasses[norm]; ok {
		return class
	}
	return norm
}

// sourcesEquivalent reports whether two resolution sources belong to the same
// pre-validated equivalence class.
func sourcesEquivalent(a, b string) bool {
	ca, cb := sourceClass(a), sourceClass(b)
	if ca == cb && ca != "" {
		return true
	}
	return equivalentSources[[2]string{ca, cb}] || equivalentSources[[2]string{cb, ca}]
}

// isFifteenMinute reports whether the title carries a 15-minute cadence
// marker.
func isFifteenMinute(title string) bool {
	lower := strings.ToLower(title)
	for _, m := range fifteenMinuteMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
