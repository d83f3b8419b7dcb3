package symbols

import "strings"

// quote suffixes stripped for display, longest first.
var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "USD"}

// Display converts an exchange pair to its display symbol by stripping
// the quote-currency suffix and uppercasing.
// Examples: BTCUSDT -> BTC, ethusdt -> ETH.
func Display(pair string) string {
	sym := strings.ToUpper(strings.TrimSpace(pair))
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(sym, q) && len(sym) > len(q) {
			return strings.TrimSuffix(sym, q)
		}
	}
	return sym
}

// Stream builds the lowercase Binance stream name for a pair,
// e.g. Stream("BTCUSDT", "forceOrder") -> "btcusdt@forceOrder".
func Stream(pair, channel string) string {
	return strings.ToLower(pair) + "@" + channel
}

// Set is a membership lookup over tracked exchange pairs.
type Set map[string]struct{}

// NewSet builds a Set from a pair list, normalising to uppercase.
func NewSet(pairs ...string) Set {
	s := make(Set, len(pairs))
	for _, p := range pairs {
		s[strings.ToUpper(strings.TrimSpace(p))] = struct{}{}
	}
	return s
}

// Contains reports whether the pair is tracked.
func (s Set) Contains(pair string) bool {
	_, ok := s[strings.ToUpper(pair)]
	return ok
}
