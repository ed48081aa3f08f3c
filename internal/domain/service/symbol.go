package service

import (
	"strings"
)

// assetAliases maps exchange-native asset codes to the display codes used in
// the ledger. Kraken prefixes legacy assets with X (crypto) or Z (fiat) and
// calls bitcoin XBT.
var assetAliases = map[string]string{
	"XBT":  "BTC",
	"XXBT": "BTC",
	"XETH": "ETH",
	"ETH2": "ETH",
	"XLTC": "LTC",
	"XXRP": "XRP",
	"XXLM": "XLM",
	"XXDG": "DOGE",
	"XDG":  "DOGE",
	"XETC": "ETC",
	"XXMR": "XMR",
	"XZEC": "ZEC",
	"XMLN": "MLN",
	"XREP": "REP",
	"ZUSD": "USD",
	"ZEUR": "EUR",
	"ZGBP": "GBP",
	"ZJPY": "JPY",
	"ZCAD": "CAD",
	"ZAUD": "AUD",
	"ZCHF": "CHF",
}

// quoteSuffixes are tried in order when a pair arrives without a separator.
// Longer and prefixed codes go first so XETHZEUR splits as XETH+ZEUR.
var quoteSuffixes = []string{
	"USDT", "USDC", "ZUSD", "ZEUR", "ZGBP", "ZJPY", "ZCAD", "ZAUD", "ZCHF",
	"XXBT", "XETH", "USD", "EUR", "GBP", "JPY", "CAD", "AUD", "CHF", "XBT", "BTC", "ETH", "DAI",
}

// CanonicalAsset converts an exchange asset code to its ledger form:
// upper case, staking suffixes (.S, .F, .M, .B) removed, aliases resolved.
func CanonicalAsset(code string) string {
	a := strings.ToUpper(strings.TrimSpace(code))
	if a == "" {
		return ""
	}
	if i := strings.IndexByte(a, '.'); i > 0 {
		a = a[:i]
	}
	if alias, ok := assetAliases[a]; ok {
		return alias
	}
	return a
}

// SplitPair decomposes a pair in any of the shapes exchanges use
// (ETH/EUR, ETH-EUR, ETH_EUR, XETHZEUR, ETHEUR) into canonical base and quote.
// hintQuote is tried first for separator-less pairs. ok is false when no
// split could be found.
func SplitPair(pair, hintQuote string) (base, quote string, ok bool) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	if p == "" {
		return "", "", false
	}
	for _, sep := range []string{"/", "-", "_"} {
		if b, q, found := strings.Cut(p, sep); found {
			b, q = CanonicalAsset(b), CanonicalAsset(q)
			if b == "" || q == "" {
				return "", "", false
			}
			return b, q, true
		}
	}

	candidates := make([]string, 0, len(quoteSuffixes)+2)
	if h := strings.ToUpper(strings.TrimSpace(hintQuote)); h != "" {
		candidates = append(candidates, "Z"+h, h)
	}
	candidates = append(candidates, quoteSuffixes...)
	for _, suffix := range candidates {
		if len(p) > len(suffix) && strings.HasSuffix(p, suffix) {
			return CanonicalAsset(p[:len(p)-len(suffix)]), CanonicalAsset(suffix), true
		}
	}
	return "", "", false
}

// DisplayPair joins canonical legs into the BASE/QUOTE display form.
func DisplayPair(base, quote string) string {
	return base + "/" + quote
}

// CanonicalPair normalizes a user-supplied pair filter; unknown shapes are
// returned upper-cased so they still match exactly.
func CanonicalPair(pair, hintQuote string) string {
	if b, q, ok := SplitPair(pair, hintQuote); ok {
		return DisplayPair(b, q)
	}
	return strings.ToUpper(strings.TrimSpace(pair))
}
