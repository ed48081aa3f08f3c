package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"xledger/internal/domain/model"
)

// RawRecord is one activity entry in the exchange's native shape.
type RawRecord = map[string]any

// Normalizer maps raw exchange entries onto model.Transaction. It is pure:
// no store access, no network, no clock.
type Normalizer struct {
	quote string
}

// NewNormalizer binds the account's declared quote currency, used for
// asset-only entries and to split separator-less pairs.
func NewNormalizer(quote string) *Normalizer {
	return &Normalizer{quote: CanonicalAsset(quote)}
}

func (n *Normalizer) Quote() string { return n.quote }

// Normalize returns a Transaction with status new and no id. Errors wrap
// model.ErrMalformedRecord or model.ErrUnsupportedRecordType.
func (n *Normalizer) Normalize(raw RawRecord) (model.Transaction, error) {
	var tx model.Transaction

	rawType := strings.ToLower(strings.TrimSpace(str(raw, "type", "kind")))
	if rawType == "" {
		return tx, fmt.Errorf("%w: missing type", model.ErrMalformedRecord)
	}

	ts, err := parseTime(raw, "timestamp", "time", "ts")
	if err != nil {
		return tx, err
	}

	amount, err := decimalField(raw, "amount", "vol")
	if err != nil {
		return tx, err
	}
	price, err := decimalField(raw, "price")
	if err != nil {
		return tx, err
	}
	total, err := decimalField(raw, "total", "cost")
	if err != nil {
		return tx, err
	}
	fee, err := decimalField(raw, "fee")
	if err != nil {
		return tx, err
	}

	txType, err := n.classify(rawType, raw, amount)
	if err != nil {
		return tx, err
	}

	base, quote, err := n.instrument(txType, rawType, raw)
	if err != nil {
		return tx, err
	}

	tx = model.Transaction{
		ExchangeRef: strings.TrimSpace(str(raw, "exchangeRef", "txid", "refid")),
		Timestamp:   ts,
		Pair:        DisplayPair(base, quote),
		Base:        base,
		Quote:       quote,
		Type:        txType,
		Side:        strings.ToLower(strings.TrimSpace(str(raw, "positionSide"))),
		Price:       price,
		Amount:      amount.Abs(),
		Total:       total.Abs(),
		Fee:         fee.Abs(),
		Status:      model.StatusNew,
		Tags:        model.NormalizeTags(tags(raw["tags"])),
		Notes:       strings.TrimSpace(str(raw, "notes")),
	}
	tx.NaturalKey = NaturalKey(&tx)
	return tx, nil
}

func (n *Normalizer) classify(rawType string, raw RawRecord, amount decimal.Decimal) (model.TxType, error) {
	switch rawType {
	case "buy":
		return model.TxBuy, nil
	case "sell":
		return model.TxSell, nil
	case "trade":
		switch strings.ToLower(strings.TrimSpace(str(raw, "direction", "side"))) {
		case "buy", "b":
			return model.TxBuy, nil
		case "sell", "s":
			return model.TxSell, nil
		}
		if amount.IsNegative() {
			return model.TxSell, nil
		}
		return model.TxBuy, nil
	case "deposit":
		return model.TxDeposit, nil
	case "withdrawal", "withdraw":
		return model.TxWithdrawal, nil
	case "staking", "reward", "earn", "dividend":
		return model.TxStaking, nil
	case "fee", "rollover", "margin fee":
		return model.TxFee, nil
	}
	if amount.IsZero() && hasAdjustmentMarker(rawType, raw) {
		return model.TxFee, nil
	}
	return "", fmt.Errorf("%w: %q", model.ErrUnsupportedRecordType, rawType)
}

// instrument resolves base and quote. Trades must carry a pair; other entries
// may carry a pair or just an asset, which is quoted in the account currency.
func (n *Normalizer) instrument(t model.TxType, rawType string, raw RawRecord) (string, string, error) {
	if pair := str(raw, "pair", "symbol"); strings.TrimSpace(pair) != "" {
		base, quote, ok := SplitPair(pair, n.quote)
		if !ok {
			return "", "", fmt.Errorf("%w: unparsable pair %q", model.ErrMalformedRecord, pair)
		}
		return base, quote, nil
	}
	if t == model.TxBuy || t == model.TxSell {
		return "", "", fmt.Errorf("%w: %s entry missing pair", model.ErrMalformedRecord, rawType)
	}
	asset := CanonicalAsset(str(raw, "asset", "currency", "base"))
	if asset == "" {
		return "", "", fmt.Errorf("%w: %s entry missing asset", model.ErrMalformedRecord, rawType)
	}
	quote := n.quote
	if q := CanonicalAsset(str(raw, "quote")); q != "" {
		quote = q
	}
	return asset, quote, nil
}

func hasAdjustmentMarker(rawType string, raw RawRecord) bool {
	if rawType == "adjustment" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(str(raw, "subtype")), "adjustment") {
		return true
	}
	switch v := raw["adjustment"].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// str returns the first present key rendered as a string.
func str(raw RawRecord, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case string:
			return x
		case json.Number:
			return x.String()
		case fmt.Stringer:
			return x.String()
		default:
			return fmt.Sprint(x)
		}
	}
	return ""
}

// decimalField parses the first present key; absent or empty means zero.
func decimalField(raw RawRecord, keys ...string) (decimal.Decimal, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		d, err := toDecimal(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: field %s: %v", model.ErrMalformedRecord, k, err)
		}
		return d, nil
	}
	return decimal.Zero, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, fmt.Errorf("not a finite number")
		}
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
}

// parseTime accepts RFC3339 strings, time.Time, and epoch seconds given as
// integers, floats, or decimal strings (Kraken reports "1688669346.1234").
func parseTime(raw RawRecord, keys ...string) (time.Time, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC(), nil
			}
		}
		secs, err := toDecimal(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: field %s: %v", model.ErrMalformedRecord, k, err)
		}
		nanos := secs.Shift(9).Truncate(0).IntPart()
		return time.Unix(0, nanos).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: missing timestamp", model.ErrMalformedRecord)
}

func tags(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		return strings.Split(x, "|")
	}
	return nil
}
