package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"xledger/internal/domain/model"
)

const (
	refKeyPrefix       = "ref:"
	syntheticKeyPrefix = "syn:"
)

// NaturalKey is the dedup identity of t within its account: the exchange
// reference when present, otherwise a digest of timestamp, pair, type and
// amount. Decimal values are rendered without trailing zeros so 1.50 and 1.5
// hash identically.
func NaturalKey(t *model.Transaction) string {
	if ref := strings.TrimSpace(t.ExchangeRef); ref != "" {
		return refKeyPrefix + ref
	}
	var b strings.Builder
	b.WriteString(strconv.FormatInt(t.Timestamp.UnixNano(), 10))
	b.WriteByte('|')
	b.WriteString(t.Pair)
	b.WriteByte('|')
	b.WriteString(string(t.Type))
	b.WriteByte('|')
	b.WriteString(t.Amount.Abs().String())
	sum := sha256.Sum256([]byte(b.String()))
	return syntheticKeyPrefix + hex.EncodeToString(sum[:])
}

// IsSyntheticKey reports whether key was derived by NaturalKey's fallback.
func IsSyntheticKey(key string) bool {
	return strings.HasPrefix(key, syntheticKeyPrefix)
}
