package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SortKey is the closed set of orderings the ledger supports.
type SortKey string

const (
	SortTimestamp SortKey = "timestamp"
	SortPair      SortKey = "pair"
	SortAmount    SortKey = "amount"
)

// ParseSort accepts "key", "key:dir", "-key" and the short alias "ts".
// Empty input yields timestamp descending.
func ParseSort(s string) (SortKey, bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SortTimestamp, true, nil
	}
	desc := false
	if strings.HasPrefix(s, "-") {
		desc = true
		s = s[1:]
	}
	if k, d, ok := strings.Cut(s, ":"); ok {
		s = k
		switch d {
		case "asc":
			desc = false
		case "desc":
			desc = true
		default:
			return "", false, ErrInvalidFilter
		}
	}
	switch s {
	case "timestamp", "ts", "time":
		return SortTimestamp, desc, nil
	case "pair":
		return SortPair, desc, nil
	case "amount":
		return SortAmount, desc, nil
	}
	return "", false, ErrInvalidFilter
}

// Filter narrows the ledger; zero values mean "any".
type Filter struct {
	Account string
	From    *time.Time // inclusive
	To      *time.Time // exclusive
	Pair    string
	Type    TxType
	Status  Status
	Q       string
}

// Position is a decoded keyset cursor.
type Position struct {
	Value string
	ID    string
}

// Query is a store-level page request.
type Query struct {
	Filter Filter
	Sort   SortKey
	Desc   bool
	After  *Position
	Limit  int
}

// Metrics aggregate the full filtered set, not a page.
type Metrics struct {
	Count      int             `json:"count"`
	BuyVolume  decimal.Decimal `json:"buyVolume"`
	SellVolume decimal.Decimal `json:"sellVolume"`
	Fees       decimal.Decimal `json:"fees"`
}

// Accumulate folds one record into m.
func (m *Metrics) Accumulate(t TxType, total, fee decimal.Decimal) {
	m.Count++
	switch t {
	case TxBuy:
		m.BuyVolume = m.BuyVolume.Add(total)
	case TxSell:
		m.SellVolume = m.SellVolume.Add(total)
	}
	m.Fees = m.Fees.Add(fee)
}

// Page is what a store returns for one Query; HasMore means at least one
// record follows the last item.
type Page struct {
	Items   []Transaction
	HasMore bool
	Metrics Metrics
}

// SortValue renders the sort column of t the way cursors carry it.
func SortValue(t *Transaction, k SortKey) string {
	switch k {
	case SortPair:
		return t.Pair
	case SortAmount:
		return t.Amount.String()
	default:
		return decimal.NewFromInt(t.Timestamp.UnixNano()).String()
	}
}

// Matches applies f to t in memory with the same semantics the SQL stores use.
func (f *Filter) Matches(t *Transaction) bool {
	if f.Account != "" && t.Account != f.Account {
		return false
	}
	if f.From != nil && t.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && !t.Timestamp.Before(*f.To) {
		return false
	}
	if f.Pair != "" && !strings.EqualFold(t.Pair, f.Pair) {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Q)); q != "" {
		hay := []string{t.ExchangeRef, t.Notes, t.Base, t.Quote}
		found := false
		for _, h := range hay {
			if strings.Contains(strings.ToLower(h), q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
