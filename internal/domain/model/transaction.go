package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxType is the canonical activity type.
type TxType string

const (
	TxBuy        TxType = "buy"
	TxSell       TxType = "sell"
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxStaking    TxType = "staking"
	TxFee        TxType = "fee"
)

var txTypes = []TxType{TxBuy, TxSell, TxDeposit, TxWithdrawal, TxStaking, TxFee}

func (t TxType) Valid() bool {
	for _, v := range txTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseTxType accepts the canonical names only.
func ParseTxType(s string) (TxType, bool) {
	t := TxType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Status is the lifecycle state of a stored transaction.
type Status string

const (
	StatusNew        Status = "new"
	StatusPending    Status = "pending"
	StatusReconciled Status = "reconciled"
	StatusError      Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusPending, StatusReconciled, StatusError:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Transaction is one canonical ledger entry.
type Transaction struct {
	ID          string          `json:"id"`
	Account     string          `json:"account"`
	ExchangeRef string          `json:"exchangeRef,omitempty"`
	NaturalKey  string          `json:"naturalKey"`
	Timestamp   time.Time       `json:"timestamp"`
	Pair        string          `json:"pair"`
	Base        string          `json:"base"`
	Quote       string          `json:"quote"`
	Type        TxType          `json:"type"`
	Side        string          `json:"side,omitempty"` // derivatives only
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Total       decimal.Decimal `json:"total"`
	Fee         decimal.Decimal `json:"fee"`
	Status      Status          `json:"status"`
	Tags        []string        `json:"tags"`
	Notes       string          `json:"notes"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// HasSyntheticKey reports whether the natural key was derived rather than
// assigned by the exchange.
func (t *Transaction) HasSyntheticKey() bool {
	return strings.TrimSpace(t.ExchangeRef) == ""
}

// HasTag is case-sensitive; labels are stored as given after trimming.
func (t *Transaction) HasTag(label string) bool {
	for _, tag := range t.Tags {
		if tag == label {
			return true
		}
	}
	return false
}

// AddTag returns false when the label was already present.
func (t *Transaction) AddTag(label string) bool {
	if t.HasTag(label) {
		return false
	}
	t.Tags = NormalizeTags(append(t.Tags, label))
	return true
}

func (t *Transaction) RemoveTag(label string) bool {
	out := t.Tags[:0:0]
	removed := false
	for _, tag := range t.Tags {
		if tag == label {
			removed = true
			continue
		}
		out = append(out, tag)
	}
	t.Tags = out
	return removed
}

// Clone returns a copy that shares nothing mutable with t.
func (t Transaction) Clone() Transaction {
	c := t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	return c
}

// NormalizeTags trims, drops empties, collapses duplicates and sorts.
func NormalizeTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
