package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"xledger/internal/application/service"
)

func parseTimeFlag(name, v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("bad --%s %q: want RFC 3339 or YYYY-MM-DD", name, v)
}

// filterFlags are the ledger filters shared by query and export.
type filterFlags struct {
	from, to           string
	pair, txType       string
	status, q, sortKey string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.from, "from", "", "inclusive lower bound (RFC 3339 or YYYY-MM-DD)")
	fl.StringVar(&f.to, "to", "", "exclusive upper bound (RFC 3339 or YYYY-MM-DD)")
	fl.StringVar(&f.pair, "pair", "", "instrument, e.g. BTC/EUR")
	fl.StringVar(&f.txType, "type", "", "buy|sell|deposit|withdrawal|staking|fee")
	fl.StringVar(&f.status, "status", "", "new|pending|reconciled|error")
	fl.StringVar(&f.q, "q", "", "free-text match on reference, notes and assets")
	fl.StringVar(&f.sortKey, "sort", "", "timestamp|pair|amount, optional :asc or :desc")
}

func (f *filterFlags) request() (service.QueryRequest, error) {
	req := service.QueryRequest{
		Pair:   f.pair,
		Type:   f.txType,
		Status: f.status,
		Q:      f.q,
		Sort:   f.sortKey,
	}
	var err error
	if req.From, err = parseTimeFlag("from", f.from); err != nil {
		return req, err
	}
	if req.To, err = parseTimeFlag("to", f.to); err != nil {
		return req, err
	}
	return req, nil
}
