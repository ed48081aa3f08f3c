package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
	domainservice "xledger/internal/domain/service"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// QueryRequest is the caller-facing form of a ledger query. String fields
// are parsed and validated by the service.
type QueryRequest struct {
	Cursor string
	Limit  int
	From   *time.Time
	To     *time.Time
	Pair   string
	Type   string
	Status string
	Q      string
	Sort   string
}

type QueryResult struct {
	Items      []model.Transaction `json:"items"`
	NextCursor string              `json:"nextCursor,omitempty"`
	Metrics    model.Metrics       `json:"metrics"`
}

// cursorToken is the opaque cursor payload.
type cursorToken struct {
	Sort  model.SortKey `json:"k"`
	Desc  bool          `json:"d"`
	Value string        `json:"v"`
	ID    string        `json:"i"`
}

func encodeCursor(c cursorToken) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (cursorToken, error) {
	var c cursorToken
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("%w: %v", model.ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return c, fmt.Errorf("%w: bad payload", model.ErrInvalidCursor)
	}
	return c, nil
}

// QueryService is the read façade over the ledger.
type QueryService struct {
	account      string
	quote        string
	store        port.LedgerStore
	defaultLimit int
	maxLimit     int
}

func NewQueryService(account, quote string, store port.LedgerStore, defaultLimit, maxLimit int) *QueryService {
	if maxLimit <= 0 || maxLimit > MaxPageLimit {
		maxLimit = MaxPageLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = DefaultPageLimit
	}
	return &QueryService{account: account, quote: quote, store: store, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Filter validates the filter part of req.
func (s *QueryService) Filter(req QueryRequest) (model.Filter, error) {
	f := model.Filter{Account: s.account, From: req.From, To: req.To, Q: strings.TrimSpace(req.Q)}
	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		return f, fmt.Errorf("%w: from must be before to", model.ErrInvalidFilter)
	}
	if p := strings.TrimSpace(req.Pair); p != "" {
		f.Pair = domainservice.CanonicalPair(p, s.quote)
	}
	if t := strings.TrimSpace(req.Type); t != "" {
		tt, ok := model.ParseTxType(t)
		if !ok {
			return f, fmt.Errorf("%w: unknown type %q", model.ErrInvalidFilter, t)
		}
		f.Type = tt
	}
	if st := strings.TrimSpace(req.Status); st != "" {
		ss, ok := model.ParseStatus(st)
		if !ok {
			return f, fmt.Errorf("%w: unknown status %q", model.ErrInvalidFilter, st)
		}
		f.Status = ss
	}
	return f, nil
}

// Query returns one page plus metrics over the whole filtered set. The
// cursor is a (sort value, id) position, so rows inserted after it was
// issued never shift rows already returned.
func (s *QueryService) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	f, err := s.Filter(req)
	if err != nil {
		return nil, err
	}
	key, desc, err := model.ParseSort(req.Sort)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown sort %q", model.ErrInvalidFilter, req.Sort)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	q := model.Query{Filter: f, Sort: key, Desc: desc, Limit: limit}
	if req.Cursor != "" {
		c, err := decodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		if c.Sort != key || c.Desc != desc {
			return nil, fmt.Errorf("%w: cursor was issued for a different sort", model.ErrInvalidCursor)
		}
		q.After = &model.Position{Value: c.Value, ID: c.ID}
	}

	page, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	res := &QueryResult{Items: page.Items, Metrics: page.Metrics}
	if res.Items == nil {
		res.Items = []model.Transaction{}
	}
	if page.HasMore && len(page.Items) > 0 {
		last := &page.Items[len(page.Items)-1]
		res.NextCursor = encodeCursor(cursorToken{Sort: key, Desc: desc, Value: model.SortValue(last, key), ID: last.ID})
	}
	return res, nil
}

// Get fetches one record by id.
func (s *QueryService) Get(ctx context.Context, id string) (*model.Transaction, error) {
	return s.store.Get(ctx, s.account, id)
}

// Each walks the full filtered result set in pages, ignoring req.Cursor and
// req.Limit. It stops at the first error from fn or the store.
func (s *QueryService) Each(ctx context.Context, req QueryRequest, fn func(tx *model.Transaction) error) error {
	req.Cursor = ""
	req.Limit = s.maxLimit
	for {
		res, err := s.Query(ctx, req)
		if err != nil {
			return err
		}
		for i := range res.Items {
			if err := fn(&res.Items[i]); err != nil {
				return err
			}
		}
		if res.NextCursor == "" {
			return nil
		}
		req.Cursor = res.NextCursor
	}
}
