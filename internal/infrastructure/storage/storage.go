package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
	"xledger/internal/infrastructure/idgen"
)

// Memory is an in-process Ledger. It backs tests and the "memory" storage
// driver; contents are lost on exit.
type Memory struct {
	mu          sync.RWMutex
	byID        map[string]*model.Transaction
	byKey       map[string]string // account|naturalKey -> id
	checkpoints map[string]model.Checkpoint
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byID:        make(map[string]*model.Transaction),
		byKey:       make(map[string]string),
		checkpoints: make(map[string]model.Checkpoint),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func keyOf(account, naturalKey string) string { return account + "|" + naturalKey }

func (m *Memory) Get(ctx context.Context, account, id string) (*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[id]
	if !ok || t.Account != account {
		return nil, model.ErrNotFound
	}
	c := t.Clone()
	return &c, nil
}

func (m *Memory) FindByNaturalKey(ctx context.Context, account, key string) (*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[keyOf(account, key)]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := m.byID[id].Clone()
	return &c, nil
}

func (m *Memory) Insert(ctx context.Context, tx *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := keyOf(tx.Account, tx.NaturalKey)
	if _, exists := m.byKey[k]; exists {
		return model.ErrDuplicateKey
	}
	if tx.ID == "" {
		tx.ID = idgen.New()
	}
	now := m.now()
	tx.CreatedAt, tx.UpdatedAt = now, now
	tx.Tags = model.NormalizeTags(tx.Tags)
	c := tx.Clone()
	m.byID[tx.ID] = &c
	m.byKey[k] = tx.ID
	return nil
}

func (m *Memory) Mutate(ctx context.Context, account, id string, fn port.MutateFunc) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok || cur.Account != account {
		return nil, model.ErrNotFound
	}
	work := cur.Clone()
	changed, err := fn(&work)
	if err != nil {
		return nil, err
	}
	if changed {
		work.ID, work.Account, work.NaturalKey = cur.ID, cur.Account, cur.NaturalKey
		work.Tags = model.NormalizeTags(work.Tags)
		work.UpdatedAt = m.now()
		m.byID[id] = &work
		cur = &work
	}
	c := cur.Clone()
	return &c, nil
}

func (m *Memory) Delete(ctx context.Context, account, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || t.Account != account {
		return false, nil
	}
	delete(m.byID, id)
	delete(m.byKey, keyOf(t.Account, t.NaturalKey))
	return true, nil
}

func (m *Memory) Query(ctx context.Context, q model.Query) (*model.Page, error) {
	var after *positionKey
	if q.After != nil {
		p, err := parsePosition(q.Sort, q.After)
		if err != nil {
			return nil, err
		}
		after = &p
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	page := &model.Page{Metrics: model.Metrics{}}
	matched := make([]*model.Transaction, 0)
	for _, t := range m.byID {
		if !q.Filter.Matches(t) {
			continue
		}
		page.Metrics.Accumulate(t.Type, t.Total, t.Fee)
		matched = append(matched, t)
	}

	sort.Slice(matched, func(i, j int) bool {
		c := compareTx(matched[i], matched[j], q.Sort)
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	for _, t := range matched {
		if after != nil {
			c := compareToPosition(t, q.Sort, *after)
			if (!q.Desc && c <= 0) || (q.Desc && c >= 0) {
				continue
			}
		}
		if len(page.Items) == q.Limit {
			page.HasMore = true
			break
		}
		page.Items = append(page.Items, t.Clone())
	}
	return page, nil
}

func (m *Memory) LoadCheckpoint(ctx context.Context, account string) (model.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[account]
	if !ok {
		return model.Checkpoint{Account: account}, nil
	}
	return cp, nil
}

func (m *Memory) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp.UpdatedAt = m.now()
	m.checkpoints[cp.Account] = cp
	return nil
}

func (m *Memory) Close() error { return nil }

// Len is the number of stored transactions across accounts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func compareTx(a, b *model.Transaction, k model.SortKey) int {
	var c int
	switch k {
	case model.SortPair:
		c = strings.Compare(a.Pair, b.Pair)
	case model.SortAmount:
		c = a.Amount.Cmp(b.Amount)
	default:
		c = a.Timestamp.Compare(b.Timestamp)
	}
	if c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// parsePosition checks the cursor value against the sort key so a tampered
// cursor fails the same way it does on the SQL stores.
func parsePosition(k model.SortKey, pos *model.Position) (positionKey, error) {
	var p positionKey
	switch k {
	case model.SortPair:
		p.str = pos.Value
	case model.SortAmount:
		v, err := decimal.NewFromString(pos.Value)
		if err != nil {
			return p, model.ErrInvalidCursor
		}
		p.amount = v
	default:
		ns, err := strconv.ParseInt(pos.Value, 10, 64)
		if err != nil {
			return p, model.ErrInvalidCursor
		}
		p.ns = ns
	}
	p.id = pos.ID
	return p, nil
}

type positionKey struct {
	str    string
	amount decimal.Decimal
	ns     int64
	id     string
}

func compareToPosition(t *model.Transaction, k model.SortKey, p positionKey) int {
	var c int
	switch k {
	case model.SortPair:
		c = strings.Compare(t.Pair, p.str)
	case model.SortAmount:
		c = t.Amount.Cmp(p.amount)
	default:
		c = compareInt64(t.Timestamp.UnixNano(), p.ns)
	}
	if c != 0 {
		return c
	}
	return strings.Compare(t.ID, p.id)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var _ port.Ledger = (*Memory)(nil)
