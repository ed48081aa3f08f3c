package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
	"xledger/internal/infrastructure/idgen"
)

const txColumns = `id, account, natural_key, exchange_ref, ts_ns, pair, base, quote, type, side,
price, amount, total, fee, status, tags, notes, created_at, updated_at`

// Store implements port.Ledger on database/sql. The sqlite and postgres
// packages open the connection, run their schema and wrap a Store.
type Store struct {
	db  *sql.DB
	d   Dialect
	now func() time.Time
}

func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTx(r rowScanner) (*model.Transaction, error) {
	var (
		t                    model.Transaction
		tsNs, created, upd   int64
		typ, status, tagsRaw string
	)
	err := r.Scan(&t.ID, &t.Account, &t.NaturalKey, &t.ExchangeRef, &tsNs, &t.Pair, &t.Base, &t.Quote,
		&typ, &t.Side, &t.Price, &t.Amount, &t.Total, &t.Fee, &status, &tagsRaw, &t.Notes, &created, &upd)
	if err != nil {
		return nil, err
	}
	t.Timestamp = time.Unix(0, tsNs).UTC()
	t.Type = model.TxType(typ)
	t.Status = model.Status(status)
	t.CreatedAt = time.UnixMilli(created).UTC()
	t.UpdatedAt = time.UnixMilli(upd).UTC()
	if tagsRaw != "" {
		if err := json.Unmarshal([]byte(tagsRaw), &t.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", t.ID, err)
		}
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return &t, nil
}

func encodeTags(tags []string) string {
	b, _ := json.Marshal(model.NormalizeTags(tags))
	return string(b)
}

func (s *Store) queryOne(ctx context.Context, q sqlQuerier, query string, args ...any) (*model.Transaction, error) {
	t, err := scanTx(q.QueryRowContext(ctx, s.d.Rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return t, err
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) Get(ctx context.Context, account, id string) (*model.Transaction, error) {
	return s.queryOne(ctx, s.db, `SELECT `+txColumns+` FROM transactions WHERE account = ? AND id = ?`, account, id)
}

func (s *Store) FindByNaturalKey(ctx context.Context, account, key string) (*model.Transaction, error) {
	return s.queryOne(ctx, s.db, `SELECT `+txColumns+` FROM transactions WHERE account = ? AND natural_key = ?`, account, key)
}

func (s *Store) Insert(ctx context.Context, tx *model.Transaction) error {
	if tx.ID == "" {
		tx.ID = idgen.New()
	}
	now := s.now()
	tx.CreatedAt, tx.UpdatedAt = now, now
	tx.Tags = model.NormalizeTags(tx.Tags)

	res, err := s.db.ExecContext(ctx, s.d.Rebind(`
		INSERT INTO transactions(`+txColumns+`, amount_key)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, natural_key) DO NOTHING`),
		tx.ID, tx.Account, tx.NaturalKey, tx.ExchangeRef, tx.Timestamp.UnixNano(), tx.Pair, tx.Base, tx.Quote,
		string(tx.Type), tx.Side, tx.Price, tx.Amount, tx.Total, tx.Fee, string(tx.Status), encodeTags(tx.Tags),
		tx.Notes, now.UnixMilli(), now.UnixMilli(), AmountKey(tx.Amount))
	if err != nil {
		return fmt.Errorf("insert %s: %w", tx.NaturalKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrDuplicateKey
	}
	return nil
}

func (s *Store) Mutate(ctx context.Context, account, id string, fn port.MutateFunc) (*model.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.queryOne(ctx, tx, `SELECT `+txColumns+` FROM transactions WHERE account = ? AND id = ?`+s.d.LockSuffix, account, id)
	if err != nil {
		return nil, err
	}
	work := cur.Clone()
	changed, err := fn(&work)
	if err != nil {
		return nil, err
	}
	if !changed {
		return cur, tx.Commit()
	}
	work.ID, work.Account, work.NaturalKey, work.CreatedAt = cur.ID, cur.Account, cur.NaturalKey, cur.CreatedAt
	work.Tags = model.NormalizeTags(work.Tags)
	work.UpdatedAt = s.now()

	_, err = tx.ExecContext(ctx, s.d.Rebind(`
		UPDATE transactions SET exchange_ref = ?, ts_ns = ?, pair = ?, base = ?, quote = ?, type = ?, side = ?,
		price = ?, amount = ?, amount_key = ?, total = ?, fee = ?, status = ?, tags = ?, notes = ?, updated_at = ?
		WHERE id = ?`),
		work.ExchangeRef, work.Timestamp.UnixNano(), work.Pair, work.Base, work.Quote, string(work.Type), work.Side,
		work.Price, work.Amount, AmountKey(work.Amount), work.Total, work.Fee, string(work.Status), encodeTags(work.Tags),
		work.Notes, work.UpdatedAt.UnixMilli(), work.ID)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &work, nil
}

func (s *Store) Delete(ctx context.Context, account, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.d.Rebind(`DELETE FROM transactions WHERE account = ? AND id = ?`), account, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Query reads the page and the metrics inside one transaction so both see
// the same snapshot.
func (s *Store) Query(ctx context.Context, q model.Query) (*model.Page, error) {
	where, args := s.whereClause(q.Filter)

	tx, err := s.db.BeginTx(ctx, s.d.ReadTx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	page := &model.Page{}
	if page.Metrics, err = s.metrics(ctx, tx, where, args); err != nil {
		return nil, err
	}

	sortExpr := s.sortExpr(q.Sort)
	dir, cmp := "ASC", ">"
	if q.Desc {
		dir, cmp = "DESC", "<"
	}
	pageWhere := where
	pageArgs := append([]any(nil), args...)
	if q.After != nil {
		val, err := s.positionArg(q.Sort, q.After.Value)
		if err != nil {
			return nil, err
		}
		pageWhere += fmt.Sprintf(" AND (%s %s ? OR (%s = ? AND id %s ?))", sortExpr, cmp, sortExpr, cmp)
		pageArgs = append(pageArgs, val, val, q.After.ID)
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY %s %s, id %s LIMIT %d`,
		txColumns, pageWhere, sortExpr, dir, dir, q.Limit+1)
	rows, err := tx.QueryContext(ctx, s.d.Rebind(query), pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("query page: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		if len(page.Items) == q.Limit {
			page.HasMore = true
			break
		}
		page.Items = append(page.Items, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()
	return page, tx.Commit()
}

func (s *Store) metrics(ctx context.Context, tx *sql.Tx, where string, args []any) (model.Metrics, error) {
	var m model.Metrics
	rows, err := tx.QueryContext(ctx, s.d.Rebind(`SELECT type, total, fee FROM transactions WHERE `+where), args...)
	if err != nil {
		return m, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var total, fee decimal.Decimal
		if err := rows.Scan(&typ, &total, &fee); err != nil {
			return m, err
		}
		m.Accumulate(model.TxType(typ), total, fee)
	}
	return m, rows.Err()
}

func (s *Store) whereClause(f model.Filter) (string, []any) {
	conds := []string{"account = ?"}
	args := []any{f.Account}
	if f.From != nil {
		conds = append(conds, "ts_ns >= ?")
		args = append(args, f.From.UnixNano())
	}
	if f.To != nil {
		conds = append(conds, "ts_ns < ?")
		args = append(args, f.To.UnixNano())
	}
	if f.Pair != "" {
		conds = append(conds, "pair = ?")
		args = append(args, strings.ToUpper(f.Pair))
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if q := strings.TrimSpace(f.Q); q != "" {
		like := "%" + escapeLike(strings.ToLower(q)) + "%"
		conds = append(conds, `(LOWER(exchange_ref) LIKE ? ESCAPE '\' OR LOWER(notes) LIKE ? ESCAPE '\'`+
			` OR LOWER(base) LIKE ? ESCAPE '\' OR LOWER(quote) LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like, like)
	}
	return strings.Join(conds, " AND "), args
}

func (s *Store) sortExpr(k model.SortKey) string {
	switch k {
	case model.SortPair:
		return "pair"
	case model.SortAmount:
		return "amount_key"
	default:
		return "ts_ns"
	}
}

func (s *Store) positionArg(k model.SortKey, v string) (any, error) {
	switch k {
	case model.SortTimestamp:
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, model.ErrInvalidCursor
		}
		return ns, nil
	case model.SortAmount:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, model.ErrInvalidCursor
		}
		return AmountKey(d), nil
	}
	return v, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) LoadCheckpoint(ctx context.Context, account string) (model.Checkpoint, error) {
	cp := model.Checkpoint{Account: account}
	var hw, cursorSince, upd int64
	err := s.db.QueryRowContext(ctx, s.d.Rebind(
		`SELECT high_water_ns, cursor, cursor_since_ns, updated_at FROM sync_checkpoints WHERE account = ?`), account).
		Scan(&hw, &cp.Cursor, &cursorSince, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return cp, err
	}
	if hw > 0 {
		cp.HighWater = time.Unix(0, hw).UTC()
	}
	if cursorSince > 0 {
		cp.CursorAt = time.Unix(0, cursorSince).UTC()
	}
	cp.UpdatedAt = time.UnixMilli(upd).UTC()
	return cp, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	var hw, cursorSince int64
	if !cp.HighWater.IsZero() {
		hw = cp.HighWater.UnixNano()
	}
	if !cp.CursorAt.IsZero() {
		cursorSince = cp.CursorAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, s.d.Rebind(`
		INSERT INTO sync_checkpoints(account, high_water_ns, cursor, cursor_since_ns, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
		high_water_ns = excluded.high_water_ns, cursor = excluded.cursor,
		cursor_since_ns = excluded.cursor_since_ns, updated_at = excluded.updated_at`),
		cp.Account, hw, cp.Cursor, cursorSince, s.now().UnixMilli())
	return err
}

var _ port.Ledger = (*Store)(nil)
