package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"xledger/internal/application/port"
	"xledger/internal/infrastructure/storage/sqlstore"
)

// Repo is the embedded ledger backend.
type Repo struct {
	*sqlstore.Store
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection serializes writers, which makes Mutate's
	// read-modify-write atomic without row locks
	db.SetMaxOpenConns(1)

	r := &Repo{Store: sqlstore.New(db, sqlstore.SQLite), db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  account TEXT NOT NULL,
  natural_key TEXT NOT NULL,
  exchange_ref TEXT NOT NULL DEFAULT '',
  ts_ns INTEGER NOT NULL,
  pair TEXT NOT NULL,
  base TEXT NOT NULL,
  quote TEXT NOT NULL,
  type TEXT NOT NULL,
  side TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL,
  amount TEXT NOT NULL,
  amount_key TEXT NOT NULL DEFAULT '',
  total TEXT NOT NULL,
  fee TEXT NOT NULL,
  status TEXT NOT NULL,
  tags TEXT NOT NULL DEFAULT '[]',
  notes TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE(account, natural_key)
);
CREATE INDEX IF NOT EXISTS idx_tx_account_ts ON transactions(account, ts_ns, id);
CREATE INDEX IF NOT EXISTS idx_tx_account_pair ON transactions(account, pair, id);
CREATE INDEX IF NOT EXISTS idx_tx_account_amount ON transactions(account, amount_key, id);
CREATE INDEX IF NOT EXISTS idx_tx_status ON transactions(account, status);

CREATE TABLE IF NOT EXISTS sync_checkpoints (
  account TEXT PRIMARY KEY,
  high_water_ns INTEGER NOT NULL DEFAULT 0,
  cursor TEXT NOT NULL DEFAULT '',
  cursor_since_ns INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);
`)
	return err
}

var _ port.Ledger = (*Repo)(nil)
