package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"xledger/internal/application/port"
	"xledger/internal/infrastructure/storage/sqlstore"
)

// Repo is the server ledger backend. Decimals live in NUMERIC columns and
// Mutate takes a row lock with SELECT ... FOR UPDATE.
type Repo struct {
	*sqlstore.Store
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{Store: sqlstore.New(db, sqlstore.Postgres), db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT COLLATE "C" PRIMARY KEY,
  account TEXT NOT NULL,
  natural_key TEXT NOT NULL,
  exchange_ref TEXT NOT NULL DEFAULT '',
  ts_ns BIGINT NOT NULL,
  pair TEXT COLLATE "C" NOT NULL,
  base TEXT NOT NULL,
  quote TEXT NOT NULL,
  type TEXT NOT NULL,
  side TEXT NOT NULL DEFAULT '',
  price NUMERIC NOT NULL,
  amount NUMERIC NOT NULL,
  amount_key TEXT COLLATE "C" NOT NULL DEFAULT '',
  total NUMERIC NOT NULL,
  fee NUMERIC NOT NULL,
  status TEXT NOT NULL,
  tags TEXT NOT NULL DEFAULT '[]',
  notes TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  UNIQUE(account, natural_key)
);
CREATE INDEX IF NOT EXISTS idx_tx_account_ts ON transactions(account, ts_ns, id);
CREATE INDEX IF NOT EXISTS idx_tx_account_pair ON transactions(account, pair, id);
CREATE INDEX IF NOT EXISTS idx_tx_account_amount ON transactions(account, amount_key, id);
CREATE INDEX IF NOT EXISTS idx_tx_status ON transactions(account, status);

CREATE TABLE IF NOT EXISTS sync_checkpoints (
  account TEXT PRIMARY KEY,
  high_water_ns BIGINT NOT NULL DEFAULT 0,
  cursor TEXT NOT NULL DEFAULT '',
  cursor_since_ns BIGINT NOT NULL DEFAULT 0,
  updated_at BIGINT NOT NULL
);
`)
	return err
}

var _ port.Ledger = (*Repo)(nil)
