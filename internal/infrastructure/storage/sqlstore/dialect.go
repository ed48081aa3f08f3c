package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"
)

// Dialect captures the few places where sqlite and postgres SQL differ.
// Queries are written with ? placeholders and rebound per dialect.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of ?.
	Numbered bool
	// LockSuffix is appended to the SELECT that precedes a read-modify-write.
	LockSuffix string
	// ReadTx are the options for snapshot reads.
	ReadTx *sql.TxOptions
}

var SQLite = Dialect{
	Name: "sqlite",
}

var Postgres = Dialect{
	Name:       "postgres",
	Numbered:   true,
	LockSuffix: " FOR UPDATE",
	ReadTx:     &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
}

// Rebind rewrites ? placeholders for dialects that number them. Question
// marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(q string) string {
	if !d.Numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
