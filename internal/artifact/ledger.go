package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"
)

// ledger records when each entry was installed and last used. Markers stay
// the source of truth for existence; the ledger only orders entries for
// pruning and listing.
type ledger struct {
	db *sql.DB
}

// usage is one ledger row.
type usage struct {
	InstalledAt time.Time
	LastUsed    time.Time
	Uses        int64
}

const ledgerSchema = `CREATE TABLE IF NOT EXISTS artifacts (
	key          TEXT PRIMARY KEY,
	version      TEXT NOT NULL,
	installed_at INTEGER NOT NULL,
	last_used    INTEGER NOT NULL,
	uses         INTEGER NOT NULL DEFAULT 0
)`

// openLedger opens or creates the ledger database. Several processes share
// it, so writes wait on the busy timeout instead of failing.
func openLedger(ctx context.Context, path string) (*ledger, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &ledger{db: db}, nil
}

func (l *ledger) close() error {
	return l.db.Close()
}

// record upserts an entry at commit time.
func (l *ledger) record(ctx context.Context, m Marker) error {
	now := m.InstalledAt.UnixNano()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO artifacts (key, version, installed_at, last_used, uses)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			installed_at = excluded.installed_at,
			last_used = excluded.last_used`,
		m.Key, m.Version, now, now)
	if err != nil {
		return fmt.Errorf("ledger record %s: %w", m.Key, err)
	}
	return nil
}

// touch marks key as used at t. Keys missing from the ledger, such as
// entries written by an older cache, are inserted.
func (l *ledger) touch(ctx context.Context, key, version string, t time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO artifacts (key, version, installed_at, last_used, uses)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET
			last_used = excluded.last_used,
			uses = uses + 1`,
		key, version, t.UnixNano(), t.UnixNano())
	if err != nil {
		return fmt.Errorf("ledger touch %s: %w", key, err)
	}
	return nil
}

func (l *ledger) remove(ctx context.Context, key string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("ledger remove %s: %w", key, err)
	}
	return nil
}

func (l *ledger) all(ctx context.Context) (map[string]usage, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT key, installed_at, last_used, uses FROM artifacts`)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]usage)
	for rows.Next() {
		var (
			key                 string
			installed, lastUsed int64
			uses                int64
		)
		if err := rows.Scan(&key, &installed, &lastUsed, &uses); err != nil {
			return nil, fmt.Errorf("ledger scan: %w", err)
		}
		out[key] = usage{
			InstalledAt: time.Unix(0, installed),
			LastUsed:    time.Unix(0, lastUsed),
			Uses:        uses,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger rows: %w", err)
	}
	return out, nil
}
