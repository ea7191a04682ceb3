// Package store persists trades, account snapshots, and log lines to a
// local sqlite database. Writes are best-effort from the trading loop's
// perspective: a failed write increments a counter and is dropped, never
// blocks the executor.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"

	"predmarket-trader/pkg/types"
)

// Store wraps a sqlite connection.
type Store struct {
	db *sql.DB

	writeErrors int64
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteErrors returns how many writes have failed since Open.
func (s *Store) WriteErrors() int64 {
	return s.writeErrors
}

func (s *Store) migrate() error {
	var version int
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS trades (
				id                 INTEGER PRIMARY KEY AUTOINCREMENT,
				position_id        TEXT NOT NULL,
				ticker             TEXT NOT NULL,
				entry_price        REAL NOT NULL,
				exit_price         REAL NOT NULL,
				size               REAL NOT NULL,
				realized_pnl       REAL NOT NULL,
				exit_reason        TEXT NOT NULL,
				entered_at         TEXT NOT NULL,
				closed_at          TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);
			CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);

			CREATE TABLE IF NOT EXISTS account_snapshots (
				id                     INTEGER PRIMARY KEY AUTOINCREMENT,
				taken_at               TEXT NOT NULL,
				current_balance        REAL NOT NULL,
				available_balance      REAL NOT NULL,
				locked_balance         REAL NOT NULL,
				total_exposure         REAL NOT NULL,
				realized_pnl           REAL NOT NULL,
				unrealized_pnl         REAL NOT NULL,
				daily_pnl              REAL NOT NULL,
				daily_trades           INTEGER NOT NULL,
				daily_wins             INTEGER NOT NULL,
				daily_losses           INTEGER NOT NULL,
				consecutive_losses     INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON account_snapshots(taken_at);

			CREATE TABLE IF NOT EXISTS logs (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				logged_at  TEXT NOT NULL,
				level      TEXT NOT NULL,
				component  TEXT NOT NULL,
				message    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_logs_logged_at ON logs(logged_at);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}

// RecordTrade inserts one closed position. Failures are counted, not
// returned to the caller, since a dropped trade record must never stall
// the trading loop.
func (s *Store) RecordTrade(pos types.Position) {
	_, err := s.db.Exec(
		`INSERT INTO trades (position_id, ticker, entry_price, exit_price, size, realized_pnl, exit_reason, entered_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID.String(), pos.Ticker,
		toFloat(pos.EntryPrice), toFloat(pos.ExitPrice), toFloat(pos.Size), toFloat(pos.RealizedPnL),
		string(pos.ExitReason), pos.EnteredAt.UTC().Format(time.RFC3339), pos.ClosedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		s.writeErrors++
	}
}

// RecordSnapshot inserts one account snapshot.
func (s *Store) RecordSnapshot(acct types.Account, takenAt time.Time) {
	_, err := s.db.Exec(
		`INSERT INTO account_snapshots (taken_at, current_balance, available_balance, locked_balance, total_exposure, realized_pnl, unrealized_pnl, daily_pnl, daily_trades, daily_wins, daily_losses, consecutive_losses)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		takenAt.UTC().Format(time.RFC3339),
		toFloat(acct.CurrentBalance), toFloat(acct.AvailableBalance), toFloat(acct.LockedBalance),
		toFloat(acct.TotalExposure), toFloat(acct.RealizedPnL), toFloat(acct.UnrealizedPnL), toFloat(acct.DailyPnL),
		acct.DailyTrades, acct.DailyWins, acct.DailyLosses, acct.ConsecutiveLosses,
	)
	if err != nil {
		s.writeErrors++
	}
}

// RecordLog inserts one structured log line, mirrored from the slog
// handler so the persisted audit trail survives process restarts.
func (s *Store) RecordLog(level, component, message string, at time.Time) {
	_, err := s.db.Exec(
		`INSERT INTO logs (logged_at, level, component, message) VALUES (?, ?, ?, ?)`,
		at.UTC().Format(time.RFC3339), level, component, message,
	)
	if err != nil {
		s.writeErrors++
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
