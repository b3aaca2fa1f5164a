package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is the journal file used when none is configured.
const DefaultPath = "qget.db"

// InitDB opens the SQLite journal at path and creates the transfers table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	// the journal is written from several transfer goroutines
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		final_url TEXT,
		output_dir TEXT,
		output_file TEXT,
		status TEXT NOT NULL,
		http_status INTEGER,
		redirects INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT,
		finished_at TEXT,
		instance_id TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create transfers table: %w", err)
	}

	if err := ensureColumn(db, "transfers", "output_dir", "TEXT"); err != nil {
		db.Close()

		return nil, err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transfers_finished_at ON transfers (finished_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create transfers index: %w", err)
	}

	return db, nil
}

// ensureColumn adds column to journals created before it existed.
func ensureColumn(db *sql.DB, table, column, typ string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}

		if name == column {
			return nil
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}

	rows.Close()

	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, typ)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}

	return nil
}
