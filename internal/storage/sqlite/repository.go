package sqlite

import (
	"database/sql"
	"time"
)

// timeLayout keeps timestamps lexically ordered so they can be compared in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// TransferRepository implements storage.TransferRepository on SQLite.
type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(dbConn *sql.DB) *TransferRepository {
	return &TransferRepository{db: dbConn}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}

	return time.Parse(timeLayout, s.String)
}
