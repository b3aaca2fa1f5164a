package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/qget/internal/storage"
	"github.com/italolelis/qget/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func record(id, status, file string, finished time.Time) storage.TransferRecord {
	return storage.TransferRecord{
		ID:         id,
		Method:     "GET",
		URL:        "http://example.com/" + file,
		FinalURL:   "http://mirror.example.com/" + file,
		OutputDir:  "/downloads",
		OutputFile: file,
		Status:     status,
		HTTPStatus: 200,
		Redirects:  1,
		Bytes:      42,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
	}
}

func TestInitDB_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

func TestInitDB_AddsOutputDirToOldJournal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	old, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE transfers (
		id TEXT PRIMARY KEY,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		final_url TEXT,
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
	require.NoError(t, err)
	_, err = old.Exec(`INSERT INTO transfers (id, method, url, output_file, status, finished_at)
		VALUES ('legacy', 'GET', 'http://example.com/a', 'a', 'finished', '2026-01-01T00:00:00.000000000Z')`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	db, err := InitDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewTransferRepository(db)

	got, err := repo.GetTransfer(ctx, "legacy")
	require.NoError(t, err)
	assert.Empty(t, got.OutputDir)

	now := time.Now().UTC()
	require.NoError(t, repo.RecordTransfer(ctx, record("t1", storage.StatusFinished, "b", now)))

	got, err = repo.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "/downloads", got.OutputDir)
}

func TestTransferRepository_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewTransferRepository(newTestDB(t))

	now := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	rec := record("t1", storage.StatusFinished, "a.bin", now)

	require.NoError(t, repo.RecordTransfer(ctx, rec))

	got, err := repo.GetTransfer(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, rec.URL, got.URL)
	assert.Equal(t, rec.FinalURL, got.FinalURL)
	assert.Equal(t, "/downloads", got.OutputDir)
	assert.Equal(t, rec.OutputFile, got.OutputFile)
	assert.Equal(t, 200, got.HTTPStatus)
	assert.Equal(t, int64(42), got.Bytes)
	assert.True(t, now.Equal(got.FinishedAt))
	assert.Equal(t, storage.InstanceID(), got.InstanceID)

	// recording the same id again updates it
	rec.Status = storage.StatusFailed
	rec.Error = "boom"
	require.NoError(t, repo.RecordTransfer(ctx, rec))

	got, err = repo.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	_, err = repo.GetTransfer(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransferRepository_GetTransfersOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewTransferRepository(newTestDB(t))

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.RecordTransfer(ctx, record(id, storage.StatusFinished, id, base.Add(time.Duration(i)*time.Hour))))
	}

	all, err := repo.GetTransfers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := repo.GetTransfers(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTransferRepository_Prunable(t *testing.T) {
	ctx := context.Background()
	repo := NewTransferRepository(newTestDB(t))

	cutoff := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordTransfer(ctx, record("expired", storage.StatusFinished, "old.bin", cutoff.Add(-48*time.Hour))))
	require.NoError(t, repo.RecordTransfer(ctx, record("fresh", storage.StatusFinished, "new.bin", cutoff.Add(time.Hour))))
	require.NoError(t, repo.RecordTransfer(ctx, record("failed", storage.StatusFailed, "bad.bin", cutoff.Add(-24*time.Hour))))
	require.NoError(t, repo.RecordTransfer(ctx, record("upload", storage.StatusFinished, "", cutoff.Add(-48*time.Hour))))

	prunable, err := repo.GetPrunableTransfers(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, prunable, 2)
	assert.Equal(t, "expired", prunable[0].ID)
	assert.Equal(t, "failed", prunable[1].ID)
	assert.Equal(t, "/downloads", prunable[1].OutputDir)

	require.NoError(t, repo.MarkPruned(ctx, "expired"))
	require.NoError(t, repo.MarkPruned(ctx, "failed"))

	prunable, err = repo.GetPrunableTransfers(ctx, cutoff)
	require.NoError(t, err)
	assert.Empty(t, prunable)

	assert.ErrorIs(t, repo.MarkPruned(ctx, "missing"), storage.ErrNotFound)
}

func TestInstrumentedTransferRepository(t *testing.T) {
	ctx := context.Background()

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: false})
	require.NoError(t, err)

	var repo storage.TransferRepository = NewInstrumentedTransferRepository(newTestDB(t), tel)

	now := time.Now()
	require.NoError(t, repo.RecordTransfer(ctx, record("t1", storage.StatusFinished, "a", now.Add(-time.Hour))))

	got, err := repo.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.OutputFile)

	all, err := repo.GetTransfers(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	prunable, err := repo.GetPrunableTransfers(ctx, now)
	require.NoError(t, err)
	assert.Len(t, prunable, 1)

	require.NoError(t, repo.MarkPruned(ctx, "t1"))

	_, err = repo.GetTransfer(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
