package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a transfer record does not exist.
var ErrNotFound = errors.New("transfer record not found")

const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusPruned   = "pruned"
)

// TransferRecord represents a journaled transfer.
type TransferRecord struct {
	ID       string
	Method   string
	URL      string
	FinalURL string
	// OutputDir is the absolute directory OutputFile was written to.
	OutputDir  string
	OutputFile string
	Status     string
	HTTPStatus int
	Redirects  int
	Bytes      int64
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	InstanceID string
}

type TransferReadRepository interface {
	GetTransfers(ctx context.Context, limit int) ([]TransferRecord, error)
	GetTransfer(ctx context.Context, id string) (TransferRecord, error)
	// GetPrunableTransfers returns finished or failed transfers that left an
	// output file and finished before the given time.
	GetPrunableTransfers(ctx context.Context, before time.Time) ([]TransferRecord, error)
}

type TransferWriteRepository interface {
	RecordTransfer(ctx context.Context, record TransferRecord) error
	MarkPruned(ctx context.Context, id string) error
}

type TransferRepository interface {
	TransferReadRepository
	TransferWriteRepository
}
