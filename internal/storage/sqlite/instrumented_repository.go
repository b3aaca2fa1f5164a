package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/qget/internal/storage"
	"github.com/italolelis/qget/internal/telemetry"
)

// InstrumentedTransferRepository wraps TransferRepository with telemetry.
type InstrumentedTransferRepository struct {
	repo      *TransferRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedTransferRepository creates a new instrumented transfer repository.
func NewInstrumentedTransferRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedTransferRepository {
	return &InstrumentedTransferRepository{
		repo:      NewTransferRepository(dbConn),
		telemetry: tel,
	}
}

// RecordTransfer records a transfer with telemetry.
func (r *InstrumentedTransferRepository) RecordTransfer(ctx context.Context, rec storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_transfer", func(ctx context.Context) error {
		return r.repo.RecordTransfer(ctx, rec)
	})
}

// MarkPruned marks a transfer pruned with telemetry.
func (r *InstrumentedTransferRepository) MarkPruned(ctx context.Context, id string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_pruned", func(ctx context.Context) error {
		return r.repo.MarkPruned(ctx, id)
	})
}

// GetTransfers lists transfers with telemetry.
func (r *InstrumentedTransferRepository) GetTransfers(ctx context.Context, limit int) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_transfers", func(ctx context.Context) error {
		result, err = r.repo.GetTransfers(ctx, limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetTransfer retrieves one transfer with telemetry.
func (r *InstrumentedTransferRepository) GetTransfer(ctx context.Context, id string) (storage.TransferRecord, error) {
	var result storage.TransferRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_transfer", func(ctx context.Context) error {
		result, err = r.repo.GetTransfer(ctx, id)

		return err
	})

	return result, instrumentedErr
}

// GetPrunableTransfers lists prunable transfers with telemetry.
func (r *InstrumentedTransferRepository) GetPrunableTransfers(ctx context.Context, before time.Time) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_prunable_transfers", func(ctx context.Context) error {
		result, err = r.repo.GetPrunableTransfers(ctx, before)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
