package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bqupload/state"
)

// Reload repeats the load job of the last staged file with a new bad record tolerance. Every other
// parameter comes from the stored record, which is left unchanged. The staged object must still exist.
func (p *Pipeline) Reload(ctx context.Context, maxBadRecords int) error {
	record, err := p.Store.Get()
	if errors.Is(err, state.ErrNotFound) {
		return usageError("reload", err, "Run a normal upload first, a reload only repeats its load step.")
	}
	if err != nil {
		return fmt.Errorf("failed to read the last upload: %w", err)
	}

	record.Settings.MaxBadRecords = maxBadRecords
	log.Info("Attempting to reload the last staged file", zap.String("run", record.RunID),
		zap.String("key", record.UploadName), zap.Int("max_bad_records", maxBadRecords))

	if err := p.Warehouse.EnsureDataset(ctx, record.Settings.Dataset); err != nil {
		return externalError("prepare dataset "+record.Settings.Dataset, err, "Check your access to the project.")
	}
	return p.load(ctx, record)
}
