package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"provengine/internal/domain"
	"provengine/internal/registry"
	"provengine/internal/repository"
)

// Collector surfaces the result payloads of COMPLETED units. Reads are
// pull-style: callers poll whenever they want the current crop.
type Collector struct {
	registry *registry.Registry
	units    repository.UnitRepository
	logger   *zap.Logger
}

func NewCollector(reg *registry.Registry, units repository.UnitRepository, logger *zap.Logger) (*Collector, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Collector{registry: reg, units: units, logger: logger}, nil
}

// Collect returns the results of every COMPLETED unit in the batch. While
// the batch is live the list is partial by design. Once the batch has been
// evicted from the arena the persisted rows are consulted instead; secret
// material is never written to the audit tables, so late reads carry
// usernames and contact handles only.
func (c *Collector) Collect(ctx context.Context, batchID string) ([]domain.UnitResult, error) {
	results, err := c.registry.Results(batchID)
	if err == nil {
		return results, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || c.units == nil {
		return nil, err
	}

	rows, err := c.units.ListByBatchID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	results = make([]domain.UnitResult, 0, len(rows))
	for _, row := range rows {
		if row.Stage != domain.StageCompleted {
			continue
		}

		result := domain.UnitResult{
			UnitID:  row.ID,
			BatchID: row.BatchID,
			Ordinal: row.Ordinal,
		}
		if row.Username != nil {
			result.Credentials.Username = *row.Username
		}
		if row.Email != nil {
			result.Email = *row.Email
		}
		if row.Phone != nil {
			result.Phone = *row.Phone
		}
		if row.FinishedAt != nil {
			result.CompletedAt = *row.FinishedAt
		}
		results = append(results, result)
	}

	return results, nil
}
