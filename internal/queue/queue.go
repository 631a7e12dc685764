// Package queue hands completed work off to the downstream delivery
// subsystem. Only the publishing side lives here; consumption happens in
// the export service that renders credential files.
package queue

import "context"

const (
	// ResultsQueueName receives one message per COMPLETED unit.
	ResultsQueueName = "export.results"
	// BatchesQueueName receives one message per finalized batch.
	BatchesQueueName = "export.batches"
)

// Publisher publishes export messages for the delivery subsystem.
type Publisher interface {
	PublishUnitResult(ctx context.Context, msg UnitResultMessage) error
	PublishBatchFinalized(ctx context.Context, msg BatchFinalizedMessage) error
	Close() error
}
