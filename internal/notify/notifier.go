package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"provengine/internal/domain"
	"provengine/internal/observability"
)

const (
	defaultNotifyInterval = 3 * time.Second
	defaultMinDelta       = 5
)

// Source exposes the live batch state the notifier reads. Implemented by
// the registry.
type Source interface {
	Snapshot(batchID string) (domain.BatchSnapshot, error)
	NotifyTarget(batchID string) (domain.NotifyTarget, error)
	SetNotifyMessageID(batchID string, messageID int) error
}

// Notifier pushes batch progress to a chat channel on a fixed tick,
// editing a single message in place. Delivery failures are logged and
// never interrupt the batch itself.
type Notifier struct {
	source   Source
	channel  Channel
	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	minDelta int
}

func NewNotifier(
	source Source,
	channel Channel,
	interval time.Duration,
	minDelta int,
	logger *zap.Logger,
) (*Notifier, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if channel == nil {
		return nil, fmt.Errorf("channel is required")
	}
	if interval <= 0 {
		interval = defaultNotifyInterval
	}
	if minDelta <= 0 {
		minDelta = defaultMinDelta
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Notifier{
		source:   source,
		channel:  channel,
		logger:   logger,
		interval: interval,
		minDelta: minDelta,
	}, nil
}

func (n *Notifier) SetMetrics(metrics *observability.Metrics) {
	if n == nil {
		return
	}
	n.metrics = metrics
}

// Watch follows one batch until it settles or ctx is cancelled. The first
// push creates the chat message; later pushes edit it, skipped while
// overall progress has moved fewer than minDelta points. The terminal
// snapshot is always pushed.
func (n *Notifier) Watch(ctx context.Context, batchID string) error {
	target, err := n.source.NotifyTarget(batchID)
	if err != nil {
		return fmt.Errorf("failed to resolve notify target: %w", err)
	}
	if target.ChatID == 0 {
		return nil
	}

	messageID := target.MessageID
	lastPercent := -n.minDelta

	snap, err := n.source.Snapshot(batchID)
	if err == nil {
		pushed := n.push(ctx, batchID, target.ChatID, &messageID, snap) == nil
		if pushed {
			lastPercent = snap.OverallPercent
		}
		if snap.Terminal && pushed {
			return nil
		}
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, err := n.source.Snapshot(batchID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				n.logger.Error("failed to read batch snapshot",
					zap.String("batchId", batchID),
					zap.Error(err),
				)
				continue
			}

			if snap.Terminal {
				// The terminal snapshot must land: without it the chat
				// message reports the batch as still running. Keep
				// retrying on the tick until the push succeeds or ctx
				// is cancelled.
				if err := n.push(ctx, batchID, target.ChatID, &messageID, snap); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					n.logger.Warn("final progress push failed, retrying",
						zap.String("batchId", batchID),
						zap.Error(err),
					)
					continue
				}
				return nil
			}

			if snap.OverallPercent-lastPercent < n.minDelta {
				continue
			}
			if n.push(ctx, batchID, target.ChatID, &messageID, snap) == nil {
				lastPercent = snap.OverallPercent
			}
		}
	}
}

func (n *Notifier) push(ctx context.Context, batchID string, chatID int64, messageID *int, snap domain.BatchSnapshot) error {
	text := Render(snap)

	if *messageID == 0 {
		id, err := n.channel.Send(ctx, chatID, text)
		if err != nil {
			n.recordFailure(batchID, err)
			return err
		}
		*messageID = id
		if err := n.source.SetNotifyMessageID(batchID, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			n.logger.Warn("failed to store notify message id",
				zap.String("batchId", batchID),
				zap.Error(err),
			)
		}
		if n.metrics != nil {
			n.metrics.IncNotifyPush()
		}
		return nil
	}

	if err := n.channel.Edit(ctx, chatID, *messageID, text); err != nil {
		n.recordFailure(batchID, err)
		return err
	}
	if n.metrics != nil {
		n.metrics.IncNotifyPush()
	}
	return nil
}

func (n *Notifier) recordFailure(batchID string, err error) {
	if n.metrics != nil {
		n.metrics.IncNotifyDispatchFailure()
	}
	n.logger.Warn("progress push failed",
		zap.String("batchId", batchID),
		zap.Error(err),
	)
}
