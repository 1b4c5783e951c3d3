// Package delivery drains the message queue through a transport.
package delivery

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	apperrors "anonsend/errors"
	"anonsend/logging"
	"anonsend/models"
	"anonsend/queue"
	"anonsend/transport"
)

const (
	DefaultInterval    = time.Minute
	DefaultBatchSize   = 10
	DefaultSendTimeout = 30 * time.Second
)

// Queue is the part of queue.Queue the worker drives.
type Queue interface {
	NextBatchAfter(ctx context.Context, afterID int64, limit int) ([]queue.Item, error)
	MarkResult(ctx context.Context, id int64, sent bool) error
}

// EventRecorder receives journal entries. Failures are logged and ignored.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event models.Event) error
}

// Options tunes a Worker. Zero values select the defaults.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	SendTimeout time.Duration
}

// Report summarizes one batch.
type Report struct {
	RunID string
	// Fetched counts every item returned by the queue, including undecryptable ones.
	Fetched       int
	Sent          int
	Failed        int
	Undecryptable int
}

type Worker struct {
	queue  Queue
	sender transport.Sender
	opts   Options
	logger *logging.Logger
	events EventRecorder
}

// NewWorker builds a worker. logger and events may be nil.
func NewWorker(q Queue, sender transport.Sender, opts Options, logger *logging.Logger, events EventRecorder) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Worker{
		queue:  q,
		sender: sender,
		opts:   opts,
		logger: logger.WithComponent("delivery"),
		events: events,
	}
}

// RunOnce attempts up to BatchSize deliveries. A failed send or an
// undecryptable message is counted and the run continues; such messages stay
// queued. Undecryptable messages do not use up the batch: the run pages past
// them by id, so they cannot starve the messages behind them. Only a failure
// to fetch is returned as an error.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := w.logger.With("run_id", report.RunID)

	var cursor int64
	attempts := 0
	for attempts < w.opts.BatchSize {
		limit := w.opts.BatchSize - attempts
		items, err := w.queue.NextBatchAfter(ctx, cursor, limit)
		if err != nil {
			var storeErr *apperrors.StoreError
			if apperrors.As(err, &storeErr) && storeErr.Timeout() {
				logger.Error("fetch batch timed out", "after_id", cursor, "error", err)
			} else {
				logger.Error("fetch batch failed", "after_id", cursor, "error", err)
			}
			return report, err
		}
		report.Fetched += len(items)

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				logger.Warn("run interrupted", "next_message_id", item.Message.ID)
				return report, err
			}

			id := item.Message.ID
			cursor = id
			if item.Err != nil {
				report.Undecryptable++
				logger.Error("message undecryptable, left queued", "message_id", id, "error", item.Err)
				w.record(ctx, models.EventDecryptFailed, id, models.SeverityCritical, nil)
				continue
			}

			attempts++
			if err := w.send(ctx, item.Message); err != nil {
				report.Failed++
				logger.Warn("send failed, left queued", "message_id", id, "error", err)
				w.record(ctx, models.EventDeliveryFailed, id, models.SeverityWarning, map[string]any{"error": err.Error()})
				continue
			}

			if err := w.queue.MarkResult(ctx, id, true); err != nil {
				// The message left the process but is still unsent in the store
				// and will be sent again on a later run.
				report.Failed++
				logger.Error("mark sent failed after successful send", "message_id", id, "error", err)
				continue
			}
			report.Sent++
			w.record(ctx, models.EventDeliverySent, id, models.SeverityInfo, nil)
		}

		if len(items) < limit {
			break
		}
	}

	if report.Fetched > 0 {
		logger.Info("batch processed",
			"fetched", report.Fetched,
			"sent", report.Sent,
			"failed", report.Failed,
			"undecryptable", report.Undecryptable,
		)
	}
	return report, nil
}

func (w *Worker) send(ctx context.Context, msg models.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, w.opts.SendTimeout)
	defer cancel()
	return w.sender.Send(sendCtx, msg.Recipient, msg.Subject, msg.Content)
}

// Run calls RunOnce immediately and then every Interval until ctx is done.
// Store failures are logged and retried on the next tick; any other error
// stops the loop and is returned.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "interval", w.opts.Interval.String(), "batch_size", w.opts.BatchSize)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil && !apperrors.IsRetryable(err) {
			w.logger.Error("worker stopped", "error", err)
			return err
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) record(ctx context.Context, eventType string, id int64, severity string, details map[string]any) {
	if w.events == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), queue.DefaultTimeout)
	defer cancel()
	if err := w.events.RecordEvent(recCtx, models.Event{
		Type:     eventType,
		Subject:  "message:" + strconv.FormatInt(id, 10),
		Details:  details,
		Severity: severity,
	}); err != nil {
		w.logger.Warn("record event failed", "event_type", eventType, "error", err)
	}
}
