// Package worker consumes job messages from the queue. There is no side
// processing today: messages are validated, logged and acknowledged. The
// loop is single-threaded on purpose; throughput is gated by upstream
// transcoding, not by consumption.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vodworks/pipeline/internal/metrics"
	"github.com/vodworks/pipeline/pkg/models"
)

// ReceiveBackoff is slept after a failed receive before retrying.
const ReceiveBackoff = 5 * time.Second

var tracer = otel.Tracer("vod-worker")

// Consumer is the queue surface the worker needs.
type Consumer interface {
	Receive(ctx context.Context, waitSeconds, visibilitySeconds int32) (*types.Message, error)
	Ack(ctx context.Context, receiptHandle *string) error
}

// Worker polls the job queue and handles one message at a time.
type Worker struct {
	queue         Consumer
	log           *slog.Logger
	idleSleep     time.Duration
	waitSeconds   int32
	visibilitySec int32
}

// Config holds worker dependencies.
type Config struct {
	Queue         Consumer
	Logger        *slog.Logger
	IdleSleep     time.Duration
	WaitSeconds   int32
	VisibilitySec int32
}

// New creates a Worker with the given configuration.
func New(cfg *Config) *Worker {
	return &Worker{
		queue:         cfg.Queue,
		log:           cfg.Logger,
		idleSleep:     cfg.IdleSleep,
		waitSeconds:   cfg.WaitSeconds,
		visibilitySec: cfg.VisibilitySec,
	}
}

// Run polls until the context is cancelled. Receive errors are logged
// and retried after a backoff; after the startup connectivity check
// nothing in the loop is fatal.
func (w *Worker) Run(ctx context.Context) {
	w.log.InfoContext(ctx, "Starting queue polling",
		"waitSeconds", w.waitSeconds,
		"visibilitySeconds", w.visibilitySec,
	)

	for {
		select {
		case <-ctx.Done():
			w.log.InfoContext(ctx, "Shutting down consumer")
			return
		default:
		}

		msg, err := w.queue.Receive(ctx, w.waitSeconds, w.visibilitySec)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.ErrorContext(ctx, "Failed to receive message", "error", err)
			w.sleep(ctx, ReceiveBackoff)
			continue
		}
		if msg == nil {
			w.sleep(ctx, w.idleSleep)
			continue
		}

		w.handle(ctx, msg)
	}
}

// handle validates and acknowledges one message. Malformed messages are
// logged with their raw body, counted and acknowledged anyway so they
// never block the queue.
func (w *Worker) handle(ctx context.Context, msg *types.Message) {
	ctx, span := tracer.Start(ctx, "handle-message")
	defer span.End()

	body := ""
	if msg.Body != nil {
		body = *msg.Body
	}

	var job models.JobMessage
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		w.drop(ctx, msg, body, fmt.Errorf("%w: %v", models.ErrMalformedMessage, err))
		return
	}
	if err := job.Validate(); err != nil {
		w.drop(ctx, msg, body, fmt.Errorf("%w: %v", models.ErrMalformedMessage, err))
		return
	}

	span.SetAttributes(
		attribute.String("video.id", job.VideoID),
		attribute.String("video.object_key", job.ObjectKey),
	)

	if !job.Timestamp.IsZero() {
		metrics.JobLag.Observe(time.Since(job.Timestamp).Seconds())
	}

	w.log.InfoContext(ctx, "Job received",
		"videoId", job.VideoID,
		"objectKey", job.ObjectKey,
		"ownerId", job.OwnerID,
		"operation", job.Operation,
	)
	metrics.RecordJobProcessed()

	if err := w.queue.Ack(ctx, msg.ReceiptHandle); err != nil {
		// The message will reappear after its visibility window; the
		// duplicate delivery is tolerated.
		w.log.ErrorContext(ctx, "Failed to acknowledge message", "error", err)
	}
}

func (w *Worker) drop(ctx context.Context, msg *types.Message, body string, cause error) {
	w.log.ErrorContext(ctx, "Dropping malformed message",
		"error", cause,
		"body", body,
	)
	metrics.RecordJobDropped()

	if err := w.queue.Ack(ctx, msg.ReceiptHandle); err != nil {
		w.log.ErrorContext(ctx, "Failed to delete malformed message", "error", err)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
