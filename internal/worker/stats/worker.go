// Package stats consumes queue-entry transition events and maintains the
// per-day throughput counters behind the analytics engine.
package stats

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/lead-pipeline-scheduler/internal/app"
	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/queue"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
)

// Worker consumes transition events and applies daily statistic deltas.
type Worker struct {
	container *app.Container
}

// New creates a new stats worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes transition events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-stats"
	reader := w.container.Kafka.NewReader(cfg.Kafka.TransitionTopic, groupID)
	defer reader.Close()

	statsRepo := w.container.Repositories().Stats
	logger := w.container.Logger
	tracer := otel.Tracer("leadsched.statsworker")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("stats worker: fetch", zap.Error(err))
			continue
		}

		var transition queue.TransitionMessage
		if err := json.Unmarshal(msg.Value, &transition); err != nil {
			logger.Error("stats worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		sctx, span := tracer.Start(ctx, "queue.transition", trace.WithAttributes(
			attribute.String("entry.id", transition.EntryID.String()),
			attribute.String("transition.to", string(transition.To)),
			attribute.Int("attempt", transition.Attempt),
		))

		delta := deltaFor(transition)
		if delta != (repository.StatsDelta{}) {
			day := domain.DateOf(transition.OccurredAt.UTC())
			if err := statsRepo.ApplyDelta(sctx, day, delta); err != nil {
				span.RecordError(err)
				logger.Error("stats worker: apply delta", zap.Error(err))
				// leave the message uncommitted so the delta is retried
				span.End()
				continue
			}
		}
		span.End()

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error("stats worker: commit", zap.Error(err))
		}
	}
}

// deltaFor maps one transition to its statistic increments. Admission events
// carry an empty From state; requeues do not count as new intake.
func deltaFor(t queue.TransitionMessage) repository.StatsDelta {
	var delta repository.StatsDelta
	switch t.To {
	case domain.QueueStateQueued:
		if t.From == "" {
			delta.QueuedDelta++
		}
	case domain.QueueStateSent:
		delta.ProcessedDelta++
		delta.DurationMsDelta += t.DurationMs
	case domain.QueueStateDeadLettered:
		delta.FailedDelta++
	}
	return delta
}
