package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/circuitbreaker"
	"github.com/baechuer/notify-platform/internal/domain"
	"github.com/baechuer/notify-platform/internal/logger"
	"github.com/baechuer/notify-platform/internal/metrics"
	"github.com/baechuer/notify-platform/internal/retry"
	"github.com/baechuer/notify-platform/internal/store"
)

// RetryPublisher republishes messages for retry or parks them on the DLQ.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, msg *domain.QueueMessage) error
	PublishToDLQ(ctx context.Context, msg *domain.QueueMessage, reason string, cause error) error
}

// PipelineDeps wires one worker pipeline.
type PipelineDeps struct {
	Sender    Sender
	Guard     *store.IdempotencyGuard
	Renderer  TemplateRenderer
	Statuses  StatusPoster
	Publisher RetryPublisher
	Breaker   *circuitbreaker.Breaker
	Policy    retry.Policy
	Logger    zerolog.Logger
}

// Pipeline processes queue deliveries for one channel: claim the idempotency
// key, render, send under the provider breaker, then report the outcome. The
// delivery is acked only once the outcome is durable, i.e. delivered, parked
// on the DLQ, or republished with an incremented retry count.
type Pipeline struct {
	sender    Sender
	guard     *store.IdempotencyGuard
	renderer  TemplateRenderer
	statuses  StatusPoster
	publisher RetryPublisher
	breaker   *circuitbreaker.Breaker
	policy    retry.Policy
	lg        zerolog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration)
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		sender:    deps.Sender,
		guard:     deps.Guard,
		renderer:  deps.Renderer,
		statuses:  deps.Statuses,
		publisher: deps.Publisher,
		breaker:   deps.Breaker,
		policy:    deps.Policy,
		lg:        deps.Logger.With().Str("component", "worker_pipeline").Str("channel", string(deps.Sender.Channel())).Logger(),
		sleep:     sleepCtx,
	}
}

// Handle implements broker.HandleFunc.
func (p *Pipeline) Handle(ctx context.Context, queue string, d amqp.Delivery) {
	start := time.Now()
	channel := string(p.sender.Channel())

	var msg domain.QueueMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		// Unparseable payloads dead-letter through the queue's DLX.
		p.lg.Error().Err(err).Str("queue", queue).Msg("malformed queue message")
		metrics.RecordDLQ(channel, "malformed")
		_ = d.Nack(false, false)
		return
	}

	lg := logger.WithCorrelationID(p.lg, msg.CorrelationID).With().
		Str("notification_id", msg.NotificationID).
		Str("request_id", msg.RequestID).
		Str("queue", queue).
		Logger()

	won, err := p.guard.Claim(ctx, channel, msg.RequestID)
	if err != nil {
		lg.Warn().Err(err).Msg("idempotency claim failed; requeueing")
		_ = d.Nack(false, true)
		return
	}
	if !won {
		metrics.RecordIdempotencyHit("worker")
		lg.Info().Msg("duplicate delivery skipped")
		_ = d.Ack(false)
		return
	}

	err = p.process(ctx, &msg)
	metrics.RecordProcessing(channel, time.Since(start))

	switch {
	case err == nil:
		p.finish(ctx, &msg, domain.StatusDelivered, nil)
		_ = d.Ack(false)
		lg.Info().Int("retry_count", msg.RetryCount).Msg("delivered")

	case domain.Retryable(err) && !p.policy.Exhausted(msg.RetryCount):
		p.retryLater(ctx, &msg, err, d, lg)

	default:
		p.deadLetter(ctx, &msg, err, d, lg)
	}
}

// process renders and sends one message. Returned errors carry retry
// classification.
func (p *Pipeline) process(ctx context.Context, msg *domain.QueueMessage) error {
	rendered, err := p.renderer.Render(ctx, msg.TemplateCode, msg.Variables)
	if err != nil {
		return err
	}

	sendStart := time.Now()
	err = p.breaker.Call(ctx, func() error {
		return p.sender.Send(ctx, msg, rendered)
	})
	metrics.SetBreakerState(p.sender.Provider(), int(p.breaker.State()))

	status := string(domain.StatusDelivered)
	if err != nil {
		status = string(domain.StatusFailed)
	}
	metrics.RecordDelivery(string(msg.NotificationType), p.sender.Provider(), status, time.Since(sendStart))

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return domain.NewRetryableError("provider circuit open", err)
	}
	return err
}

// retryLater backs off, releases the idempotency claim so the next attempt
// can run, then republishes with retry_count+1 to the originating key.
func (p *Pipeline) retryLater(ctx context.Context, msg *domain.QueueMessage, cause error, d amqp.Delivery, lg zerolog.Logger) {
	channel := string(p.sender.Channel())
	p.sleep(ctx, p.policy.Delay(msg.RetryCount))

	if err := p.guard.Release(ctx, channel, msg.RequestID); err != nil {
		lg.Warn().Err(err).Msg("idempotency release failed")
	}

	next := *msg
	next.RetryCount++
	if err := p.publisher.PublishRetry(ctx, &next); err != nil {
		lg.Error().Err(err).Msg("retry publish failed; requeueing")
		_ = d.Nack(false, true)
		return
	}

	metrics.RecordRetry(channel)
	_ = d.Ack(false)
	lg.Warn().Err(cause).Int("next_retry_count", next.RetryCount).Msg("retry scheduled")
}

// deadLetter parks the message on the failed queue and records the terminal
// failure. The original delivery is requeued when even the DLQ publish fails.
func (p *Pipeline) deadLetter(ctx context.Context, msg *domain.QueueMessage, cause error, d amqp.Delivery, lg zerolog.Logger) {
	channel := string(p.sender.Channel())

	reason := "permanent_failure"
	if domain.Retryable(cause) {
		reason = "max_retries_exceeded"
	}

	if err := p.publisher.PublishToDLQ(ctx, msg, reason, cause); err != nil {
		lg.Error().Err(err).Msg("dlq publish failed; requeueing")
		_ = p.guard.Release(ctx, channel, msg.RequestID)
		_ = d.Nack(false, true)
		return
	}

	metrics.RecordDLQ(channel, reason)
	p.finish(ctx, msg, domain.StatusFailed, cause)
	_ = d.Ack(false)
	lg.Warn().Err(cause).Str("reason", reason).Int("retry_count", msg.RetryCount).Msg("dead lettered")
}

// finish marks the idempotency key terminal and reports status to the
// gateway. Both are best-effort: the delivery outcome is already decided.
func (p *Pipeline) finish(ctx context.Context, msg *domain.QueueMessage, status domain.NotificationStatus, cause error) {
	channel := string(p.sender.Channel())

	if err := p.guard.MarkDone(ctx, channel, msg.RequestID, string(status)); err != nil {
		p.lg.Warn().Err(err).Str("request_id", msg.RequestID).Msg("idempotency mark failed")
	}

	update := &domain.StatusUpdate{
		NotificationID: msg.NotificationID,
		Status:         status,
	}
	if cause != nil {
		update.Error = cause.Error()
	}
	if err := p.statuses.PostStatus(ctx, p.sender.Channel(), update); err != nil {
		p.lg.Warn().Err(err).Str("notification_id", msg.NotificationID).Msg("status post failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
