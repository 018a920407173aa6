package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/config"
	"github.com/baechuer/notify-platform/internal/domain"
	"github.com/baechuer/notify-platform/internal/metrics"
)

// Minimum window to wait for Return / Confirm.
const publishWait = 5 * time.Second

// Publisher publishes queue messages with confirm mode and mandatory
// delivery: a broker nack or an unroutable return is surfaced as an error,
// so the gateway never reports "queued" for a message no queue holds.
//
// The channel is guarded by a mutex; confirms arrive in publish order only
// on a serialized channel.
type Publisher struct {
	url string
	cfg config.RabbitConfig
	lg  zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewPublisher(cfg config.RabbitConfig, lg zerolog.Logger) (*Publisher, error) {
	p := &Publisher{
		url: cfg.URL,
		cfg: cfg,
		lg:  lg.With().Str("component", "broker_publisher").Logger(),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetConn()
	return nil
}

// Publish routes msg by its channel and priority.
func (p *Publisher) Publish(ctx context.Context, msg *domain.QueueMessage) error {
	return p.publishJSON(ctx, msg.RoutingKey(), msg, nil, msg.Priority, msg.CorrelationID)
}

// PublishRetry republishes msg to its originating routing key with the retry
// count already incremented by the caller.
func (p *Publisher) PublishRetry(ctx context.Context, msg *domain.QueueMessage) error {
	headers := amqp.Table{"x-retry-count": int32(msg.RetryCount)}
	return p.publishJSON(ctx, msg.RoutingKey(), msg, headers, msg.Priority, msg.CorrelationID)
}

// PublishToDLQ parks msg on the failed queue with failure context headers.
func (p *Publisher) PublishToDLQ(ctx context.Context, msg *domain.QueueMessage, reason string, cause error) error {
	headers := amqp.Table{
		"x-failure-reason": reason,
		"x-retry-count":    int32(msg.RetryCount),
		"x-original-key":   msg.RoutingKey(),
		"x-failed-at":      time.Now().UTC().Format(time.RFC3339),
	}
	if cause != nil {
		headers["x-error"] = cause.Error()
	}
	return p.publishJSON(ctx, RoutingKeyFailed, msg, headers, msg.Priority, msg.CorrelationID)
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := DeclareTopology(ch, p.cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("confirm mode: %w", err)
	}

	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))

	p.conn = conn
	p.ch = ch
	return nil
}

func (p *Publisher) ensureConnected() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil {
		return nil
	}
	return p.connect()
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, payload any, headers amqp.Table, priority int, correlationID string) error {
	if priority < 0 {
		priority = 0
	}
	if priority > 10 {
		priority = 10
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishWait)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(); err != nil {
		return domain.NewQueueUnavailable(err)
	}

	// Drain stale confirm / return frames from a previous publish.
drain:
	for {
		select {
		case <-p.confirmCh:
		case <-p.returnCh:
		default:
			break drain
		}
	}

	if err := p.ch.PublishWithContext(
		ctx,
		p.cfg.Exchange,
		routingKey,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			Priority:      uint8(priority),
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Headers:       headers,
			Body:          body,
		},
	); err != nil {
		p.resetConn()
		return domain.NewQueueUnavailable(fmt.Errorf("publish: %w", err))
	}

	select {
	case ret := <-p.returnCh:
		return domain.NewQueueUnavailable(fmt.Errorf(
			"unroutable: key=%s code=%d text=%s", routingKey, ret.ReplyCode, ret.ReplyText))

	case conf := <-p.confirmCh:
		// With mandatory delivery the Return frame usually precedes the Ack;
		// check once more in case both arrived in the same window.
		select {
		case ret := <-p.returnCh:
			return domain.NewQueueUnavailable(fmt.Errorf(
				"unroutable: key=%s code=%d text=%s", routingKey, ret.ReplyCode, ret.ReplyText))
		default:
		}
		if !conf.Ack {
			return domain.NewQueueUnavailable(fmt.Errorf("broker nack: key=%s tag=%d", routingKey, conf.DeliveryTag))
		}
		metrics.RecordPublish(routingKey)
		return nil

	case <-time.After(publishWait):
		return domain.NewQueueUnavailable(fmt.Errorf("confirm timeout: key=%s", routingKey))

	case <-ctx.Done():
		return domain.NewQueueUnavailable(ctx.Err())
	}
}

func (p *Publisher) resetConn() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
