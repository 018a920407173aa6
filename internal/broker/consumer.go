package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/config"
	"github.com/baechuer/notify-platform/internal/metrics"
)

// HandleFunc processes one delivery. The handler owns the ack decision:
// it must Ack or Nack the delivery exactly once, after the outcome is known.
type HandleFunc func(ctx context.Context, queue string, d amqp.Delivery)

type tagged struct {
	queue    string
	delivery amqp.Delivery
}

// Consumer drains one or more queues through a bounded worker pool and
// reconnects with exponential backoff when the broker drops the connection.
type Consumer struct {
	url      string
	cfg      config.RabbitConfig
	queues   []string
	workers  int
	prefetch int
	handler  HandleFunc
	lg       zerolog.Logger
}

func NewConsumer(cfg config.RabbitConfig, queues []string, workers int, handler HandleFunc, lg zerolog.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		url:      cfg.URL,
		cfg:      cfg,
		queues:   queues,
		workers:  workers,
		prefetch: cfg.PrefetchCount,
		handler:  handler,
		lg:       lg.With().Str("component", "broker_consumer").Logger(),
	}
}

// Run blocks until ctx is cancelled, reconnecting on connection loss.
func (c *Consumer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until ctx cancels

	for {
		var conn *amqp.Connection
		var ch *amqp.Channel
		connect := func() error {
			var err error
			conn, ch, err = c.connectAndDeclare()
			if err != nil {
				c.lg.Warn().Err(err).Msg("broker connect failed; backing off")
			}
			return err
		}
		if err := backoff.Retry(connect, backoff.WithContext(bo, ctx)); err != nil {
			return fmt.Errorf("broker connect: %w", err)
		}
		bo.Reset()

		c.lg.Info().Strs("queues", c.queues).Int("workers", c.workers).
			Int("prefetch", c.prefetch).Msg("consuming")

		c.consume(ctx, conn, ch)

		_ = ch.Close()
		_ = conn.Close()

		select {
		case <-ctx.Done():
			c.lg.Info().Msg("consumer stopped")
			return nil
		default:
			c.lg.Warn().Msg("deliveries closed; reconnecting")
		}
	}
}

func (c *Consumer) connectAndDeclare() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := DeclareTopology(ch, c.cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	if c.prefetch > 0 {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("qos: %w", err)
		}
	}
	return conn, ch, nil
}

// consume merges all queue streams into one channel and runs the worker
// pool over it. Returns when every stream has closed or ctx is cancelled.
func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, ch *amqp.Channel) {
	merged := make(chan tagged)

	var producers sync.WaitGroup
	for _, queue := range c.queues {
		deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			c.lg.Error().Err(err).Str("queue", queue).Msg("consume failed")
			continue
		}
		producers.Add(1)
		go func(queue string, deliveries <-chan amqp.Delivery) {
			defer producers.Done()
			for d := range deliveries {
				select {
				case merged <- tagged{queue: queue, delivery: d}:
				case <-ctx.Done():
					return
				}
			}
		}(queue, deliveries)
	}

	go func() {
		producers.Wait()
		close(merged)
	}()

	var workers sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for msg := range merged {
				metrics.RecordConsumed(msg.queue)
				c.handler(ctx, msg.queue, msg.delivery)
			}
		}()
	}

	// On cancellation the connection close tears down the delivery streams,
	// which unblocks the producers and drains the pool.
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-done
	case <-done:
	}
}
