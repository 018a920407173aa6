package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/baechuer/notify-platform/internal/config"
)

// RoutingKeyFailed is the dead-letter routing key. Work queues dead-letter
// back onto the main exchange with this key, where failed.queue is bound.
const RoutingKeyFailed = "failed"

// DeclareTopology declares the exchange, the four work queues, and the dead
// letter queue. Every declaration is idempotent, so gateway and workers can
// all call this on startup regardless of who wins the race.
func DeclareTopology(ch *amqp.Channel, cfg config.RabbitConfig) error {
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}

	workArgs := amqp.Table{
		"x-dead-letter-exchange":    cfg.Exchange,
		"x-dead-letter-routing-key": RoutingKeyFailed,
	}

	bindings := []struct {
		queue      string
		routingKey string
		args       amqp.Table
	}{
		{cfg.EmailQueue, "email", workArgs},
		{cfg.EmailPriorityQueue, "email.priority", workArgs},
		{cfg.PushQueue, "push", workArgs},
		{cfg.PushPriorityQueue, "push.priority", workArgs},
		{cfg.FailedQueue, RoutingKeyFailed, nil}, // terminal, no DLX
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, b.args); err != nil {
			return fmt.Errorf("queue declare (%s): %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.routingKey, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind (%s -> %s): %w", b.queue, b.routingKey, err)
		}
	}
	return nil
}
