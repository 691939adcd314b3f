// Package rabbitmq is the durable chain transport: the gateway publishes
// chain tasks and a consumer admits them downstream.
package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/intelliavatar/internal/chain"
)

const publishTimeout = 5 * time.Second

type queueSpec struct {
	name string
	args amqp.Table
}

// topology lists the durable queues behind queue in declaration order: the
// DLQ first, then the main queue whose rejected messages (nack without
// requeue) are dead-lettered to it.
func topology(queue string) []queueSpec {
	dlq := queue + ".dlq"
	return []queueSpec{
		{name: dlq},
		{name: queue, args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		}},
	}
}

// declareTopology declares topology(queue). Publisher and consumer must
// agree on it.
func declareTopology(ch *amqp.Channel, queue string) error {
	for _, q := range topology(queue) {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return err
		}
	}
	return nil
}

// Publisher hands chain tasks to a single publishing goroutine through a
// bounded outbox, so Dispatch never waits on the broker.
type Publisher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *slog.Logger
	outbox *chain.Pool
}

var _ chain.Dispatcher = (*Publisher)(nil)

func NewPublisher(url, queue string, outboxSize int, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p := &Publisher{conn: conn, ch: ch, queue: queue, logger: logger}
	p.outbox = chain.NewPool(p.publish, 1, outboxSize, publishTimeout, logger)
	return p, nil
}

// Close flushes the outbox before closing the channel.
func (p *Publisher) Close() error {
	if p.outbox != nil {
		p.outbox.Close()
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Dispatch queues t for publishing as a persistent message. A full outbox
// drops the task; publish failures are logged only.
func (p *Publisher) Dispatch(t chain.Task) {
	p.outbox.Dispatch(t)
}

func (p *Publisher) publish(ctx context.Context, t chain.Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    t.JobID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
