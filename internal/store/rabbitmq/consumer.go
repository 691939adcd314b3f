package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/intelliavatar/internal/chain"
)

// Delivery is the part of amqp.Delivery the consumer needs.
type Delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer admits published chain tasks with a fixed number of workers.
// Tasks are acked on success and dead-lettered on failure; none is retried.
type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	handler     chain.Handler
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

func NewConsumer(url, queue string, handler chain.Handler, concurrency int, timeout time.Duration, logger *slog.Logger) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 2
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		handler:     handler,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is cancelled, then drains in-flight deliveries.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.logger.Info("chain consumer started", "queue", c.queue, "concurrency", c.concurrency)

	deliveries := make(chan amqp.Delivery, c.concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				c.handle(workerID, d.Body, &d)
			}
		}(i)
	}

	defer func() {
		close(deliveries)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("chain consumer shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			deliveries <- d
		}
	}
}

func (c *Consumer) handle(workerID int, body []byte, d Delivery) {
	var t chain.Task
	if err := json.Unmarshal(body, &t); err != nil || t.JobID == "" {
		c.logger.Error("chain: bad message", "worker", workerID, "err", err)
		_ = d.Nack(false, false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.handler(ctx, t); err != nil {
		c.logger.Error("chain: task failed", "worker", workerID, "job_id", t.JobID,
			"owner_id", t.OwnerID, "feature", t.Feature, "cost", time.Since(start), "err", err)
		_ = d.Nack(false, false)
		return
	}
	if err := d.Ack(false); err != nil {
		c.logger.Error("chain: ack failed", "worker", workerID, "job_id", t.JobID, "err", err)
	}
}
