// Package natsbus carries chain tasks over NATS core subjects. Delivery is
// at most once: a task published while no server is subscribed is lost.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/suPer8Hu/intelliavatar/internal/chain"
)

// QueueGroup spreads tasks across every server subscribed to the subject.
const QueueGroup = "intelliavatar-chain"

type Client struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

var _ chain.Dispatcher = (*Client)(nil)

func Connect(url, subject string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{nc: nc, subject: subject, logger: logger}, nil
}

// Close drains pending messages and subscriptions.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// Dispatch publishes t. Failures are logged only.
func (c *Client) Dispatch(t chain.Task) {
	b, err := json.Marshal(t)
	if err == nil {
		err = c.nc.Publish(c.subject, b)
	}
	if err != nil {
		c.logger.Error("chain: nats publish failed, task dropped", "job_id", t.JobID, "owner_id", t.OwnerID, "err", err)
	}
}

// Subscribe feeds every task on the subject to handler, each under its own
// timeout.
func (c *Client) Subscribe(handler chain.Handler, timeout time.Duration) (*nats.Subscription, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return c.nc.QueueSubscribe(c.subject, QueueGroup, func(msg *nats.Msg) {
		handle(c.logger, handler, timeout, msg.Data)
	})
}

func handle(logger *slog.Logger, handler chain.Handler, timeout time.Duration, data []byte) {
	var t chain.Task
	if err := json.Unmarshal(data, &t); err != nil || t.JobID == "" {
		logger.Error("chain: bad nats message", "err", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("chain: task panicked", "job_id", t.JobID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := handler(ctx, t); err != nil {
		logger.Error("chain: task failed", "job_id", t.JobID, "owner_id", t.OwnerID,
			"feature", t.Feature, "cost", time.Since(start), "err", err)
	}
}
