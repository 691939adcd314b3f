package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/suPer8Hu/intelliavatar/internal/chain"
	"github.com/suPer8Hu/intelliavatar/internal/job"
)

type fakeDelivery struct {
	acked, nacked, requeued bool
}

func (d *fakeDelivery) Ack(multiple bool) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(multiple, requeue bool) error {
	d.nacked = true
	d.requeued = requeue
	return nil
}

func testConsumer(h chain.Handler) *Consumer {
	return &Consumer{
		handler: h,
		timeout: time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestHandle_AcksAdmittedTask(t *testing.T) {
	var got chain.Task
	c := testConsumer(func(ctx context.Context, task chain.Task) error {
		got = task
		return nil
	})
	body, _ := json.Marshal(chain.Task{JobID: "01A", OwnerID: 7, Feature: job.FeatureLipSync, InputRefs: []string{"v", "a"}})

	d := &fakeDelivery{}
	c.handle(0, body, d)

	if !d.acked || d.nacked {
		t.Fatalf("expected ack, got %+v", d)
	}
	if got.JobID != "01A" || got.OwnerID != 7 || len(got.InputRefs) != 2 {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestHandle_DeadLettersFailure(t *testing.T) {
	c := testConsumer(func(ctx context.Context, task chain.Task) error {
		return errors.New("quota store down")
	})
	body, _ := json.Marshal(chain.Task{JobID: "01A"})

	d := &fakeDelivery{}
	c.handle(0, body, d)

	if d.acked || !d.nacked || d.requeued {
		t.Fatalf("expected nack without requeue, got %+v", d)
	}
}

func TestHandle_BadMessage(t *testing.T) {
	called := false
	c := testConsumer(func(ctx context.Context, task chain.Task) error {
		called = true
		return nil
	})

	d := &fakeDelivery{}
	c.handle(0, []byte(`{"owner_id":7}`), d)

	if called || !d.nacked || d.requeued {
		t.Fatalf("message without job id must be dead-lettered, got %+v called=%v", d, called)
	}
}
