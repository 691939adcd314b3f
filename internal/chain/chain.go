// Package chain carries fan-out submissions: a higher-level feature hands a
// fully resolved lower-level request to a Dispatcher and moves on. Delivery is
// best effort; nobody waits for or retries a task.
package chain

import (
	"context"

	"github.com/suPer8Hu/intelliavatar/internal/job"
)

// Task is a pre-resolved submission for the next gateway hop. OwnerID has
// already been authenticated; the receiving hop must not re-check it.
type Task struct {
	JobID     string            `json:"job_id"`
	OwnerID   uint64            `json:"owner_id"`
	Feature   job.Feature       `json:"feature"`
	InputRefs []string          `json:"input_refs"`
	Params    map[string]string `json:"params,omitempty"`
}

// Handler admits a task downstream.
type Handler func(ctx context.Context, t Task) error

// Dispatcher never blocks the caller and never reports delivery errors.
type Dispatcher interface {
	Dispatch(t Task)
}
