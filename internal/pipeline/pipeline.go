// Package pipeline holds the per-feature procedures the executor runs and the
// closed mapping from feature to procedure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/suPer8Hu/intelliavatar/internal/job"
)

var ErrUnknownFeature = errors.New("unknown feature")

// Pipeline produces the output artifact of one job at outPath.
type Pipeline interface {
	Run(ctx context.Context, j *job.Job, outPath string) error
}

// StageError names the stage a pipeline failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Stage returns the failing stage recorded in err, or "".
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

type Registry struct {
	mu        sync.RWMutex
	pipelines map[job.Feature]Pipeline
}

func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[job.Feature]Pipeline)}
}

// Register binds p to a known feature. Binding an unknown feature panics.
func (r *Registry) Register(f job.Feature, p Pipeline) {
	if !f.Valid() {
		panic(fmt.Sprintf("pipeline: register unknown feature %q", f))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[f] = p
}

func (r *Registry) Lookup(f job.Feature) (Pipeline, error) {
	r.mu.RLock()
	p, ok := r.pipelines[f]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, f)
	}
	return p, nil
}
