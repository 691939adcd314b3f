// Package executor runs one job through its feature pipeline and records the
// outcome. A failing job never escapes as an error or panic.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/suPer8Hu/intelliavatar/internal/job"
	"github.com/suPer8Hu/intelliavatar/internal/pipeline"
)

type Pipelines interface {
	Lookup(f job.Feature) (pipeline.Pipeline, error)
}

// OutputLocator decides where a job's final artifact goes.
type OutputLocator interface {
	OutputPath(jobID string) string
}

type Executor struct {
	jobs      job.Store
	pipelines Pipelines
	outputs   OutputLocator
	logger    *slog.Logger
	now       func() time.Time
}

func New(jobs job.Store, pipelines Pipelines, outputs OutputLocator, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		jobs:      jobs,
		pipelines: pipelines,
		outputs:   outputs,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Execute moves j to IN_PROGRESS, runs its pipeline and marks it COMPLETED or
// FAILED. It returns once the job is terminal or could not be started, and
// reports whether the job was started.
func (e *Executor) Execute(ctx context.Context, j *job.Job) bool {
	log := e.logger.With("job_id", j.ID, "feature", j.Feature, "owner_id", j.OwnerID)
	// status writes must land even while the process is shutting down
	wctx := context.WithoutCancel(ctx)

	j.InputRefs = NormalizeRefs(j.InputRefs)

	start := e.now()
	if err := e.jobs.SetStarted(wctx, j.ID, start); err != nil {
		log.Error("could not start job", "err", err)
		return false
	}
	log.Info("job started")

	out := NormalizeRef(e.outputs.OutputPath(j.ID))
	err := e.run(ctx, j, out)
	if err == nil {
		err = checkOutput(out)
	}
	cost := e.now().Sub(start)

	if err != nil {
		log.Error("job failed", "stage", pipeline.Stage(err), "err", err, "cost", cost)
		e.fail(wctx, log, j.ID, err)
		return true
	}

	if err := e.jobs.SetCompleted(wctx, j.ID, out, e.now()); err != nil {
		log.Error("could not mark job completed", "err", err)
		e.fail(wctx, log, j.ID, fmt.Errorf("record completion: %w", err))
		return true
	}
	log.Info("job completed", "output_ref", out, "cost", cost)
	return true
}

func (e *Executor) run(ctx context.Context, j *job.Job, out string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline panicked",
				slog.String("job_id", j.ID),
				slog.String("feature", string(j.Feature)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s pipeline: %v", j.Feature, r)
		}
	}()

	p, err := e.pipelines.Lookup(j.Feature)
	if err != nil {
		return err
	}
	return p.Run(ctx, j, out)
}

// fail is best effort: an error here is logged and dropped so the caller
// always regains control.
func (e *Executor) fail(ctx context.Context, log *slog.Logger, id string, cause error) {
	if err := e.jobs.SetFailed(ctx, id, cause.Error(), e.now()); err != nil {
		log.Error("could not mark job failed", "err", err)
	}
}

func checkOutput(out string) error {
	fi, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("pipeline produced no output: %w", err)
	}
	if fi.Size() == 0 {
		return errors.New("pipeline produced an empty output")
	}
	return nil
}

// NormalizeRef rewrites Windows-style separators and cleans the path for the
// host OS. Empty refs stay empty.
func NormalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	return filepath.Clean(filepath.FromSlash(strings.ReplaceAll(ref, `\`, "/")))
}

func NormalizeRefs(refs []string) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = NormalizeRef(r)
	}
	return out
}
