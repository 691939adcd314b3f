package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/job"
	"github.com/suPer8Hu/intelliavatar/internal/pipeline"
	"github.com/suPer8Hu/intelliavatar/internal/storage"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&job.Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type funcPipeline func(ctx context.Context, j *job.Job, outPath string) error

func (f funcPipeline) Run(ctx context.Context, j *job.Job, outPath string) error {
	return f(ctx, j, outPath)
}

func writeOutput(ctx context.Context, j *job.Job, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte("mp4"), 0o644)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	repo *job.Repo
	reg  *pipeline.Registry
	exec *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := job.NewRepo(openTestDB(t))
	reg := pipeline.NewRegistry()
	return &fixture{
		repo: repo,
		reg:  reg,
		exec: New(repo, reg, storage.NewLocal(t.TempDir()), quietLogger()),
	}
}

func (f *fixture) insert(t *testing.T, id string, feature job.Feature, refs ...string) *job.Job {
	t.Helper()
	j := &job.Job{ID: id, OwnerID: 7, Feature: feature, InputRefs: refs}
	if _, err := f.repo.Insert(context.Background(), j); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return j
}

func (f *fixture) get(t *testing.T, id string) *job.Job {
	t.Helper()
	j, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return j
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(t)
	f.reg.Register(job.FeatureLipSync, funcPipeline(writeOutput))
	j := f.insert(t, "01A", job.FeatureLipSync, "v.mp4", "a.wav")

	f.exec.Execute(context.Background(), j)

	got := f.get(t, "01A")
	if got.Status != job.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (err=%v)", got.Status, got.Error)
	}
	if got.OutputRef == nil || !strings.HasSuffix(*got.OutputRef, "01A.mp4") {
		t.Fatalf("unexpected output ref %v", got.OutputRef)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("expected lifecycle timestamps")
	}
}

func TestExecute_PipelineFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.reg.Register(job.FeatureSlideNarration, funcPipeline(func(ctx context.Context, j *job.Job, out string) error {
		return &pipeline.StageError{Stage: "avatar", Err: common.Collaborator("avatar", "generate", errors.New("timeout"))}
	}))
	j := f.insert(t, "01A", job.FeatureSlideNarration, "deck.pptx", "face.mp4")

	f.exec.Execute(context.Background(), j)

	got := f.get(t, "01A")
	if got.Status != job.StatusFailed || got.OutputRef != nil {
		t.Fatalf("expected FAILED without output, got %+v", got)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "avatar") {
		t.Fatalf("expected failure reason to name the stage, got %v", got.Error)
	}
}

func TestExecute_UnknownFeatureFails(t *testing.T) {
	f := newFixture(t)
	j := f.insert(t, "01A", job.FeatureTextToAvatar, "x")

	f.exec.Execute(context.Background(), j)

	if got := f.get(t, "01A"); got.Status != job.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
}

func TestExecute_PanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.reg.Register(job.FeatureLipSync, funcPipeline(func(ctx context.Context, j *job.Job, out string) error {
		var slides []string
		_ = slides[3]
		return nil
	}))
	j := f.insert(t, "01A", job.FeatureLipSync, "v.mp4", "a.wav")

	f.exec.Execute(context.Background(), j)

	got := f.get(t, "01A")
	if got.Status != job.StatusFailed || got.Error == nil || !strings.Contains(*got.Error, "panic") {
		t.Fatalf("expected panic to fail the job, got %+v", got)
	}
}

func TestExecute_MissingOutputFails(t *testing.T) {
	f := newFixture(t)
	f.reg.Register(job.FeatureLipSync, funcPipeline(func(ctx context.Context, j *job.Job, out string) error {
		return nil
	}))
	j := f.insert(t, "01A", job.FeatureLipSync, "v.mp4", "a.wav")

	f.exec.Execute(context.Background(), j)

	if got := f.get(t, "01A"); got.Status != job.StatusFailed || got.OutputRef != nil {
		t.Fatalf("expected FAILED without output, got %+v", got)
	}
}

func TestExecute_NormalizesRefs(t *testing.T) {
	f := newFixture(t)
	var seen []string
	f.reg.Register(job.FeatureLipSync, funcPipeline(func(ctx context.Context, j *job.Job, out string) error {
		seen = j.InputRefs
		return writeOutput(ctx, j, out)
	}))
	j := f.insert(t, "01A", job.FeatureLipSync, `uploads\01A\v.mp4`, "uploads/01A/./a.wav")

	f.exec.Execute(context.Background(), j)

	want := []string{
		filepath.Join("uploads", "01A", "v.mp4"),
		filepath.Join("uploads", "01A", "a.wav"),
	}
	if len(seen) != 2 || seen[0] != want[0] || seen[1] != want[1] {
		t.Fatalf("refs not normalized: %q", seen)
	}
}

func TestExecute_AlreadyStartedIsSkipped(t *testing.T) {
	f := newFixture(t)
	ran := false
	f.reg.Register(job.FeatureLipSync, funcPipeline(func(ctx context.Context, j *job.Job, out string) error {
		ran = true
		return writeOutput(ctx, j, out)
	}))
	j := f.insert(t, "01A", job.FeatureLipSync, "v.mp4", "a.wav")
	if err := f.repo.SetStarted(context.Background(), j.ID, time.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if f.exec.Execute(context.Background(), j) {
		t.Fatalf("Execute should report that the job was not started")
	}
	if ran {
		t.Fatalf("a job that cannot be started must not run")
	}
}

type failingStore struct {
	job.Store
	failCalls int
}

func (s *failingStore) SetStarted(ctx context.Context, id string, at time.Time) error { return nil }

func (s *failingStore) SetFailed(ctx context.Context, id, reason string, at time.Time) error {
	s.failCalls++
	return errors.New("database is locked")
}

func TestExecute_SwallowsStatusUpdateFailure(t *testing.T) {
	store := &failingStore{}
	reg := pipeline.NewRegistry()
	reg.Register(job.FeatureLipSync, funcPipeline(func(ctx context.Context, j *job.Job, out string) error {
		return errors.New("gpu down")
	}))
	exec := New(store, reg, storage.NewLocal(t.TempDir()), quietLogger())

	if !exec.Execute(context.Background(), &job.Job{ID: "01A", Feature: job.FeatureLipSync, InputRefs: []string{"v", "a"}}) {
		t.Fatalf("a started job should be reported as started")
	}
	if store.failCalls != 1 {
		t.Fatalf("expected one failed-status attempt, got %d", store.failCalls)
	}
}

func TestNormalizeRef(t *testing.T) {
	if NormalizeRef("  ") != "" {
		t.Fatalf("blank ref should stay empty")
	}
	if got := NormalizeRef(`C:\jobs\..\uploads\x.mp4`); got != filepath.FromSlash("C:/uploads/x.mp4") {
		t.Fatalf("unexpected normalization %q", got)
	}
}
