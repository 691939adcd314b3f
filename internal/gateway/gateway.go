// Package gateway admits feature requests: it validates input, applies the
// quota gate, stores artifacts and queues jobs without waiting for them.
// Composite features (text to avatar, personalized wishes) synthesize speech
// locally and chain lip-sync submissions through a chain.Dispatcher.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/suPer8Hu/intelliavatar/internal/ai"
	"github.com/suPer8Hu/intelliavatar/internal/chain"
	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/job"
	"github.com/suPer8Hu/intelliavatar/internal/quota"
)

// Caller is a resolved identity. Internal callers are chained hops from a
// request that was already authenticated and admitted; they skip the quota.
type Caller struct {
	OwnerID  uint64
	Internal bool
}

// Artifact is one uploaded input file.
type Artifact struct {
	Name string
	Body io.Reader
}

func (a Artifact) ext() string {
	return strings.ToLower(filepath.Ext(a.Name))
}

func (a Artifact) present() bool {
	return a.Body != nil && strings.TrimSpace(a.Name) != ""
}

type Receipt struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

type BatchReceipt struct {
	Status job.Status `json:"status"`
	JobIDs []string   `json:"job_ids"`
}

// Files stores uploaded and synthesized artifacts per job.
type Files interface {
	Save(jobID, name string, r io.Reader) (string, error)
}

type Deps struct {
	Jobs     job.Store
	Quota    quota.Gate
	Files    Files
	Speech   ai.Speech
	Chain    chain.Dispatcher
	Language string // TTS language when a request names none
	Logger   *slog.Logger
}

type Gateway struct {
	jobs     job.Store
	quota    quota.Gate
	files    Files
	speech   ai.Speech
	chain    chain.Dispatcher
	language string
	logger   *slog.Logger

	newID func() (string, error)
	now   func() time.Time
}

func New(d Deps) *Gateway {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lang := d.Language
	if lang == "" {
		lang = "en"
	}
	return &Gateway{
		jobs:     d.Jobs,
		quota:    d.Quota,
		files:    d.Files,
		speech:   d.Speech,
		chain:    d.Chain,
		language: lang,
		logger:   logger,
		newID:    common.NewULID,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetDispatcher wires the chain transport after construction, since the
// in-process transport itself calls back into the gateway.
func (g *Gateway) SetDispatcher(d chain.Dispatcher) {
	g.chain = d
}

func (g *Gateway) admit(ctx context.Context, c Caller, f job.Feature) error {
	if c.Internal {
		return nil
	}
	if g.quota == nil {
		return errors.New("gateway: no quota gate configured")
	}
	return quota.Admit(ctx, g.quota, c.OwnerID, f)
}

func (g *Gateway) save(id, role string, a Artifact) (string, error) {
	ref, err := g.files.Save(id, role+a.ext(), a.Body)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", role, err)
	}
	return ref, nil
}

func (g *Gateway) insert(ctx context.Context, j *job.Job) (Receipt, error) {
	j.CreatedAt = g.now()
	id, err := g.jobs.Insert(ctx, j)
	if err != nil {
		return Receipt{}, err
	}
	g.logger.Info("job queued", "job_id", id, "feature", j.Feature, "owner_id", j.OwnerID)
	return Receipt{JobID: id, Status: job.StatusQueued}, nil
}

func (g *Gateway) dispatch(t chain.Task) {
	if g.chain == nil {
		g.logger.Error("chain: no dispatcher configured, task dropped", "job_id", t.JobID, "owner_id", t.OwnerID)
		return
	}
	g.chain.Dispatch(t)
}

// Get returns the caller's job. Jobs of other owners are reported as not found.
func (g *Gateway) Get(ctx context.Context, c Caller, id string) (*job.Job, error) {
	j, err := g.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != c.OwnerID {
		return nil, job.ErrNotFound
	}
	return j, nil
}

// List returns the caller's jobs, newest first.
func (g *Gateway) List(ctx context.Context, c Caller) ([]job.Job, error) {
	return g.jobs.ListByOwner(ctx, c.OwnerID)
}

var (
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".webm": true}
	audioExts = map[string]bool{".wav": true, ".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".flac": true}
)

func requireVideo(field string, a Artifact) error {
	if !a.present() {
		return common.Invalid(field, "file is required")
	}
	if !videoExts[a.ext()] {
		return common.Invalid(field, fmt.Sprintf("unsupported video format %q", a.ext()))
	}
	return nil
}

func requireAudio(field string, a Artifact) error {
	if !a.present() {
		return common.Invalid(field, "file is required")
	}
	if !audioExts[a.ext()] {
		return common.Invalid(field, fmt.Sprintf("unsupported audio format %q", a.ext()))
	}
	return nil
}
