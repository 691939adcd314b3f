package job

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/intelliavatar/internal/common"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned by GetByID for an unknown id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when an update would move a job
	// backwards or out of a terminal state. Nothing is written.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store is the durable record of every job. It is the only source of truth
// for scheduling decisions and assumes a single scheduler process: reads do
// not lock rows.
type Store interface {
	Insert(ctx context.Context, j *Job) (string, error)
	FetchOldestQueued(ctx context.Context) (*Job, error)
	HasInProgress(ctx context.Context) (bool, error)
	SetStarted(ctx context.Context, id string, at time.Time) error
	SetCompleted(ctx context.Context, id string, outputRef string, at time.Time) error
	SetFailed(ctx context.Context, id string, reason string, at time.Time) error
	GetByID(ctx context.Context, id string) (*Job, error)
	ListByOwner(ctx context.Context, ownerID uint64) ([]Job, error)
	FailInProgress(ctx context.Context, reason string, at time.Time) (int64, error)
}

type Repo struct {
	db *gorm.DB
}

var _ Store = (*Repo)(nil)

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Insert persists j as QUEUED. Output and lifecycle timestamps other than
// CreatedAt are cleared.
func (r *Repo) Insert(ctx context.Context, j *Job) (string, error) {
	if j.ID == "" {
		return "", common.Invalid("job_id", "required")
	}
	if len(j.InputRefs) == 0 {
		return "", common.Invalid("input_refs", "at least one input reference is required")
	}
	j.Status = StatusQueued
	j.OutputRef = nil
	j.Error = nil
	j.StartedAt = nil
	j.CompletedAt = nil
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Job{}).Where("id = ?", j.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return &common.ConflictError{ID: j.ID}
		}
		return tx.Create(j).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", &common.ConflictError{ID: j.ID}
	}
	if err != nil {
		return "", err
	}
	return j.ID, nil
}

// FetchOldestQueued returns the QUEUED job with the smallest CreatedAt, ties
// broken by id (ULIDs sort in insertion order). It returns nil when the
// queue is empty.
func (r *Repo) FetchOldestQueued(ctx context.Context) (*Job, error) {
	var j Job
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusQueued).
		Order("created_at ASC").
		Order("id ASC").
		First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) HasInProgress(ctx context.Context) (bool, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&Job{}).
		Where("status = ?", StatusInProgress).
		Limit(1).
		Pluck("id", &ids).Error; err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (r *Repo) SetStarted(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, StatusQueued, func(at time.Time) map[string]any {
		return map[string]any{
			"status":     StatusInProgress,
			"started_at": at,
		}
	}, at)
}

func (r *Repo) SetCompleted(ctx context.Context, id string, outputRef string, at time.Time) error {
	if outputRef == "" {
		return common.Invalid("output_ref", "required when completing a job")
	}
	return r.transition(ctx, id, StatusInProgress, func(at time.Time) map[string]any {
		return map[string]any{
			"status":       StatusCompleted,
			"output_ref":   outputRef,
			"error":        nil,
			"completed_at": at,
		}
	}, at)
}

func (r *Repo) SetFailed(ctx context.Context, id string, reason string, at time.Time) error {
	return r.transition(ctx, id, StatusInProgress, func(at time.Time) map[string]any {
		return map[string]any{
			"status":       StatusFailed,
			"output_ref":   nil,
			"error":        reason,
			"completed_at": at,
		}
	}, at)
}

// transition applies updates only while the job is still in status from.
// Timestamps are clamped so they never precede the previous lifecycle step.
// An unknown id is a no-op.
func (r *Repo) transition(ctx context.Context, id string, from Status, updates func(at time.Time) map[string]any, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j Job
		err := tx.First(&j, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if j.Status != from {
			return ErrInvalidTransition
		}

		at = at.UTC()
		floor := j.CreatedAt
		if j.StartedAt != nil {
			floor = *j.StartedAt
		}
		if at.Before(floor) {
			at = floor
		}

		res := tx.Model(&Job{}).
			Where("id = ? AND status = ?", id, from).
			Updates(updates(at))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return nil
	})
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListByOwner returns the owner's jobs newest first.
func (r *Repo) ListByOwner(ctx context.Context, ownerID uint64) ([]Job, error) {
	var jobs []Job
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// FailInProgress marks every IN_PROGRESS job FAILED. It is meant for start-up,
// to release jobs abandoned by a crashed scheduler; they are never re-queued.
func (r *Repo) FailInProgress(ctx context.Context, reason string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("status = ?", StatusInProgress).
		Updates(map[string]any{
			"status":       StatusFailed,
			"output_ref":   nil,
			"error":        reason,
			"completed_at": at.UTC(),
		})
	return res.RowsAffected, res.Error
}
