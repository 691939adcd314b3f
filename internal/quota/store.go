package quota

import (
	"context"
	"errors"

	"github.com/suPer8Hu/intelliavatar/internal/job"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Record struct {
	OwnerID       uint64      `gorm:"primaryKey;autoIncrement:false"`
	Feature       job.Feature `gorm:"primaryKey;type:varchar(32)"`
	AttemptsCount int         `gorm:"not null;default:0"`
}

func (Record) TableName() string { return "quotas" }

// Store keeps quota counters in the service database.
type Store struct {
	db     *gorm.DB
	limits Limits
}

var _ Gate = (*Store)(nil)

func NewStore(db *gorm.DB, limits Limits) *Store {
	return &Store{db: db, limits: limits}
}

func (s *Store) Check(ctx context.Context, ownerID uint64, feature job.Feature) (Usage, error) {
	limit := s.limits.Limit(feature)
	if limit == 0 {
		return usage(0, 0), nil
	}

	var rec Record
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND feature = ?", ownerID, feature).
		First(&rec).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Usage{}, err
	}
	return usage(rec.AttemptsCount, limit), nil
}

// Acquire makes sure the row exists, then bumps it with a conditional update
// so concurrent callers can never push it past the limit.
func (s *Store) Acquire(ctx context.Context, ownerID uint64, feature job.Feature) (Usage, error) {
	limit := s.limits.Limit(feature)
	if limit == 0 {
		return usage(0, 0), nil
	}
	db := s.db.WithContext(ctx)

	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Record{OwnerID: ownerID, Feature: feature}).Error; err != nil {
		return Usage{}, err
	}
	res := db.Model(&Record{}).
		Where("owner_id = ? AND feature = ? AND attempts_count < ?", ownerID, feature, limit).
		UpdateColumn("attempts_count", gorm.Expr("attempts_count + 1"))
	if res.Error != nil {
		return Usage{}, res.Error
	}

	u, err := s.Check(ctx, ownerID, feature)
	if err != nil {
		return Usage{}, err
	}
	u.Allowed = res.RowsAffected == 1
	return u, nil
}

// Increment upserts the counter in one statement, ignoring the limit.
func (s *Store) Increment(ctx context.Context, ownerID uint64, feature job.Feature) error {
	rec := Record{OwnerID: ownerID, Feature: feature, AttemptsCount: 1}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "feature"}},
		DoUpdates: clause.Assignments(map[string]any{
			"attempts_count": gorm.Expr("attempts_count + 1"),
		}),
	}).Create(&rec).Error
}
