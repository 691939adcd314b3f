package job

import "time"

type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Feature selects the pipeline (and quota bucket) of a request.
type Feature string

const (
	FeatureLipSync            Feature = "lip_sync"
	FeatureTextToAvatar       Feature = "text_to_avatar"
	FeaturePersonalizedWishes Feature = "personalized_wishes"
	FeatureSlideNarration     Feature = "slide_narration"
)

// Features lists every known feature.
var Features = []Feature{
	FeatureLipSync,
	FeatureTextToAvatar,
	FeaturePersonalizedWishes,
	FeatureSlideNarration,
}

// Valid reports whether f is one of the known features.
func (f Feature) Valid() bool {
	for _, known := range Features {
		if f == known {
			return true
		}
	}
	return false
}

// Side metadata keys stored in Job.Params.
const (
	ParamGender   = "gender"
	ParamLanguage = "language"
	ParamOrigin   = "origin"
)

type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"job_id"` // ULID length

	OwnerID uint64  `gorm:"index;not null" json:"owner_id"`
	Feature Feature `gorm:"type:varchar(32);not null" json:"feature"`

	// Interpretation is per feature, see the pipeline package.
	InputRefs []string          `gorm:"serializer:json;type:text;not null" json:"input_refs"`
	Params    map[string]string `gorm:"serializer:json;type:text" json:"params,omitempty"`

	// Filled when completed
	OutputRef *string `gorm:"type:text" json:"output_ref"`

	Status Status `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt   time.Time  `gorm:"index;not null" json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (Job) TableName() string { return "jobs" }

// Param returns a side metadata value, or def when unset.
func (j *Job) Param(key, def string) string {
	if j.Params == nil {
		return def
	}
	if v, ok := j.Params[key]; ok && v != "" {
		return v
	}
	return def
}
