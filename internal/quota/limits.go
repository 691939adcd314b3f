package quota

import (
	"fmt"
	"os"

	"github.com/suPer8Hu/intelliavatar/internal/job"
	"gopkg.in/yaml.v3"
)

type limitsFile struct {
	Limits map[string]int `yaml:"limits"`
}

// LoadLimits reads per-feature ceilings from a YAML file and applies them on
// top of DefaultLimits:
//
//	limits:
//	  lip_sync: 10
//	  slide_narration: 3
func LoadLimits(path string) (Limits, error) {
	limits := DefaultLimits()
	if path == "" {
		return limits, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quota file: %w", err)
	}
	var f limitsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse quota file: %w", err)
	}
	for name, n := range f.Limits {
		feature := job.Feature(name)
		if !feature.Valid() {
			return nil, fmt.Errorf("quota file: unknown feature %q", name)
		}
		if n < 0 {
			return nil, fmt.Errorf("quota file: negative limit for %s", name)
		}
		limits[feature] = n
	}
	return limits, nil
}
