package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"stimkit/internal/stage"
)

// Version is the definition format version.
const Version = 1.0

var (
	// ErrDefinitionExists is returned when a definition file is already present.
	ErrDefinitionExists = errors.New("experiment definition already exists")
	// ErrInvalidDefinition is returned when a definition violates its invariants.
	ErrInvalidDefinition = errors.New("invalid experiment definition")
)

// Trial is one presentation of an image.
type Trial struct {
	ImageName     string `json:"image_name"`
	Category      string `json:"category"`
	TrialID       int    `json:"trial_id"`
	FullImageName string `json:"full_image_name"`
}

// Definition fully specifies trial order and naming for one subject and
// experiment.
type Definition struct {
	Version        float64 `json:"version"`
	SubjectID      int     `json:"subject_id"`
	ExperimentID   int     `json:"experiment_id"`
	RandomSeed     int64   `json:"random_seed"`
	TrialsPerClass int     `json:"num_trials_per_class"`
	TotalTrials    int     `json:"num_total_trials"`
	Trials         []Trial `json:"trials"`
}

// FileName is the conventional file name of a definition.
func FileName(experimentID, subjectID int) string {
	return fmt.Sprintf("exp_%d_subject_%d.json", experimentID, subjectID)
}

// Validate checks the document invariants: total matches the trial list and
// trial ids are 1..N in order.
func (d Definition) Validate() error {
	if d.TotalTrials != len(d.Trials) {
		return fmt.Errorf("%w: num_total_trials=%d but %d trials", ErrInvalidDefinition, d.TotalTrials, len(d.Trials))
	}
	for i, tr := range d.Trials {
		if tr.TrialID != i+1 {
			return fmt.Errorf("%w: trials[%d] has trial_id %d", ErrInvalidDefinition, i, tr.TrialID)
		}
		if tr.ImageName == "" || tr.FullImageName == "" {
			return fmt.Errorf("%w: trials[%d] missing image names", ErrInvalidDefinition, i)
		}
	}
	return nil
}

// ImageIndex maps each full_image_name to its raw image name.
func (d Definition) ImageIndex() map[string]string {
	idx := make(map[string]string, len(d.Trials))
	for _, tr := range d.Trials {
		idx[tr.FullImageName] = tr.ImageName
	}
	return idx
}

// WriteDefinition serializes def to path. It never replaces an existing file.
func WriteDefinition(path string, def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, ErrDefinitionExists)
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	data = append(data, '\n')
	if err := stage.WriteFileAtomic(path, data, 0o644); err != nil {
		if errors.Is(err, stage.ErrTargetExists) {
			return fmt.Errorf("%s: %w", path, ErrDefinitionExists)
		}
		return fmt.Errorf("write definition: %w", err)
	}
	return nil
}

// ReadDefinition loads and validates a definition file.
func ReadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Definition{}, fmt.Errorf("read definition: %w", err)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse definition %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
