package experiment

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// ErrInsufficientNames is returned in strict mode when a class list has fewer
// than TrialsPerClass names left for the requested experiment id.
var ErrInsufficientNames = errors.New("not enough image names for experiment")

// ErrAmbiguousName is returned when a marker-prefixed raw identifier would
// not be recovered from its output image name by ParseName.
var ErrAmbiguousName = errors.New("image name does not round-trip")

// Params are the inputs of one generation run.
type Params struct {
	SubjectID      int
	ExperimentID   int
	Seed           int64
	TrialsPerClass int
	// Strict turns a short class window into an error instead of a smaller
	// contribution from that class.
	Strict bool
}

// Shortfall records a class that contributed fewer trials than requested.
type Shortfall struct {
	Category  string
	Available int
	Requested int
}

func (p Params) validate() error {
	if p.TrialsPerClass <= 0 {
		return fmt.Errorf("trials per class must be positive, got %d", p.TrialsPerClass)
	}
	if p.ExperimentID < 0 {
		return fmt.Errorf("experiment id must be >= 0, got %d", p.ExperimentID)
	}
	if p.SubjectID < 0 || p.SubjectID > 9 {
		return fmt.Errorf("subject id must be a single digit, got %d", p.SubjectID)
	}
	return nil
}

// Generate builds the definition for p from the class lists. rng drives the
// trial permutation; when nil a generator seeded with p.Seed is used, so the
// same inputs and seed always give the same trial order.
func Generate(classes []ClassList, p Params, rng *rand.Rand) (Definition, []Shortfall, error) {
	if err := p.validate(); err != nil {
		return Definition{}, nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(p.Seed))
	}
	start := p.ExperimentID * p.TrialsPerClass
	end := start + p.TrialsPerClass

	var trials []Trial
	var short []Shortfall
	for _, c := range classes {
		if strings.TrimSpace(c.Category) == "" {
			return Definition{}, nil, fmt.Errorf("class list with empty category")
		}
		window := slice(c.Names, start, end)
		if len(window) < p.TrialsPerClass {
			sf := Shortfall{Category: c.Category, Available: len(window), Requested: p.TrialsPerClass}
			if p.Strict {
				return Definition{}, nil, fmt.Errorf("%w: class %s has %d of %d names in [%d,%d)",
					ErrInsufficientNames, c.Category, sf.Available, sf.Requested, start, end)
			}
			short = append(short, sf)
		}
		for _, name := range window {
			trials = append(trials, Trial{ImageName: name, Category: c.Category})
		}
	}

	rng.Shuffle(len(trials), func(i, j int) { trials[i], trials[j] = trials[j], trials[i] })
	for i := range trials {
		trials[i].TrialID = i + 1
		trials[i].FullImageName = Name(i, p.SubjectID, trials[i].Category, p.Seed, trials[i].ImageName)
		if err := checkRoundTrip(trials[i]); err != nil {
			return Definition{}, nil, err
		}
	}
	if trials == nil {
		trials = []Trial{}
	}

	return Definition{
		Version:        Version,
		SubjectID:      p.SubjectID,
		ExperimentID:   p.ExperimentID,
		RandomSeed:     p.Seed,
		TrialsPerClass: p.TrialsPerClass,
		TotalTrials:    len(trials),
		Trials:         trials,
	}, short, nil
}

// checkRoundTrip only applies to identifiers carrying the default marker;
// other identifiers are resolved through definitions or the ledger.
func checkRoundTrip(tr Trial) error {
	if !strings.HasPrefix(tr.ImageName, DefaultMarker) {
		return nil
	}
	raw, err := RawName(tr.FullImageName, DefaultMarker)
	if err != nil || raw != tr.ImageName {
		return fmt.Errorf("%w: %s (category %s)", ErrAmbiguousName, tr.ImageName, tr.Category)
	}
	return nil
}

func slice(names []string, start, end int) []string {
	if start >= len(names) {
		return nil
	}
	if end > len(names) {
		end = len(names)
	}
	return names[start:end]
}
