package appointment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSpecialty is the fallback key of a DurationPolicy.
const DefaultSpecialty = "default"

// DurationRange is an inclusive [Min, Max] session length in minutes.
type DurationRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (r DurationRange) Contains(minutes int) bool {
	return minutes >= r.Min && minutes <= r.Max
}

// DurationPolicy maps a specialty to its allowed session length. It is
// immutable once built.
type DurationPolicy struct {
	fallback DurationRange
	ranges   map[string]DurationRange
}

// NewDurationPolicy copies the given table. The fallback entry is required.
func NewDurationPolicy(fallback DurationRange, specialties map[string]DurationRange) (DurationPolicy, error) {
	if err := checkRange(DefaultSpecialty, fallback); err != nil {
		return DurationPolicy{}, err
	}

	ranges := make(map[string]DurationRange, len(specialties))
	for k, r := range specialties {
		key := normalizeSpecialty(k)
		if key == "" || key == DefaultSpecialty {
			continue
		}
		if err := checkRange(key, r); err != nil {
			return DurationPolicy{}, err
		}
		ranges[key] = r
	}

	return DurationPolicy{fallback: fallback, ranges: ranges}, nil
}

// DefaultDurationPolicy returns the built-in table.
func DefaultDurationPolicy() DurationPolicy {
	p, err := NewDurationPolicy(DurationRange{Min: 30, Max: 90}, map[string]DurationRange{
		"psiquiatria":            {Min: 20, Max: 60},
		"psicologia_clinica":     {Min: 45, Max: 60},
		"infanto_juvenil":        {Min: 40, Max: 60},
		"pareja_familia":         {Min: 50, Max: 90},
		"neuropsicologia":        {Min: 45, Max: 120},
		"evaluacion_psicologica": {Min: 60, Max: 180},
	})
	if err != nil {
		panic(err)
	}
	return p
}

type policyFile struct {
	Default     *DurationRange           `yaml:"default"`
	Specialties map[string]DurationRange `yaml:"specialties"`
}

// LoadDurationPolicy parses a YAML policy document.
func LoadDurationPolicy(r io.Reader) (DurationPolicy, error) {
	var f policyFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return DurationPolicy{}, fmt.Errorf("decode duration policy: %w", err)
	}
	if f.Default == nil {
		return DurationPolicy{}, errors.New("duration policy: missing default entry")
	}
	return NewDurationPolicy(*f.Default, f.Specialties)
}

// LoadDurationPolicyFile reads the policy from path, or returns the built-in
// table when path is empty.
func LoadDurationPolicyFile(path string) (DurationPolicy, error) {
	if path == "" {
		return DefaultDurationPolicy(), nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return DurationPolicy{}, fmt.Errorf("open duration policy: %w", err)
	}
	defer fh.Close()
	return LoadDurationPolicy(fh)
}

// Resolve returns the range for specialty, falling back to the default entry
// when the specialty is empty or not configured.
func (p DurationPolicy) Resolve(specialty string) DurationRange {
	if r, ok := p.ranges[normalizeSpecialty(specialty)]; ok {
		return r
	}
	return p.fallback
}

// Check validates minutes against the range resolved for specialty.
func (p DurationPolicy) Check(specialty string, minutes int) error {
	if minutes <= 0 {
		return &ValidationError{Field: "duration_minutes", Reason: "must be positive"}
	}
	r := p.Resolve(specialty)
	if !r.Contains(minutes) {
		label := specialty
		if label == "" {
			label = DefaultSpecialty
		}
		return &ValidationError{
			Field:  "duration_minutes",
			Reason: fmt.Sprintf("outside policy for specialty %q", label),
			Min:    r.Min,
			Max:    r.Max,
		}
	}
	return nil
}

func normalizeSpecialty(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func checkRange(key string, r DurationRange) error {
	if r.Min <= 0 || r.Max < r.Min {
		return fmt.Errorf("duration policy %q: invalid range %d-%d", key, r.Min, r.Max)
	}
	return nil
}
