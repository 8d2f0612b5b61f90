// Package progress infers a 0..100 build progress value from the output of
// the build script.
package progress

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Marker maps a line of script output to a progress change. A marker either
// jumps to a checkpoint (Set) or adds Step up to Max.
type Marker struct {
	Name     string   `yaml:"name"`
	Contains []string `yaml:"contains"`
	Set      int      `yaml:"set,omitempty"`
	Step     int      `yaml:"step,omitempty"`
	Max      int      `yaml:"max,omitempty"`
}

func (m Marker) matches(line string) bool {
	for _, s := range m.Contains {
		if s != "" && strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// Rules is an ordered marker list; the first match wins.
type Rules struct {
	Markers []Marker `yaml:"markers"`
}

// Default returns the built-in rule set.
func Default() *Rules {
	r, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("progress: built-in rules: %v", err))
	}
	return r
}

// Load reads a rule file. An empty path yields the built-in rules.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read progress rules: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse progress rules: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) validate() error {
	if len(r.Markers) == 0 {
		return errors.New("progress rules: no markers")
	}
	for i, m := range r.Markers {
		if len(m.Contains) == 0 {
			return fmt.Errorf("progress rules: marker %d (%s) has no contains", i, m.Name)
		}
		if (m.Set == 0) == (m.Step == 0) {
			return fmt.Errorf("progress rules: marker %d (%s) needs exactly one of set or step", i, m.Name)
		}
		if m.Set < 0 || m.Set > 100 || m.Step < 0 || m.Max < 0 || m.Max > 100 {
			return fmt.Errorf("progress rules: marker %d (%s) out of range", i, m.Name)
		}
	}
	return nil
}

// Match returns the first marker whose text appears in line.
func (r *Rules) Match(line string) (Marker, bool) {
	for _, m := range r.Markers {
		if m.matches(line) {
			return m, true
		}
	}
	return Marker{}, false
}

// Apply returns the progress after observing line. The result never drops
// below current and never exceeds 100.
func (r *Rules) Apply(current int, line string) int {
	m, ok := r.Match(line)
	if !ok {
		return current
	}

	next := current
	if m.Set > 0 {
		next = m.Set
	} else {
		limit := m.Max
		if limit == 0 {
			limit = 100
		}
		next = current + m.Step
		if next > limit {
			next = limit
		}
	}

	if next < current {
		next = current
	}
	if next > 100 {
		next = 100
	}
	return next
}
