package keyword

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Model describes the wake phrases a keyword-spotting activation listens for.
type Model struct {
	Name     string   `yaml:"name"`
	Phrases  []string `yaml:"phrases"`
	// FollowUps is how many utterances after a match are delivered as well.
	FollowUps int `yaml:"follow_ups"`
}

// FromPhrases builds a model that delivers the matching utterance and the one after it.
func FromPhrases(phrases ...string) (*Model, error) {
	m := &Model{Name: "inline", Phrases: phrases, FollowUps: 1}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// FromFile loads a YAML keyword model, for example:
//
//	name: orion
//	phrases: ["hey orion", "ok orion"]
//	follow_ups: 1
func FromFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword model %s: %w", path, err)
	}

	m := &Model{FollowUps: 1}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse keyword model %s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(baseName(path), ".yaml")
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("keyword model %s: %w", path, err)
	}
	return m, nil
}

func (m *Model) Validate() error {
	if m == nil {
		return errors.New("keyword model is nil")
	}
	count := 0
	for _, p := range m.Phrases {
		if normalize(p) != "" {
			count++
		}
	}
	if count == 0 {
		return errors.New("keyword model has no phrases")
	}
	if m.FollowUps < 0 {
		return errors.New("follow_ups must be non-negative")
	}
	return nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
