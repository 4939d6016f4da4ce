package actions

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed classification.yaml
var defaultClassificationYAML []byte

// Classification records which actions cannot change the page. Any name it
// does not list as safe is treated as mutating.
type Classification struct {
	safe map[string]bool
}

type classificationFile struct {
	Safe     []string `yaml:"safe"`
	Mutating []string `yaml:"mutating"`
}

// ParseClassification decodes a YAML document with safe and mutating lists.
// A name may not appear in both.
func ParseClassification(data []byte) (*Classification, error) {
	var f classificationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse action classification: %w", err)
	}

	c := &Classification{safe: make(map[string]bool, len(f.Safe))}
	for _, name := range f.Safe {
		c.safe[name] = true
	}
	for _, name := range f.Mutating {
		if c.safe[name] {
			return nil, fmt.Errorf("action %q is classified as both safe and mutating", name)
		}
	}
	return c, nil
}

var (
	defaultOnce           sync.Once
	defaultClassification *Classification
)

// DefaultClassification returns the embedded classification table.
func DefaultClassification() *Classification {
	defaultOnce.Do(func() {
		c, err := ParseClassification(defaultClassificationYAML)
		if err != nil {
			panic(err)
		}
		defaultClassification = c
	})
	return defaultClassification
}

// Override returns a copy with the given names moved to safe or mutating.
// Mutating wins when a name is in both lists.
func (c *Classification) Override(safe, mutating []string) *Classification {
	out := &Classification{safe: make(map[string]bool, len(c.safe)+len(safe))}
	for name := range c.safe {
		out.safe[name] = true
	}
	for _, name := range safe {
		out.safe[name] = true
	}
	for _, name := range mutating {
		delete(out.safe, name)
	}
	return out
}

// IsSafe reports whether name is known not to mutate the page.
func (c *Classification) IsSafe(name string) bool {
	if c == nil {
		return false
	}
	return c.safe[name]
}

// Safe returns the safe action names, sorted.
func (c *Classification) Safe() []string {
	names := make([]string, 0, len(c.safe))
	for name := range c.safe {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
