package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/corradofrancolini/chatbot-tester/internal/engine"
)

// Suite is the on-disk test suite format.
type Suite struct {
	Name  string            `yaml:"name,omitempty"`
	Tests []engine.TestCase `yaml:"tests"`
}

// LoadSuite parses a YAML test suite and checks the minimum each test
// needs to run.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite %s: %w", path, err)
	}

	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parse suite %s: %w", path, err)
	}
	if len(suite.Tests) == 0 {
		return nil, fmt.Errorf("suite %s contains no tests", path)
	}

	seen := make(map[string]bool, len(suite.Tests))
	for i, tc := range suite.Tests {
		if tc.ID == "" {
			return nil, fmt.Errorf("suite %s: test %d has no id", path, i)
		}
		if tc.Question == "" {
			return nil, fmt.Errorf("suite %s: test %q has no question", path, tc.ID)
		}
		if seen[tc.ID] {
			return nil, fmt.Errorf("suite %s: duplicate test id %q", path, tc.ID)
		}
		seen[tc.ID] = true
	}
	return &suite, nil
}
