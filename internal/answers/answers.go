// Package answers replays a scripted storage configuration.
//
// An answers file selects a guided layout or lists manual actions. Actions
// address entities with token lists such as ["disk index 0", "part index 1"],
// ["raid name md0"] or ["volgroup name vg0"].
package answers

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/osbuild/osbuild-storage/internal/storage"
)

type Answers struct {
	Guided       bool     `yaml:"guided"`
	GuidedIndex  int      `yaml:"guided-index"`
	GuidedMethod string   `yaml:"guided-method"`
	Manual       []Action `yaml:"manual"`
}

type Action struct {
	Obj    []string               `yaml:"obj,omitempty"`
	Action string                 `yaml:"action"`
	Data   map[string]interface{} `yaml:"data,omitempty"`
}

// Load reads an answers file.
func Load(path string) (*Answers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read answers")
	}
	return Parse(data)
}

func Parse(data []byte) (*Answers, error) {
	a := Answers{GuidedMethod: storage.GuidedDirect}
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrap(err, "cannot parse answers")
	}
	if a.GuidedIndex < 0 {
		return nil, errors.Errorf("invalid guided-index %d", a.GuidedIndex)
	}
	return &a, nil
}
