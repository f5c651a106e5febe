// Package display resolves the season, round, game type and session labels
// shown to customers and sent to the payment provider. The labels are data:
// a versioned YAML document, embedded by default and replaceable at runtime.
package display

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTables []byte

type Tables struct {
	Version    string            `yaml:"version"`
	Seasons    map[string]string `yaml:"seasons"`
	Rounds     map[string]string `yaml:"rounds"`
	GameTypes  map[string]string `yaml:"game_types"`
	DayOrNight map[string]string `yaml:"day_or_night"`
}

// Load reads the tables at path, or the embedded defaults when path is empty.
func Load(path string) (*Tables, error) {
	data := defaultTables
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read display tables: %w", err)
		}
	}
	return Parse(data)
}

func Parse(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse display tables: %w", err)
	}
	if t.Version == "" {
		return nil, fmt.Errorf("display tables missing version")
	}
	return &t, nil
}

// Unknown codes fall back to the code itself.
func lookup(m map[string]string, code string) string {
	if v, ok := m[code]; ok {
		return v
	}
	return code
}

func (t *Tables) Season(code string) string { return lookup(t.Seasons, code) }
func (t *Tables) Round(code string) string { return lookup(t.Rounds, code) }
func (t *Tables) GameType(code string) string { return lookup(t.GameTypes, code) }
func (t *Tables) Session(code string) string { return lookup(t.DayOrNight, code) }
