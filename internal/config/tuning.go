package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/candela-labs/convoscope/internal/promptstrip"
	"github.com/candela-labs/convoscope/internal/toolnorm"
)

// Tuning bundles the empirically-chosen pipeline constants. Every value
// defaults to the production calibration; a YAML file overrides only the
// keys it sets.
type Tuning struct {
	PromptDetection promptstrip.Tuning `yaml:"prompt_detection"`
	ToolDedup       toolnorm.Tuning    `yaml:"tool_dedup"`
}

func DefaultTuning() Tuning {
	return Tuning{
		PromptDetection: promptstrip.DefaultTuning(),
		ToolDedup:       toolnorm.DefaultTuning(),
	}
}

// LoadTuning reads the optional tuning file. An empty path returns the
// defaults.
func LoadTuning(path string) (Tuning, error) {
	tuning := DefaultTuning()
	if path == "" {
		return tuning, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tuning, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &tuning); err != nil {
		return tuning, fmt.Errorf("parse tuning file: %w", err)
	}
	return tuning, nil
}
