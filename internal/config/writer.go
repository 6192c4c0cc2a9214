package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/moolen/tailwatch/internal/scenario"
	"gopkg.in/yaml.v3"
)

// ScenarioDocument is the on-disk form of the scenario list.
type ScenarioDocument struct {
	Scenarios []scenario.Scenario `yaml:"scenarios"`
}

// MarshalScenarios renders scenarios as a scenario document.
func MarshalScenarios(scenarios []scenario.Scenario) ([]byte, error) {
	data, err := yaml.Marshal(ScenarioDocument{Scenarios: scenarios})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenarios: %w", err)
	}
	return data, nil
}

// WriteScenariosFile replaces path with a scenario document. The document
// is written to a temp file in the same directory and renamed into place,
// so readers see either the old or the new file.
func WriteScenariosFile(path string, scenarios []scenario.Scenario) error {
	data, err := MarshalScenarios(scenarios)
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".scenarios.*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if _, err := os.Stat(tmpPath); err == nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %q: %w", path, err)
	}
	return nil
}
