package director

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Marshal encodes a scenario as YAML.
func Marshal(scenario *Scenario) ([]byte, error) {
	return yaml.Marshal(scenario)
}

// Unmarshal decodes a YAML scenario.
func Unmarshal(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// WriteScenario writes a scenario to a YAML file
func WriteScenario(scenario *Scenario, path string) error {
	data, err := Marshal(scenario)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// ReadScenario reads a scenario from a YAML file
func ReadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	scenario, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse storyboard %s: %w", path, err)
	}

	return scenario, nil
}
