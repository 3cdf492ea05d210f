package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadThreshold reads a calibrated decision threshold from a JSON file of
// the form {"threshold": 0.42}. An empty path returns DefaultThreshold.
func LoadThreshold(path string) (float64, error) {
	if path == "" {
		return DefaultThreshold, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted configuration
	if err != nil {
		return 0, fmt.Errorf("read threshold %s: %w", path, err)
	}

	var v struct {
		Threshold *float64 `json:"threshold"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("parse threshold %s: %w", path, err)
	}
	if v.Threshold == nil || *v.Threshold <= 0 || *v.Threshold >= 1 {
		return 0, fmt.Errorf("%s: %w", path, ErrInvalidThreshold)
	}
	return *v.Threshold, nil
}
