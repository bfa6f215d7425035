package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// JobConfig is the per-manifest configuration, read from a YAML sidecar
// next to the CSV (iowa.yaml for iowa.csv). Missing fields take defaults:
// no cost ceiling, zero scrape delay, no restart.
type JobConfig struct {
	// Instructions is inline markdown appended to the system prompt.
	Instructions string `yaml:"instructions"`
	// MaxCost is the spend ceiling in USD. Zero means unlimited.
	MaxCost float64 `yaml:"max_cost"`
	// ScrapeDelay is the pause in seconds between page scrapes.
	ScrapeDelay float64 `yaml:"scrape_delay"`
	// Restart clears all existing alt text before the run.
	Restart bool `yaml:"restart"`
}

// LoadJobConfig reads a JobConfig from a YAML file.
func LoadJobConfig(path string) (JobConfig, error) {
	var jc JobConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return jc, eris.Wrapf(err, "config: read job file %s", path)
	}

	if err := yaml.Unmarshal(data, &jc); err != nil {
		return jc, eris.Wrapf(err, "config: parse job file %s", path)
	}

	return jc, nil
}

// JobConfigForManifest looks for a sidecar YAML matching the manifest name
// and loads it. Returns a zero-value config when no sidecar exists.
func JobConfigForManifest(csvPath string) (JobConfig, error) {
	base := strings.TrimSuffix(csvPath, filepath.Ext(csvPath))
	sidecar := base + ".yaml"

	if _, err := os.Stat(sidecar); os.IsNotExist(err) {
		return JobConfig{}, nil
	}

	return LoadJobConfig(sidecar)
}
