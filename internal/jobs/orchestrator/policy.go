package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk shape of STEP_POLICY_FILE:
//
//	default:
//	  max_attempts: 5
//	  min_backoff: 2s
//	steps:
//	  generate-layers:
//	    timeout: 10m
//	  upload-output-*:
//	    max_attempts: 8
type PolicyFile struct {
	Default RetryPolicy            `yaml:"default"`
	Steps   map[string]RetryPolicy `yaml:"steps"`
}

// LoadPolicyFile reads per-step retry overrides. An empty path yields an empty file.
func LoadPolicyFile(path string) (PolicyFile, error) {
	var pf PolicyFile
	path = strings.TrimSpace(path)
	if path == "" {
		return pf, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return pf, fmt.Errorf("read step policy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return pf, fmt.Errorf("parse step policy file %s: %w", path, err)
	}
	for name, p := range pf.Steps {
		if p.MaxAttempts < 0 || p.MinBackoff < 0 || p.MaxBackoff < 0 || p.Timeout < 0 {
			return pf, fmt.Errorf("step policy %q: negative values are not allowed", name)
		}
	}
	return pf, nil
}

// Apply layers pf over base and returns the job default and step overrides.
func (pf PolicyFile) Apply(base RetryPolicy) (RetryPolicy, map[string]RetryPolicy) {
	def := pf.Default.merge(base)
	steps := make(map[string]RetryPolicy, len(pf.Steps))
	for name, p := range pf.Steps {
		steps[name] = p
	}
	return def, steps
}
