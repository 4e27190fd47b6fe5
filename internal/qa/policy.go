package qa

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Policy holds the thresholds a gate judges QA reports against.
type Policy struct {
	// MaxMajorIssues is how many major issues a report may carry
	// before it fails.
	MaxMajorIssues int `toml:"max_major_issues"`
	// FailOnCritical fails any report carrying a critical issue.
	FailOnCritical bool `toml:"fail_on_critical"`
	// Notes is free-form operator text, surfaced in logs on reload.
	Notes string `toml:"notes"`
}

// DefaultPolicy tolerates no major or critical issues.
func DefaultPolicy() Policy {
	return Policy{
		MaxMajorIssues: 0,
		FailOnCritical: true,
	}
}

// LoadPolicy reads a TOML policy file. An empty path or missing file
// yields the defaults; a present but unparsable file is an error.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return policy, fmt.Errorf("stat qa policy: %w", err)
	}

	if _, err := toml.DecodeFile(path, &policy); err != nil {
		return DefaultPolicy(), fmt.Errorf("parse qa policy %s: %w", path, err)
	}
	if policy.MaxMajorIssues < 0 {
		return DefaultPolicy(), fmt.Errorf("qa policy %s: max_major_issues must be >= 0", path)
	}
	return policy, nil
}
