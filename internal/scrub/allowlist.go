package scrub

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist contains path and content regex patterns excluded from
// secret detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlist reads a TOML allowlist file. A missing file or an empty
// path yields an empty allowlist; invalid TOML or regex patterns are
// errors.
//
// The file shape matches .gitleaks.toml:
//
//	[allowlist]
//	paths = ["testdata/.*"]
//	regexes = ["DEMO_API_KEY"]
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}

	var doc struct {
		Allowlist Allowlist
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("parse allowlist %s: %w", path, err)
	}

	list := doc.Allowlist
	// Bad patterns fail here so they never reach the detector.
	if err := checkPatterns("path", list.Paths, path); err != nil {
		return nil, err
	}
	if err := checkPatterns("content", list.Regexes, path); err != nil {
		return nil, err
	}
	return &list, nil
}

func checkPatterns(kind string, patterns []string, path string) error {
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid %s pattern %q in %s: %w", kind, p, path, err)
		}
	}
	return nil
}

func (a *Allowlist) empty() bool {
	return a == nil || (len(a.Paths) == 0 && len(a.Regexes) == 0)
}
