// Package scrub removes secrets from build output before it is stored
// or published. Detection uses the Gitleaks ruleset; matches are
// replaced with [REDACTED:rule-id:preview] markers that keep enough
// context to tell what was removed without exposing it.
package scrub

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

// Config controls detection and the allowlist source.
type Config struct {
	// Enabled toggles detection. When false, Scrub returns content
	// unchanged.
	Enabled bool
	// AllowlistPath is an optional TOML file of patterns to exclude
	// from detection. A missing file is ignored.
	AllowlistPath string
}

// DefaultConfig returns the default scrubber configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
	}
}

// Scrubber detects and redacts secrets in text. The Gitleaks detector
// is compiled once at construction; Scrub itself is cheap enough for
// per-line use on build output.
type Scrubber struct {
	config *Config
	logger *zap.Logger

	// Serializes access to the detector, which is not documented as
	// safe for concurrent use.
	mu       sync.Mutex
	detector *detect.Detector
}

// New creates a Scrubber. Construction compiles the full Gitleaks
// ruleset plus any configured allowlist.
func New(cfg *Config, logger *zap.Logger) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scrubber{
		config: cfg,
		logger: logger,
	}
	if !cfg.Enabled {
		return s, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create secret detector: %w", err)
	}

	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("load scrub allowlist: %w", err)
	}
	if !allowlist.empty() {
		applyAllowlist(&detector.Config, allowlist)
		s.logger.Debug("scrub allowlist loaded",
			zap.String("path", cfg.AllowlistPath),
			zap.Int("paths", len(allowlist.Paths)),
			zap.Int("regexes", len(allowlist.Regexes)),
		)
	}

	s.detector = detector
	return s, nil
}

// Scrub replaces every detected secret in content with a redaction
// marker. It returns the scrubbed content and the number of findings.
func (s *Scrubber) Scrub(content string) (string, int) {
	if s.detector == nil || content == "" {
		return content, 0
	}

	s.mu.Lock()
	detected := s.detector.DetectString(content)
	s.mu.Unlock()

	if len(detected) == 0 {
		return content, 0
	}

	findings := make([]finding, 0, len(detected))
	for _, f := range detected {
		findings = append(findings, finding{
			RuleID:   f.RuleID,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}

	return replaceFindings(content, findings), len(findings)
}

// Enabled reports whether detection is active.
func (s *Scrubber) Enabled() bool {
	return s.detector != nil
}

type finding struct {
	RuleID   string
	Line     int
	StartCol int
	EndCol   int
	Match    string
}

// replaceFindings substitutes redaction markers for secrets, working
// backwards through the findings so earlier replacements do not shift
// the positions of later ones. Line numbers are 1-indexed.
func replaceFindings(content string, findings []finding) string {
	sorted := make([]finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")
	for _, f := range sorted {
		if f.Line < 1 || f.Line > len(lines) {
			continue
		}
		line := lines[f.Line-1]

		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match, 4))
		if f.StartCol >= 0 && f.EndCol <= len(line) && f.StartCol <= f.EndCol {
			lines[f.Line-1] = line[:f.StartCol] + marker + line[f.EndCol:]
		}
	}
	return strings.Join(lines, "\n")
}

// preview returns the first n characters of s.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
// Patterns were validated at load time, so compilation cannot fail.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "loomd build-log allowlist",
	}
	for _, pattern := range allowlist.Paths {
		re := regexp.MustCompile(pattern)
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, pattern := range allowlist.Regexes {
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}
