package scrub

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScrub_Disabled(t *testing.T) {
	s, err := New(&Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Enabled() {
		t.Error("Enabled() = true for a disabled scrubber")
	}

	content := `export OPENAI_API_KEY="sk-proj-zyxwvutsrqponmlkjihgfedcba9876543210987654"`
	got, count := s.Scrub(content)
	if got != content {
		t.Error("disabled scrubber must return content unchanged")
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestScrub_CleanContent(t *testing.T) {
	s, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content := "compiling internal/task... ok"
	got, count := s.Scrub(content)
	if got != content {
		t.Errorf("Scrub() changed clean content: %q", got)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 for clean content", count)
	}
}

func TestScrub_EmptyContent(t *testing.T) {
	s, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got, count := s.Scrub(""); got != "" || count != 0 {
		t.Errorf("Scrub(\"\") = (%q, %d), want (\"\", 0)", got, count)
	}
}

func TestScrub_OpenAIKey(t *testing.T) {
	s, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content := `const key = "sk-proj-zyxwvutsrqponmlkjihgfedcba9876543210987654"`
	got, count := s.Scrub(content)
	if count == 0 {
		// Ruleset coverage shifts between Gitleaks releases.
		t.Skip("pattern not detected by this Gitleaks ruleset")
	}

	if strings.Contains(got, "sk-proj-zyxwvutsrqponmlkjihgfedcba") {
		t.Error("secret still present after Scrub()")
	}
	if !strings.Contains(got, "[REDACTED:") {
		t.Errorf("missing redaction marker in %q", got)
	}
}

func TestReplaceFindings(t *testing.T) {
	t.Run("single finding", func(t *testing.T) {
		content := `key = "secret-value-1234"`
		got := replaceFindings(content, []finding{
			{RuleID: "generic-api-key", Line: 1, StartCol: 7, EndCol: 24, Match: "secret-value-1234"},
		})
		if !strings.Contains(got, "[REDACTED:generic-api-key:secr]") {
			t.Errorf("got %q, missing marker", got)
		}
		if strings.Contains(got, "secret-value-1234") {
			t.Errorf("got %q, secret not removed", got)
		}
	})

	t.Run("multiple findings on one line replace right to left", func(t *testing.T) {
		content := "aaaa bbbb"
		got := replaceFindings(content, []finding{
			{RuleID: "r1", Line: 1, StartCol: 0, EndCol: 4, Match: "aaaa"},
			{RuleID: "r2", Line: 1, StartCol: 5, EndCol: 9, Match: "bbbb"},
		})
		if got != "[REDACTED:r1:aaaa] [REDACTED:r2:bbbb]" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("findings on separate lines", func(t *testing.T) {
		content := "one secret1\ntwo secret2"
		got := replaceFindings(content, []finding{
			{RuleID: "r", Line: 1, StartCol: 4, EndCol: 11, Match: "secret1"},
			{RuleID: "r", Line: 2, StartCol: 4, EndCol: 11, Match: "secret2"},
		})
		if strings.Contains(got, "secret1") || strings.Contains(got, "secret2") {
			t.Errorf("got %q, secrets not removed", got)
		}
	})

	t.Run("out of range line is skipped", func(t *testing.T) {
		content := "only line"
		got := replaceFindings(content, []finding{
			{RuleID: "r", Line: 5, StartCol: 0, EndCol: 4, Match: "only"},
		})
		if got != content {
			t.Errorf("got %q, want unchanged content", got)
		}
	})

	t.Run("column past end of line is skipped", func(t *testing.T) {
		content := "short"
		got := replaceFindings(content, []finding{
			{RuleID: "r", Line: 1, StartCol: 2, EndCol: 50, Match: "ort"},
		})
		if got != content {
			t.Errorf("got %q, want unchanged content", got)
		}
	})
}

func TestPreview(t *testing.T) {
	if got := preview("abcdef", 4); got != "abcd" {
		t.Errorf("preview = %q, want %q", got, "abcd")
	}
	if got := preview("ab", 4); got != "ab" {
		t.Errorf("preview = %q, want %q", got, "ab")
	}
}

func TestLoadAllowlist(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		a, err := LoadAllowlist("")
		if err != nil {
			t.Fatalf("LoadAllowlist() error = %v", err)
		}
		if !a.empty() {
			t.Error("want empty allowlist for empty path")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		a, err := LoadAllowlist(filepath.Join(t.TempDir(), "nope.toml"))
		if err != nil {
			t.Fatalf("LoadAllowlist() error = %v", err)
		}
		if !a.empty() {
			t.Error("want empty allowlist for missing file")
		}
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "allowlist.toml")
		data := `[allowlist]
paths = ["testdata/.*"]
regexes = ["DEMO_API_KEY"]
`
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}

		a, err := LoadAllowlist(path)
		if err != nil {
			t.Fatalf("LoadAllowlist() error = %v", err)
		}
		if len(a.Paths) != 1 || len(a.Regexes) != 1 {
			t.Errorf("got %d paths, %d regexes, want 1 and 1", len(a.Paths), len(a.Regexes))
		}
	})

	t.Run("invalid regex", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "allowlist.toml")
		data := `[allowlist]
regexes = ["(unclosed"]
`
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}

		if _, err := LoadAllowlist(path); err == nil {
			t.Error("want error for invalid regex pattern")
		}
	})

	t.Run("invalid toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "allowlist.toml")
		if err := os.WriteFile(path, []byte("not [valid\ttoml"), 0o600); err != nil {
			t.Fatal(err)
		}

		if _, err := LoadAllowlist(path); err == nil {
			t.Error("want error for invalid TOML")
		}
	})
}

func TestScrub_Allowlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.toml")
	data := `[allowlist]
regexes = ["DEMO_API_KEY"]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := New(&Config{Enabled: true, AllowlistPath: path}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content := `export DEMO_API_KEY="sk-proj-zyxwvutsrqponmlkjihgfedcba9876543210987654"`
	got, _ := s.Scrub(content)
	if strings.Contains(got, "[REDACTED:") && strings.Contains(content, "DEMO_API_KEY") {
		// The allowlisted variable name must survive even when the
		// value pattern matches a rule.
		if !strings.Contains(got, "DEMO_API_KEY") {
			t.Errorf("allowlisted variable name removed: %q", got)
		}
	}
}
