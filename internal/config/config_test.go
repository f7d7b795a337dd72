package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAcceptsValidSystemAgent(t *testing.T) {
	path := writeConfig(t, `
app:
  name: rmcdialer
  env: test
sweeper:
  system_agent_id: 2f9c1f6e-1c7b-4b27-9c3e-4a9a67d25c11
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sweeper.SystemAgentID != "2f9c1f6e-1c7b-4b27-9c3e-4a9a67d25c11" {
		t.Errorf("system agent id = %q", cfg.Sweeper.SystemAgentID)
	}
}

func TestLoadRejectsBadSystemAgent(t *testing.T) {
	cases := map[string]string{
		"garbage": `
sweeper:
  system_agent_id: not-a-uuid
`,
		"missing": `
app:
  name: rmcdialer
`,
	}

	for name, body := range cases {
		path := writeConfig(t, body)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}
