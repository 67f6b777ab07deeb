package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chdir moves into dir for the duration of the test so the search path
// cannot pick up the repository's own config.yaml.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestFindConfigExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	t.Run("existing", func(t *testing.T) {
		got, err := FindConfig(path)
		if err != nil {
			t.Fatalf("FindConfig: %v", err)
		}
		if got != path {
			t.Errorf("got %q, want %q", got, path)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
			t.Fatal("an explicit path that does not exist must be an error, not a fallthrough")
		}
	})
}

func TestFindConfigSearch(t *testing.T) {
	t.Run("nothing anywhere", func(t *testing.T) {
		chdir(t, t.TempDir())
		if _, err := FindConfig(""); err == nil {
			t.Fatal("want an error when no candidate file exists")
		}
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600)
		chdir(t, dir)

		got, err := FindConfig("")
		if err != nil {
			t.Fatalf("FindConfig: %v", err)
		}
		if got != "config.yaml" {
			t.Errorf("got %q, want config.yaml", got)
		}
	})
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("backboard:\n  api_key: ${DOCKET_TEST_KEY}\n"), 0600)
	os.Setenv("DOCKET_TEST_KEY", "secret123")
	defer os.Unsetenv("DOCKET_TEST_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Backboard.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Backboard.APIKey, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("backboard:\n  api_key: bb-test\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("listen.port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Backboard.BaseURL != "https://app.backboard.io/api" {
		t.Errorf("backboard.base_url = %q", cfg.Backboard.BaseURL)
	}
	if cfg.Backboard.LLMProvider != "openai" || cfg.Backboard.ModelName != "gpt-4o-mini" {
		t.Errorf("model defaults = %q/%q", cfg.Backboard.LLMProvider, cfg.Backboard.ModelName)
	}
	if cfg.Agent.SessionTTLMinutes != 120 {
		t.Errorf("session_ttl_minutes = %d, want 120", cfg.Agent.SessionTTLMinutes)
	}
	if cfg.Mailbox.Port != 993 || cfg.Mailbox.Folder != "INBOX" {
		t.Errorf("mailbox defaults = %d/%q", cfg.Mailbox.Port, cfg.Mailbox.Folder)
	}
}

func TestLoad_RejectsBadLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: shout\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load with bad log_level should error")
	}
}

func TestValidate_GitHubRepoShape(t *testing.T) {
	cfg := Default()
	cfg.GitHub.Enabled = true
	cfg.GitHub.Repo = "not-a-repo"
	cfg.GitHub.Owner = "alice"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should reject github.repo without owner/name shape")
	}

	cfg.GitHub.Repo = "nugget/docket-ai-agent"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate rejected valid github config: %v", err)
	}
}
