//go:build !darwin

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileBackend_RefusesSecrets(t *testing.T) {
	b := openFileBackend(filepath.Join(t.TempDir(), "config.json"))

	err := b.SetString("bluesky.app_password", "hunter2")
	if err == nil || !strings.Contains(err.Error(), "secret") {
		t.Fatalf("expected secret refusal, got %v", err)
	}
	if _, err := os.Stat(b.path); !os.IsNotExist(err) {
		t.Errorf("config file written for a refused secret: %v", err)
	}
}

func TestFileBackend_NormalizesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	b := openFileBackend(path)

	if err := b.SetString("agent.bot_handle", "@CheshBot.bsky.social"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := b.SetInt("dashboard.port", 4100); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("agent.target_handle", "aixbt_agent"); err == nil {
		t.Error("expected error for a handle without a domain")
	}
	if err := b.SetString("dashboard.port", "4100"); err == nil {
		t.Error("expected type mismatch error")
	}

	reopened := openFileBackend(path)
	if v, ok, _ := reopened.GetString("agent.bot_handle"); !ok || v != "cheshbot.bsky.social" {
		t.Errorf("agent.bot_handle = %q, %v; want cheshbot.bsky.social", v, ok)
	}
	if v, ok, err := reopened.GetInt("dashboard.port"); err != nil || !ok || v != 4100 {
		t.Errorf("dashboard.port = %d, %v, %v; want 4100", v, ok, err)
	}
	if _, ok, _ := reopened.GetString("agent.target_handle"); ok {
		t.Error("rejected target handle was persisted")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

// TestFileBackend_DropsSecretsOnLoad verifies a hand-edited config.json
// holding a password neither leaks it into Config nor writes it back.
func TestFileBackend_DropsSecretsOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"bluesky.app_password":"leaked","github.repo":"other","legacy.key":1}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	b := openFileBackend(path)
	if _, ok, _ := b.GetString("bluesky.app_password"); ok {
		t.Error("secret loaded from config file")
	}
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var saved map[string]any
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("saved config is not JSON: %v", err)
	}
	if _, ok := saved["bluesky.app_password"]; ok {
		t.Error("secret written back to config file")
	}
	if saved["github.repo"] != "other" || saved["log.level"] != "debug" {
		t.Errorf("saved = %v", saved)
	}
}

func TestFileBackend_DeleteMissingKey(t *testing.T) {
	b := openFileBackend(filepath.Join(t.TempDir(), "config.json"))
	if err := b.Delete("github.repo"); err != nil {
		t.Errorf("Delete of unset key = %v, want nil", err)
	}
}

func TestXDGPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")

	if got := configFilePath(); got != filepath.Join("/cfg", "feedagent", "config.json") {
		t.Errorf("configFilePath = %q", got)
	}
	if got := secretsFilePath(); got != filepath.Join("/data", "feedagent", "secrets.json") {
		t.Errorf("secretsFilePath = %q", got)
	}
	if got := defaultDataDir(); got != filepath.Join("/data", "feedagent") {
		t.Errorf("defaultDataDir = %q", got)
	}
}

func TestSecretsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	path := filepath.Join(dir, "feedagent", "secrets.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"bluesky.app_password":" app-pass \n"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := keychainReader{}.Get("feedagent", "bluesky.app_password")
	if err != nil || v != "app-pass" {
		t.Errorf("Get = %q, %v; want app-pass", v, err)
	}
	if _, err := (keychainReader{}).Get("feedagent", "github.token"); err == nil {
		t.Error("expected error for a secret not in the file")
	}
	if hint := secretHint("github.token"); !strings.Contains(hint, path) {
		t.Errorf("secretHint = %q, want it to name %s", hint, path)
	}
}
