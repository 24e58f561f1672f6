//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// xdgDir resolves an XDG base directory, falling back to fallback under
// $HOME, and appends feedagent's own directory.
func xdgDir(env, fallback string) string {
	dir := os.Getenv(env)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "feedagent-data"
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(dir, "feedagent")
}

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json")
}

func secretHint(key string) string {
	return fmt.Sprintf(" or %q in %s", key, secretsFilePath())
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// keychainExec stands in for the macOS keychain. secrets.json is a flat
// object keyed like config.json, e.g. {"bluesky.app_password": "..."};
// there is a single service, so service is ignored.
func keychainExec(_, account string) ([]byte, error) {
	path := secretsFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets file not available: %w", err)
	}
	if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o077 != 0 {
		slog.Warn("secrets file is readable by other users", "path", path, "mode", info.Mode().Perm())
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	val, ok := secrets[account]
	if !ok {
		return nil, fmt.Errorf("%s not set in %s", account, path)
	}
	return []byte(val), nil
}

// fileBackend keeps non-secret settings as a flat JSON object keyed by
// dotted key names. Secrets found in the file are dropped on load; they
// belong in secrets.json or the environment.
type fileBackend struct {
	path string
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	return openFileBackend(configFilePath())
}

func openFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]any)}
	b.load()
	return b
}

func (b *fileBackend) load() {
	logger := slog.Default().With("component", "config", "path", b.path)

	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("could not read config file, using defaults", "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &b.data); err != nil {
		logger.Warn("could not parse config file, using defaults", "error", err)
		b.data = make(map[string]any)
		return
	}

	for key := range b.data {
		s, ok := specFor(key)
		switch {
		case !ok:
			logger.Warn("ignoring unknown config key", "key", key)
		case s.secret:
			logger.Warn("ignoring secret in config file; use the environment or secrets.json", "key", key, "env", s.env)
			delete(b.data, key)
		}
	}
}

// save writes through a temp file so a running agent never reads a
// half-written config.
func (b *fileBackend) save() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp.Name(), b.path)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v), true, nil
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer", val, key)
		}
		return int(val), true, nil
	case int:
		return val, true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	if _, err := writableSpec(key, kString); err != nil {
		return err
	}
	v, err := normalizeValue(key, val)
	if err != nil {
		return err
	}
	b.data[key] = v
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	if _, err := writableSpec(key, kInt); err != nil {
		return err
	}
	v, err := normalizeValue(key, val)
	if err != nil {
		return err
	}
	b.data[key] = v
	return b.save()
}

// Delete removes key. Removing a key that was never set is not an error.
func (b *fileBackend) Delete(key string) error {
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return b.save()
}
