//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	defaultsDomain  = "com.feedagent.app"
	keychainService = "feedagent"
)

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "feedagent")
	}
	return "feedagent-data"
}

func secretHint(key string) string {
	return fmt.Sprintf(" or macOS Keychain (service: %s, account: %s)", keychainService, key)
}

// keychainExec reads a generic password; accounts are config key names,
// e.g. bluesky.app_password.
func keychainExec(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
}

// darwinBackend stores non-secret settings in the user defaults domain.
type darwinBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain}
}

// missingKey reports the exit status `defaults` uses for an absent key or domain.
func missingKey(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

func (b *darwinBackend) read(key string) (string, bool, error) {
	if s, ok := specFor(key); !ok || s.secret {
		return "", false, nil
	}
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		if missingKey(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s %s: %w (%s)", b.domain, key, err, s)
	}
	return s, true, nil
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	return b.read(key)
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.read(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *darwinBackend) write(key string, typ keyType, val any) error {
	if _, err := writableSpec(key, typ); err != nil {
		return err
	}
	v, err := normalizeValue(key, val)
	if err != nil {
		return err
	}
	args := []string{"write", b.domain, key, "-string", fmt.Sprint(v)}
	if typ == kInt {
		args[3] = "-int"
	}
	if out, err := exec.Command("defaults", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults write %s: %w (%s)", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *darwinBackend) SetString(key, val string) error {
	return b.write(key, kString, val)
}

func (b *darwinBackend) SetInt(key string, val int) error {
	return b.write(key, kInt, val)
}

// Delete removes key. Removing a key that was never set is not an error.
func (b *darwinBackend) Delete(key string) error {
	if err := exec.Command("defaults", "delete", b.domain, key).Run(); err != nil && !missingKey(err) {
		return fmt.Errorf("defaults delete %s: %w", key, err)
	}
	return nil
}
