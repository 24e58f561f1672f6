package config

import (
	"fmt"
	"strconv"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all non-secret config key/value pairs from cfg.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

// UnsetKey removes a config key from the platform backend so the default applies again.
func UnsetKey(key string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	return newPlatformBackend().Delete(s.key)
}

// setKeyWith validates and normalizes value before handing it to b, so
// `config set agent.target_handle @Foo.bsky.social` stores foo.bsky.social.
func setKeyWith(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		v, err := normalizeValue(key, i)
		if err != nil {
			return err
		}
		return b.SetInt(key, v.(int))
	default:
		v, err := normalizeValue(key, value)
		if err != nil {
			return err
		}
		return b.SetString(key, v.(string))
	}
}

// lookupSpec returns the spec of a key that may be persisted.
func lookupSpec(key string) (keySpec, error) {
	s, ok := specFor(key)
	if !ok {
		return keySpec{}, fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s%s", key, s.env, secretHint(key))
	}
	return s, nil
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
