package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// ConfigBackend abstracts where persisted settings live: UserDefaults on
// macOS, a JSON file elsewhere. Implementations refuse secret and unknown
// keys on write; see writableSpec.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// writableSpec returns the spec for key if it may be persisted with a value
// of type typ. Secrets never reach a backend.
func writableSpec(key string, typ keyType) (keySpec, error) {
	s, err := lookupSpec(key)
	if err != nil {
		return keySpec{}, err
	}
	if s.typ != typ {
		return keySpec{}, fmt.Errorf("config key %s has a different type", key)
	}
	return s, nil
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// normalizeValue applies the per-key rules for values about to be stored:
// handles lose their "@" and case, the target must be a real Bluesky
// handle, enums are lowercased and checked, the PDS host must be a URL.
func normalizeValue(key string, v any) (any, error) {
	switch key {
	case "agent.target_handle":
		h := normalizeHandle(v.(string))
		if err := checkHandle(h); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		return h, nil
	case "agent.bot_handle":
		// Login identifier: a handle, an email or a DID.
		h := normalizeHandle(v.(string))
		if h == "" {
			return nil, fmt.Errorf("%s must not be empty", key)
		}
		return h, nil
	case "art.provider":
		p := strings.ToLower(strings.TrimSpace(v.(string)))
		if p != "openai" && p != "gemini" {
			return nil, fmt.Errorf("invalid %s %q: want openai or gemini", key, p)
		}
		return p, nil
	case "log.level":
		l := strings.ToLower(strings.TrimSpace(v.(string)))
		if !logLevels[l] {
			return nil, fmt.Errorf("invalid %s %q: want debug, info, warn or error", key, l)
		}
		return l, nil
	case "bluesky.host":
		h := strings.TrimRight(strings.TrimSpace(v.(string)), "/")
		u, err := url.Parse(h)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, fmt.Errorf("invalid %s %q: want an http(s) URL", key, h)
		}
		return h, nil
	case "dashboard.port":
		if p := v.(int); p < 1 || p > 65535 {
			return nil, fmt.Errorf("invalid %s %d: out of range", key, p)
		}
	}
	return v, nil
}

// checkHandle rejects anything getAuthorFeed would refuse, such as a bare
// "aixbt_agent" without a domain.
func checkHandle(h string) error {
	if h == "" {
		return fmt.Errorf("handle is empty")
	}
	if _, err := syntax.ParseHandle(h); err != nil {
		return fmt.Errorf("%q is not a Bluesky handle (e.g. name.bsky.social): %w", h, err)
	}
	return nil
}
