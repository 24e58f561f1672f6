package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "agent.target_handle", typ: kString, env: "FEEDAGENT_TARGET_HANDLE",
		apply:   func(cfg *Config, v any) { cfg.Agent.TargetHandle = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.TargetHandle },
	},
	{
		key: "agent.bot_handle", typ: kString, env: "FEEDAGENT_BOT_HANDLE",
		apply:   func(cfg *Config, v any) { cfg.Agent.BotHandle = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.BotHandle },
	},
	{
		key: "bluesky.host", typ: kString, env: "FEEDAGENT_BLUESKY_HOST",
		apply:   func(cfg *Config, v any) { cfg.Bluesky.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Bluesky.Host },
	},
	{
		key: "bluesky.app_password", typ: kString, env: "FEEDAGENT_BLUESKY_APP_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Bluesky.AppPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Bluesky.AppPassword },
	},
	{
		key: "art.provider", typ: kString, env: "FEEDAGENT_ART_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Art.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Art.Provider },
	},
	{
		key: "art.model", typ: kString, env: "FEEDAGENT_ART_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Art.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Art.Model },
	},
	{
		key: "art.output_dir", typ: kString, env: "FEEDAGENT_ART_OUTPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Art.OutputDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Art.OutputDir },
	},
	{
		key: "art.openai_api_key", typ: kString, env: "FEEDAGENT_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Art.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Art.OpenAIAPIKey },
	},
	{
		key: "art.gemini_api_key", typ: kString, env: "FEEDAGENT_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Art.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Art.GeminiAPIKey },
	},
	{
		key: "dashboard.port", typ: kInt, env: "FEEDAGENT_DASHBOARD_PORT",
		apply:   func(cfg *Config, v any) { cfg.Dashboard.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Dashboard.Port },
	},
	{
		key: "dashboard.token", typ: kString, env: "FEEDAGENT_DASHBOARD_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Dashboard.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Dashboard.Token },
	},
	{
		key: "github.owner", typ: kString, env: "FEEDAGENT_GITHUB_OWNER",
		apply:   func(cfg *Config, v any) { cfg.GitHub.Owner = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.Owner },
	},
	{
		key: "github.repo", typ: kString, env: "FEEDAGENT_GITHUB_REPO",
		apply:   func(cfg *Config, v any) { cfg.GitHub.Repo = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.Repo },
	},
	{
		key: "github.token", typ: kString, env: "FEEDAGENT_GITHUB_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.GitHub.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FEEDAGENT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "FEEDAGENT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func specFor(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
