package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Config struct {
	Agent     AgentConfig
	Bluesky   BlueskyConfig
	Art       ArtConfig
	Dashboard DashboardConfig
	GitHub    GitHubConfig
	Storage   StorageConfig
	Log       LogConfig
}

type AgentConfig struct {
	TargetHandle string
	BotHandle    string
}

type BlueskyConfig struct {
	Host        string
	AppPassword string
}

type ArtConfig struct {
	Provider     string // "openai" or "gemini"
	Model        string
	OutputDir    string
	OpenAIAPIKey string
	GeminiAPIKey string
}

type DashboardConfig struct {
	Port  int
	Token string // empty disables bearer auth
}

type GitHubConfig struct {
	Owner string
	Repo  string
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Bluesky: BlueskyConfig{
			Host: "https://bsky.social",
		},
		Art: ArtConfig{
			Provider: "openai",
			Model:    "dall-e-3",
		},
		Dashboard: DashboardConfig{
			Port: 3000,
		},
		GitHub: GitHubConfig{
			Owner: "cheshir",
			Repo:  "CheshCasino",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.feedagent.app) and
// secrets fall back to macOS Keychain (service: feedagent).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/feedagent/config.json
// and secrets fall back to $XDG_DATA_HOME/feedagent/secrets.json.
//
// Environment variables (FEEDAGENT_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// LoadDisplay is Load without validation, for commands that only read
// local state or talk to a running agent.
func LoadDisplay() Config {
	cfg := defaults()
	_ = applyBackend(&cfg, newPlatformBackend())
	applyEnvOverrides(&cfg)
	applySecretFallback(&cfg, keychainReader{})
	finalize(&cfg)
	return cfg
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecretFallback(&cfg, kc)
	finalize(&cfg)

	var missing []string
	if cfg.Agent.TargetHandle == "" {
		missing = append(missing, "agent.target_handle (FEEDAGENT_TARGET_HANDLE)")
	}
	if cfg.Agent.BotHandle == "" {
		missing = append(missing, "agent.bot_handle (FEEDAGENT_BOT_HANDLE)")
	}
	if cfg.Bluesky.AppPassword == "" {
		missing = append(missing, "bluesky.app_password (FEEDAGENT_BLUESKY_APP_PASSWORD"+secretHint("bluesky.app_password")+")")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if err := checkHandle(cfg.Agent.TargetHandle); err != nil {
		return Config{}, fmt.Errorf("invalid agent.target_handle: %w", err)
	}

	switch cfg.Art.Provider {
	case "openai", "gemini":
	default:
		return Config{}, fmt.Errorf("invalid art.provider %q: want openai or gemini", cfg.Art.Provider)
	}

	return cfg, nil
}

// applySecretFallback consults the platform secret store for secrets that
// neither the environment nor the backend provided.
func applySecretFallback(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get("feedagent", s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func finalize(cfg *Config) {
	cfg.Agent.TargetHandle = normalizeHandle(cfg.Agent.TargetHandle)
	cfg.Agent.BotHandle = normalizeHandle(cfg.Agent.BotHandle)
	cfg.Bluesky.Host = strings.TrimRight(cfg.Bluesky.Host, "/")
	if cfg.Art.OutputDir == "" {
		cfg.Art.OutputDir = filepath.Join(cfg.Storage.DataDir, "generated-art")
	}
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
