package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"textllm/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for textllm.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	State    StateConfig    `json:"state" yaml:"state"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"` // "text" | "json"
}

// LLMConfig configures the single active provider.
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider"` // "openai" | "anthropic" | "xai"
	APIKey      string  `json:"apiKey" yaml:"apiKey"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"` // empty = provider default
	APIBase     string  `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	MaxTokens   int     `json:"maxTokens" yaml:"maxTokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Social   SocialConfig   `json:"social" yaml:"social"`
}

type TelegramConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Token       string `json:"token" yaml:"token"`
	APIEndpoint string `json:"apiEndpoint,omitempty" yaml:"apiEndpoint,omitempty"` // printf pattern with token and method
}

// WhatsAppConfig configures the Twilio WhatsApp gateway.
type WhatsAppConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	AccountSID string `json:"accountSid,omitempty" yaml:"accountSid,omitempty"`
	AuthToken  string `json:"authToken" yaml:"authToken"`
	Number     string `json:"number,omitempty" yaml:"number,omitempty"`
}

type DiscordConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Token         string `json:"token" yaml:"token"`
	GuildID       string `json:"guildId,omitempty" yaml:"guildId,omitempty"` // optional: restrict to specific guild
	CommandPrefix string `json:"commandPrefix" yaml:"commandPrefix"`
}

// SocialConfig configures the polled X direct-message channel.
type SocialConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	BearerToken         string `json:"bearerToken" yaml:"bearerToken"` // OAuth 2.0 user-context token
	UserID              string `json:"userId,omitempty" yaml:"userId,omitempty"`
	APIBase             string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
	ProcessBacklog      bool   `json:"processBacklog" yaml:"processBacklog"`
}

type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// PublicBaseURL is the externally visible origin (scheme://host[:port]).
	// Twilio signs the URL it called, which differs from r.Host behind a proxy.
	PublicBaseURL string `json:"publicBaseUrl,omitempty" yaml:"publicBaseUrl,omitempty"`
}

type StateConfig struct {
	DBPath string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"` // empty = in-memory markers
}

// ProviderConfig converts the LLM section into the immutable provider config.
func (c *Config) ProviderConfig() domain.ProviderConfig {
	return domain.ProviderConfig{
		Provider:    domain.ProviderKind(c.LLM.Provider),
		APIKey:      c.LLM.APIKey,
		Model:       c.LLM.Model,
		MaxTokens:   c.LLM.MaxTokens,
		APIBase:     c.LLM.APIBase,
		Temperature: c.LLM.Temperature,
	}
}

// Load builds the config from defaults, the optional file at path, the process
// environment and the keyring, in that order, then validates it.
// An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := ResolveSecrets(cfg, keyringLookup); err != nil {
		return nil, err
	}
	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return nil
}

// Save writes cfg to path as YAML or JSON depending on the file extension.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func normalize(cfg *Config) {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.General.LogLevel = strings.ToLower(strings.TrimSpace(cfg.General.LogLevel))
	cfg.General.LogFormat = strings.ToLower(strings.TrimSpace(cfg.General.LogFormat))
	cfg.Server.PublicBaseURL = strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	cfg.State.DBPath = ExpandPath(cfg.State.DBPath)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Validate checks that the config is complete enough to start serving.
// All problems are reported together in a *domain.ConfigurationError.
func Validate(cfg *Config) error {
	var errs []string

	if !domain.ProviderKind(cfg.LLM.Provider).Valid() {
		errs = append(errs, fmt.Sprintf("llm.provider must be one of: openai, anthropic, xai (got: %q)", cfg.LLM.Provider))
	}
	if cfg.LLM.APIKey == "" {
		errs = append(errs, "llm.apiKey is required")
	}
	if cfg.LLM.MaxTokens < 1 {
		errs = append(errs, "llm.maxTokens must be >= 1")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.PublicBaseURL != "" {
		u, err := url.Parse(cfg.Server.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "server.publicBaseUrl must be an absolute URL")
		}
	}

	ch := cfg.Channels
	if !ch.Telegram.Enabled && !ch.WhatsApp.Enabled && !ch.Discord.Enabled && !ch.Social.Enabled {
		errs = append(errs, "at least one channel must be enabled")
	}
	if ch.Telegram.Enabled && ch.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if ch.WhatsApp.Enabled && ch.WhatsApp.AuthToken == "" {
		errs = append(errs, "channels.whatsapp.authToken is required when whatsapp is enabled")
	}
	if ch.Discord.Enabled && ch.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if ch.Social.Enabled {
		if ch.Social.BearerToken == "" {
			errs = append(errs, "channels.social.bearerToken is required when social is enabled")
		}
		if ch.Social.PollIntervalSeconds < 1 {
			errs = append(errs, "channels.social.pollIntervalSeconds must be >= 1")
		}
	}

	errs = append(errs, unexpandedPlaceholders(cfg)...)

	if len(errs) > 0 {
		return &domain.ConfigurationError{Problems: errs}
	}
	return nil
}

// unexpandedPlaceholders reports fields still holding a ${VAR} reference,
// which happens when the variable is unset and has no default.
func unexpandedPlaceholders(cfg *Config) []string {
	ch := cfg.Channels
	fields := []struct{ path, value string }{
		{"llm.apiKey", cfg.LLM.APIKey},
		{"llm.apiBase", cfg.LLM.APIBase},
		{"llm.model", cfg.LLM.Model},
		{"server.publicBaseUrl", cfg.Server.PublicBaseURL},
		{"channels.telegram.token", ch.Telegram.Token},
		{"channels.whatsapp.authToken", ch.WhatsApp.AuthToken},
		{"channels.whatsapp.accountSid", ch.WhatsApp.AccountSID},
		{"channels.discord.token", ch.Discord.Token},
		{"channels.social.bearerToken", ch.Social.BearerToken},
		{"channels.social.userId", ch.Social.UserID},
		{"state.dbPath", cfg.State.DBPath},
	}
	var errs []string
	for _, f := range fields {
		if m := envVarPattern.FindStringSubmatch(f.value); m != nil {
			errs = append(errs, fmt.Sprintf("%s references unset environment variable %s", f.path, m[1]))
		}
	}
	return errs
}

// DefaultConfigDir returns ~/.textllm.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".textllm"
	}
	return filepath.Join(home, ".textllm")
}

// DefaultConfigPath returns ~/.textllm/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
