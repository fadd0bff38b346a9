package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"textllm/internal/domain"

	"github.com/zalando/go-keyring"
)

// validConfig returns defaults plus the minimum needed to pass Validate.
func validConfig() *Config {
	cfg := Defaults()
	cfg.LLM.APIKey = "sk-test"
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123:abc"
	return cfg
}

// clearEnv blanks every variable ApplyEnv reads so the host environment
// cannot leak into Load tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "LLM_PROVIDER", "LLM_API_KEY", "LLM_MODEL", "LLM_API_BASE",
		"MAX_TOKENS", "TELEGRAM_BOT_TOKEN", "TWILIO_ACCOUNT_SID", "TWILIO_WHATSAPP_NUMBER",
		"TWILIO_AUTH_TOKEN", "DISCORD_GUILD_ID", "DISCORD_TOKEN", "X_USER_ID", "X_BEARER_TOKEN",
		"HOST", "PORT", "PUBLIC_BASE_URL", "STATE_DB_PATH",
	} {
		t.Setenv(k, "")
	}
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DefaultsNeedCredentials(t *testing.T) {
	err := Validate(Defaults())
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	joined := strings.Join(cfgErr.Problems, "\n")
	if !strings.Contains(joined, "llm.apiKey") {
		t.Errorf("expected missing api key problem, got %q", joined)
	}
	if !strings.Contains(joined, "at least one channel") {
		t.Errorf("expected missing channel problem, got %q", joined)
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "gemini"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "gemini") {
		t.Fatalf("error should name the rejected provider: %v", err)
	}
}

func TestValidate_KnownProviders(t *testing.T) {
	for _, p := range []string{"openai", "anthropic", "xai"} {
		cfg := validConfig()
		cfg.LLM.Provider = p
		if err := Validate(cfg); err != nil {
			t.Fatalf("provider %q should be valid: %v", p, err)
		}
	}
}

func TestValidate_MaxTokens(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.MaxTokens = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxTokens=0")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port 0")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_EnabledChannelNeedsCredential(t *testing.T) {
	cases := map[string]func(*Config){
		"telegram": func(c *Config) { c.Channels.Telegram.Token = "" },
		"whatsapp": func(c *Config) { c.Channels.WhatsApp.Enabled = true },
		"discord":  func(c *Config) { c.Channels.Discord.Enabled = true },
		"social":   func(c *Config) { c.Channels.Social.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(cfg)
		err := Validate(cfg)
		if err == nil {
			t.Fatalf("%s: expected error for missing credential", name)
		}
		if !strings.Contains(err.Error(), "channels."+name) {
			t.Fatalf("%s: error should name the channel: %v", name, err)
		}
	}
}

func TestValidate_PublicBaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Server.PublicBaseURL = "not a url"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for relative public base url")
	}
	cfg.Server.PublicBaseURL = "https://bot.example.com"
	if err := Validate(cfg); err != nil {
		t.Fatalf("absolute url should be valid: %v", err)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTripJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")

	original := validConfig()
	original.LLM.Provider = "anthropic"
	original.LLM.Model = "claude-3-5-haiku-20241022"
	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LLM.Provider != "anthropic" || loaded.LLM.Model != "claude-3-5-haiku-20241022" {
		t.Fatalf("unexpected llm section after round trip: %+v", loaded.LLM)
	}
}

func TestLoadSave_RoundTripYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := validConfig()
	original.Channels.Discord.Enabled = true
	original.Channels.Discord.Token = "discord-token"
	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Channels.Discord.Enabled || loaded.Channels.Discord.Token != "discord-token" {
		t.Fatalf("discord section lost in YAML round trip: %+v", loaded.Channels.Discord)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "XAI")
	t.Setenv("LLM_API_KEY", "xai-key")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("MAX_TOKENS", "256")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "xai" {
		t.Fatalf("provider should be normalized to lowercase, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxTokens != 256 {
		t.Fatalf("expected maxTokens 256, got %d", cfg.LLM.MaxTokens)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Fatal("telegram token should enable the telegram channel")
	}
}

func TestLoad_RejectsUnknownProviderAtStartup(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "llama")
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	_, err := Load("")
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_TEXTLLM_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"llm": {"provider": "openai", "apiKey": "${TEST_TEXTLLM_KEY}", "maxTokens": 500},
		"channels": {"telegram": {"enabled": true, "token": "${TEST_TG_TOKEN:-123:fallback}"}}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Fatalf("expected api key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Channels.Telegram.Token != "123:fallback" {
		t.Fatalf("expected default token, got %q", cfg.Channels.Telegram.Token)
	}
}

func TestLoad_UnsetPlaceholderIsRejected(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  provider: openai\n  apiKey: ${LLM_API_KEY}\nchannels:\n  telegram:\n    enabled: true\n    token: \"123:abc\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if joined := strings.Join(cfgErr.Problems, "\n"); !strings.Contains(joined, "llm.apiKey references unset environment variable LLM_API_KEY") {
		t.Fatalf("unexpected problems %q", joined)
	}
}

func TestValidate_RejectsPlaceholderInChannelToken(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Telegram.Token = "${TG_TOKEN}"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "channels.telegram.token") {
		t.Fatalf("expected placeholder problem, got %v", err)
	}
}

// --- ApplyEnv ---

func TestApplyEnv_InvalidInteger(t *testing.T) {
	env := map[string]string{"PORT": "eighty"}
	err := ApplyEnv(Defaults(), func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}

func TestApplyEnv_EnablesChannels(t *testing.T) {
	env := map[string]string{
		"TWILIO_AUTH_TOKEN": "tw",
		"DISCORD_TOKEN":     "dc",
		"X_BEARER_TOKEN":    "xb",
	}
	cfg := Defaults()
	if err := ApplyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatal(err)
	}
	if !cfg.Channels.WhatsApp.Enabled || !cfg.Channels.Discord.Enabled || !cfg.Channels.Social.Enabled {
		t.Fatalf("expected whatsapp, discord and social enabled: %+v", cfg.Channels)
	}
	if cfg.Channels.Telegram.Enabled {
		t.Fatal("telegram should stay disabled without a token")
	}
}

// --- Secrets ---

func TestResolveSecrets_Keyring(t *testing.T) {
	keyring.MockInit()
	if err := StoreSecret("openai", "sk-from-keyring"); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	cfg.LLM.APIKey = "keyring:openai"
	if err := ResolveSecrets(cfg, keyringLookup); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-keyring" {
		t.Fatalf("expected keyring secret, got %q", cfg.LLM.APIKey)
	}
	if cfg.Channels.Telegram.Token != "123:abc" {
		t.Fatal("plain values must be left untouched")
	}
}

func TestResolveSecrets_MissingAccount(t *testing.T) {
	keyring.MockInit()
	cfg := validConfig()
	cfg.Channels.Telegram.Token = "keyring:absent"
	err := ResolveSecrets(cfg, keyringLookup)
	if err == nil {
		t.Fatal("expected error for missing keyring entry")
	}
	if !strings.Contains(err.Error(), "channels.telegram.token") {
		t.Fatalf("error should name the field: %v", err)
	}
}

// --- Accessor ---

func TestGetByPath(t *testing.T) {
	cfg := validConfig()
	val, err := GetByPath(cfg, "llm.provider")
	if err != nil {
		t.Fatal(err)
	}
	if val != "openai" {
		t.Fatalf("expected openai, got %v", val)
	}
	if _, err := GetByPath(cfg, "llm.nope"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.APIKey = "sk-1234567890abcdef"
	s := Sanitize(cfg)
	if s.LLM.APIKey == cfg.LLM.APIKey {
		t.Fatal("api key should be masked")
	}
	if !strings.HasPrefix(s.LLM.APIKey, "sk-1") || !strings.HasSuffix(s.LLM.APIKey, "cdef") {
		t.Fatalf("unexpected mask %q", s.LLM.APIKey)
	}
	if s.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be fully masked, got %q", s.Channels.Telegram.Token)
	}
	if cfg.LLM.APIKey != "sk-1234567890abcdef" {
		t.Fatal("Sanitize must not modify the original")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	if result != `{"apiKey": "sk-abc123"}` {
		t.Fatalf("unexpected result %q", result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	if result != `"${TOTALLY_UNSET_VAR_XYZ}"` {
		t.Fatalf("expected original kept, got %q", result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	if result != `"fallback"` {
		t.Fatalf("expected fallback, got %q", result)
	}
}
