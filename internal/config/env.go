package config

import (
	"fmt"
	"strconv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays the flat environment variables used by env-only
// deployments. Setting a channel credential also enables that channel.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) bool {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
			return true
		}
		return false
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %q is not an integer", key, v)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &cfg.General.LogLevel)
	str("LOG_FORMAT", &cfg.General.LogFormat)

	str("LLM_PROVIDER", &cfg.LLM.Provider)
	str("LLM_API_KEY", &cfg.LLM.APIKey)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("LLM_API_BASE", &cfg.LLM.APIBase)
	if err := num("MAX_TOKENS", &cfg.LLM.MaxTokens); err != nil {
		return err
	}

	if str("TELEGRAM_BOT_TOKEN", &cfg.Channels.Telegram.Token) {
		cfg.Channels.Telegram.Enabled = true
	}

	str("TWILIO_ACCOUNT_SID", &cfg.Channels.WhatsApp.AccountSID)
	str("TWILIO_WHATSAPP_NUMBER", &cfg.Channels.WhatsApp.Number)
	if str("TWILIO_AUTH_TOKEN", &cfg.Channels.WhatsApp.AuthToken) {
		cfg.Channels.WhatsApp.Enabled = true
	}

	str("DISCORD_GUILD_ID", &cfg.Channels.Discord.GuildID)
	if str("DISCORD_TOKEN", &cfg.Channels.Discord.Token) {
		cfg.Channels.Discord.Enabled = true
	}

	str("X_USER_ID", &cfg.Channels.Social.UserID)
	if str("X_BEARER_TOKEN", &cfg.Channels.Social.BearerToken) {
		cfg.Channels.Social.Enabled = true
	}

	str("HOST", &cfg.Server.Host)
	if err := num("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	str("PUBLIC_BASE_URL", &cfg.Server.PublicBaseURL)
	str("STATE_DB_PATH", &cfg.State.DBPath)

	return nil
}
