package config

import (
	"fmt"
	"strings"

	"textllm/internal/domain"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "textllm"
	keyringPrefix  = "keyring:"
)

// SecretGetter matches keyring.Get.
type SecretGetter func(service, account string) (string, error)

func keyringLookup(service, account string) (string, error) {
	return keyring.Get(service, account)
}

// ResolveSecrets replaces every credential written as "keyring:<account>"
// with the value stored in the system keychain under the textllm service.
func ResolveSecrets(cfg *Config, get SecretGetter) error {
	fields := map[string]*string{
		"llm.apiKey":                  &cfg.LLM.APIKey,
		"channels.telegram.token":     &cfg.Channels.Telegram.Token,
		"channels.whatsapp.authToken": &cfg.Channels.WhatsApp.AuthToken,
		"channels.discord.token":      &cfg.Channels.Discord.Token,
		"channels.social.bearerToken": &cfg.Channels.Social.BearerToken,
	}

	var errs []string
	for name, field := range fields {
		if !strings.HasPrefix(*field, keyringPrefix) {
			continue
		}
		account := strings.TrimSpace(strings.TrimPrefix(*field, keyringPrefix))
		if account == "" {
			errs = append(errs, fmt.Sprintf("%s: empty keyring account", name))
			continue
		}
		secret, err := get(keyringService, account)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: keyring account %q: %v", name, account, err))
			continue
		}
		*field = secret
	}

	if len(errs) > 0 {
		return &domain.ConfigurationError{Problems: errs}
	}
	return nil
}

// StoreSecret saves a credential in the system keychain so that config files
// can reference it as "keyring:<account>".
func StoreSecret(account, value string) error {
	return keyring.Set(keyringService, account, value)
}
