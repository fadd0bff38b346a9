package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			MaxTokens:   1000,
			Temperature: 0.7,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				CommandPrefix: "!",
			},
			Social: SocialConfig{
				PollIntervalSeconds: 3,
			},
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
	}
}
