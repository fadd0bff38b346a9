package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"textllm/internal/channel"
	"textllm/internal/config"
	"textllm/internal/dispatch"
	"textllm/internal/metrics"
	"textllm/internal/provider"
	"textllm/internal/server"
	"textllm/internal/state"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
	logLevel   string
	logFormat  string
)

func main() {
	logger = newLogger("info", "text")

	root := &cobra.Command{
		Use:   "textllm",
		Short: "textllm: relay chat messages to an LLM",
		Long:  "textllm answers Telegram, WhatsApp, Discord and X direct messages with replies from OpenAI, Anthropic or xAI.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" || logFormat != "" {
				logger = newLogger(logLevel, logFormat)
			}
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml or config.json (default: ~/.textllm/config.yaml when present)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json (overrides config)")

	root.AddCommand(serveCmd())
	root.AddCommand(setWebhookCmd())
	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(secretCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// resolveConfigPath returns the --config flag, else TEXTLLM_CONFIG, else the
// default path when that file exists. An empty result means env-only config.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("TEXTLLM_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
		return config.DefaultConfigPath()
	}
	return ""
}

// loadConfig loads the config and rebuilds the logger from it unless the
// log flags were given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	level, format := cfg.General.LogLevel, cfg.General.LogFormat
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	logger = newLogger(level, format)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and all enabled channels",
		Long:  "Serves the Telegram and WhatsApp webhooks, connects to Discord and polls X direct messages. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prov, err := provider.New(cfg.ProviderConfig(), logger)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	logger.Info("provider ready", "provider", prov.Name(), "model", prov.Model())

	relay := metrics.NewRelay(metrics.NewRegistry())
	dispatcher := dispatch.New(dispatch.Config{
		Provider: prov,
		Timeout:  provider.GenerationTimeout,
		Metrics:  relay,
		Logger:   logger,
	})

	srvCfg := server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Provider:      prov.Name(),
		Model:         prov.Model(),
		Dispatcher:    dispatcher,
		Metrics:       relay,
		Logger:        logger,
	}

	ch := cfg.Channels
	if ch.Telegram.Enabled {
		tg, err := channel.NewTelegram(channel.TelegramConfig{
			Token:       ch.Telegram.Token,
			APIEndpoint: ch.Telegram.APIEndpoint,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		srvCfg.Telegram = tg
		logger.Info("telegram channel enabled")
	}
	if ch.WhatsApp.Enabled {
		srvCfg.WhatsApp = channel.NewWhatsApp(channel.WhatsAppConfig{
			AuthToken:  ch.WhatsApp.AuthToken,
			AccountSID: ch.WhatsApp.AccountSID,
			Logger:     logger,
		})
		logger.Info("whatsapp channel enabled", "number", ch.WhatsApp.Number)
	}

	var wg sync.WaitGroup

	if ch.Discord.Enabled {
		dc := channel.NewDiscord(channel.DiscordConfig{
			Token:         ch.Discord.Token,
			GuildID:       ch.Discord.GuildID,
			CommandPrefix: ch.Discord.CommandPrefix,
			Processor:     dispatcher,
			Logger:        logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dc.Start(ctx); err != nil {
				logger.Error("discord channel error", "err", err)
			}
		}()
		logger.Info("discord channel enabled")
	}

	if ch.Social.Enabled {
		store, closeStore, err := openMarkerStore(cfg.State.DBPath)
		if err != nil {
			return err
		}
		defer closeStore()

		poller := channel.NewSocialDM(channel.SocialDMConfig{
			BearerToken:    ch.Social.BearerToken,
			UserID:         ch.Social.UserID,
			APIBase:        ch.Social.APIBase,
			PollInterval:   time.Duration(ch.Social.PollIntervalSeconds) * time.Second,
			ProcessBacklog: ch.Social.ProcessBacklog,
			Store:          store,
			Processor:      dispatcher,
			Metrics:        relay,
			Logger:         logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
		logger.Info("social dm channel enabled")
	}

	srv := server.New(srvCfg)
	serveErr := srv.Start(ctx)
	stop()

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
	}
	return serveErr
}

// openMarkerStore returns the SQLite store when a path is configured and the
// in-memory store otherwise.
func openMarkerStore(dbPath string) (state.MarkerStore, func(), error) {
	if dbPath == "" {
		logger.Info("poll markers kept in memory")
		return state.NewMemoryMarkerStore(), func() {}, nil
	}
	store, err := state.NewSQLiteMarkerStore(dbPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("state store: %w", err)
	}
	return store, func() { store.Close() }, nil
}

func setWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-webhook [url]",
		Short: "Register the Telegram webhook URL",
		Long:  "Registers url with Telegram. Without an argument, server.publicBaseUrl + /webhook is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Channels.Telegram.Enabled {
				return fmt.Errorf("telegram channel is not enabled")
			}

			url := ""
			if len(args) == 1 {
				url = args[0]
			} else if cfg.Server.PublicBaseURL != "" {
				url = cfg.Server.PublicBaseURL + "/webhook"
			}
			if url == "" {
				return fmt.Errorf("no webhook url given and server.publicBaseUrl is not set")
			}

			tg, err := channel.NewTelegram(channel.TelegramConfig{
				Token:       cfg.Channels.Telegram.Token,
				APIEndpoint: cfg.Channels.Telegram.APIEndpoint,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			if !tg.SetWebhook(cmd.Context(), url) {
				return fmt.Errorf("failed to set webhook")
			}
			fmt.Printf("Webhook set to: %s\n", url)
			return nil
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("textllm %s\n", version)
		},
	}
}
