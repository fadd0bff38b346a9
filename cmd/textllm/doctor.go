package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"textllm/internal/config"
	"textllm/internal/domain"
	"textllm/internal/provider"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, provider, state database and
listen port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("textllm doctor v%s\n", version)
			fmt.Printf("----------------------------------------\n\n")

			passed, warned, failed := 0, 0, 0

			cfgPath := resolveConfigPath()
			if cfgPath == "" {
				printWarn("Config file", "none found, using environment only")
				warned++
			} else if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'textllm init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				var cfgErr *domain.ConfigurationError
				if errors.As(err, &cfgErr) {
					for _, p := range cfgErr.Problems {
						printFail("Config validation", p)
					}
				} else {
					printFail("Config validation", err.Error())
				}
				failed++
				fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			if _, err := provider.New(cfg.ProviderConfig(), logger); err != nil {
				printFail("Provider", err.Error())
				failed++
			} else {
				model := cfg.LLM.Model
				if model == "" {
					model = provider.DefaultModel(domain.ProviderKind(cfg.LLM.Provider))
				}
				printPass("Provider", fmt.Sprintf("%s (%s)", cfg.LLM.Provider, model))
				passed++
			}

			if cfg.Channels.Social.Enabled {
				if cfg.State.DBPath == "" {
					printWarn("State database", "not set, poll markers reset on restart")
					warned++
				} else if err := checkDatabase(cfg.State.DBPath); err != nil {
					printFail("State database", err.Error())
					failed++
				} else {
					printPass("State database", cfg.State.DBPath)
					passed++
				}
			}

			if cfg.Channels.WhatsApp.Enabled && cfg.Server.PublicBaseURL == "" {
				printWarn("Public base URL", "not set, Twilio signatures fail behind a proxy")
				warned++
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			fmt.Printf("\n----------------------------------------\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
