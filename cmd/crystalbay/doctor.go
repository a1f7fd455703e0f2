package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/azrailbeat/crystalbay-sub001/internal/automation"
	"github.com/azrailbeat/crystalbay-sub001/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Crystal Bay gateway installation",
		Long: `Verifies that the gateway's configuration, channel credentials, database,
and API port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Crystal Bay Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'crystalbay init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Database writable
			if err := checkDatabase(cfg.Storage.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Storage.DBPath)
				passed++
			}

			// 4. Channel credentials
			channelCount := 0
			if cfg.Channels.Telegram.Enabled {
				channelCount++
				if cfg.Channels.Telegram.Token == "" && os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
					printWarn("Channel: telegram", "enabled but no bot token configured")
					warned++
				} else {
					printPass("Channel: telegram", "configured")
					passed++
				}
			}
			if cfg.Channels.Wazzup.Enabled {
				channelCount++
				if cfg.Channels.Wazzup.APIKey == "" && os.Getenv("WAZZUP_API_KEY") == "" {
					printWarn("Channel: wazzup", "enabled but no API key configured")
					warned++
				} else if cfg.Channels.Wazzup.ChannelID == "" && os.Getenv("WAZZUP_CHANNEL_ID") == "" {
					printWarn("Channel: wazzup", "no channel ID, sending will fail")
					warned++
				} else {
					printPass("Channel: wazzup", "configured")
					passed++
				}
			}
			if channelCount == 0 {
				printFail("Channels", "no channels enabled")
				failed++
			}

			// 5. Automation rules file parses
			if cfg.Automation.Enabled && cfg.Automation.RulesPath != "" {
				if _, err := os.Stat(cfg.Automation.RulesPath); err != nil {
					printWarn("Rules file", fmt.Sprintf("not present at %s (rules can still be added via API)", cfg.Automation.RulesPath))
					warned++
				} else if rules, err := automation.LoadRules(cfg.Automation.RulesPath); err != nil {
					printFail("Rules file", err.Error())
					failed++
				} else {
					printPass("Rules file", fmt.Sprintf("%d rule(s)", len(rules)))
					passed++
				}
			}

			// 6. API port
			port := cfg.API.Port
			if port == 0 {
				port = 8080
			}
			if err := checkPort(port); err != nil {
				printWarn("API port", fmt.Sprintf("port %d may be in use (gateway already running?): %v", port, err))
				warned++
			} else {
				printPass("API port", fmt.Sprintf(":%d available", port))
				passed++
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before starting the gateway.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe gateway should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! The gateway is ready to run.\n")
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

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
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
