package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/azrailbeat/crystalbay-sub001/internal/config"
)

var channelChoices = []struct {
	ID   string
	Desc string
}{
	{"telegram", "Telegram bot (token from @BotFather)"},
	{"wazzup", "WhatsApp via Wazzup24 (API key from the Wazzup cabinet)"},
	{"both", "Telegram and WhatsApp together"},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: storage → channels → API → save config",
		Long:  "Guides you through the database location, channel credentials (Telegram and/or Wazzup WhatsApp), and API settings. Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Storage
	fmt.Println("\n--- Step 1: Storage ---")
	fmt.Fprint(os.Stdout, "Database file for conversations and leads")
	dbPath, err := prompt(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	cfg.Storage.DBPath = config.ExpandPath(dbPath)
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	fmt.Fprintf(os.Stdout, "  Using database: %s\n", cfg.Storage.DBPath)

	// Step 2: Channels
	fmt.Println("\n--- Step 2: Channels ---")
	for i, c := range channelChoices {
		fmt.Fprintf(os.Stdout, "  %d) %s — %s\n", i+1, c.ID, c.Desc)
	}
	fmt.Fprint(os.Stdout, "Choose channels (1–3)")
	choice, err := prompt("3")
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(channelChoices) {
		idx = 3
	}
	chID := channelChoices[idx-1].ID

	cfg.Channels.Telegram.Enabled = chID == "telegram" || chID == "both"
	cfg.Channels.Wazzup.Enabled = chID == "wazzup" || chID == "both"

	if cfg.Channels.Telegram.Enabled {
		fmt.Fprint(os.Stdout, "Telegram bot token: paste token or env var (e.g. ${TELEGRAM_BOT_TOKEN})")
		tok, err := prompt("${TELEGRAM_BOT_TOKEN}")
		if err != nil {
			return err
		}
		if tok != "" {
			cfg.Channels.Telegram.Token = tok
		}
		fmt.Fprint(os.Stdout, "Use long polling for incoming messages? (y/n)")
		poll, err := prompt("y")
		if err != nil {
			return err
		}
		cfg.Channels.Telegram.PollingEnabled = strings.HasPrefix(strings.ToLower(poll), "y")
		if !cfg.Channels.Telegram.PollingEnabled {
			fmt.Fprint(os.Stdout, "Webhook secret token (sent by Telegram in each webhook request)")
			secret, err := prompt(cfg.Channels.Telegram.WebhookSecret)
			if err != nil {
				return err
			}
			cfg.Channels.Telegram.WebhookSecret = secret
		}
	}

	if cfg.Channels.Wazzup.Enabled {
		fmt.Fprint(os.Stdout, "Wazzup API key: paste key or env var (e.g. ${WAZZUP_API_KEY})")
		key, err := prompt("${WAZZUP_API_KEY}")
		if err != nil {
			return err
		}
		if key != "" {
			cfg.Channels.Wazzup.APIKey = key
		}
		fmt.Fprint(os.Stdout, "Wazzup channel ID (which WhatsApp number to send from)")
		chanID, err := prompt(cfg.Channels.Wazzup.ChannelID)
		if err != nil {
			return err
		}
		cfg.Channels.Wazzup.ChannelID = chanID
	}
	fmt.Fprintf(os.Stdout, "  Using channels: %s\n", chID)

	// Step 3: API
	fmt.Println("\n--- Step 3: API ---")
	fmt.Fprint(os.Stdout, "API port for the CRM frontend and webhooks")
	portStr, err := prompt(fmt.Sprint(cfg.API.Port))
	if err != nil {
		return err
	}
	var port int
	if n, _ := fmt.Sscanf(portStr, "%d", &port); n == 1 && port > 0 && port < 65536 {
		cfg.API.Port = port
	}
	fmt.Fprint(os.Stdout, "API auth token (empty leaves the API open, fine behind a private network)")
	token, err := prompt(cfg.API.AuthToken)
	if err != nil {
		return err
	}
	cfg.API.AuthToken = token
	fmt.Fprintf(os.Stdout, "  API on port %d\n", cfg.API.Port)

	// Save
	cfgDir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: run 'crystalbay doctor' to verify, then 'crystalbay serve' to start the gateway.")
	return nil
}
