package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/azrailbeat/crystalbay-sub001/internal/automation"
	"github.com/azrailbeat/crystalbay-sub001/internal/bus"
	"github.com/azrailbeat/crystalbay-sub001/internal/config"
	"github.com/azrailbeat/crystalbay-sub001/internal/connector"
	"github.com/azrailbeat/crystalbay-sub001/internal/hub"
	"github.com/azrailbeat/crystalbay-sub001/internal/lead"
	"github.com/azrailbeat/crystalbay-sub001/internal/notify"
	"github.com/azrailbeat/crystalbay-sub001/internal/store"
	"github.com/azrailbeat/crystalbay-sub001/internal/webapi"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "crystalbay",
		Short: "Crystal Bay messaging gateway",
		Long:  "Unified messaging gateway for the Crystal Bay Travel CRM: Telegram and WhatsApp (Wazzup) in one conversation feed, with automation rules and a JSON API.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.crystalbay/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// buildLogger replaces the bootstrap logger once the config is known.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := io.Writer(os.Stderr)
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				out = io.MultiWriter(os.Stderr, f)
			} else {
				logger.Warn("cannot open log file, logging to stderr only", "path", cfg.General.LogFile, "err", err)
			}
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s (edit it, or remove it first)", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Config written to %s\n", cfgPath)
			fmt.Println("Set channel credentials there (or via TELEGRAM_BOT_TOKEN / WAZZUP_API_KEY), then run 'crystalbay serve'.")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the messaging gateway (connectors + API + automation)",
		Long:  "Connects every enabled channel, starts webhook and API endpoints, and runs automation rules on incoming messages. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = buildLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.NewEventBus(logger)

	convStore, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}
	defer convStore.Close()

	leadSvc, err := lead.NewService(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("lead service: %w", err)
	}
	defer leadSvc.Close()

	var slackToken, slackChannel string
	if cfg.Notify.Slack.Enabled {
		slackToken = cfg.Notify.Slack.BotToken
		slackChannel = cfg.Notify.Slack.Channel
	}
	notifier := notify.New(notify.Config{
		Logger:       logger,
		Events:       events,
		SlackToken:   slackToken,
		SlackChannel: slackChannel,
	})
	notifier.WatchLeads()

	registry := connector.NewRegistry(logger)
	if cfg.Channels.Telegram.Enabled {
		registry.Register(connector.NewTelegram(connector.TelegramConfig{
			Token:         cfg.Channels.Telegram.Token,
			ParseMode:     cfg.Channels.Telegram.ParseMode,
			WebhookSecret: cfg.Channels.Telegram.WebhookSecret,
			PollTimeout:   cfg.Channels.Telegram.PollTimeout,
			Logger:        logger,
		}))
	}
	if cfg.Channels.Wazzup.Enabled {
		registry.Register(connector.NewWazzup(connector.WazzupConfig{
			APIKey:        cfg.Channels.Wazzup.APIKey,
			APIBase:       cfg.Channels.Wazzup.APIBase,
			ChannelID:     cfg.Channels.Wazzup.ChannelID,
			ChatType:      cfg.Channels.Wazzup.ChatType,
			WebhookSecret: cfg.Channels.Wazzup.WebhookSecret,
			Logger:        logger,
		}))
		registry.Alias("whatsapp", "wazzup")
	}
	if len(registry.Names()) == 0 {
		logger.Warn("no channels enabled; only the API will be useful")
	}

	h := hub.New(hub.Config{
		Logger:            logger,
		Registry:          registry,
		Store:             convStore,
		Leads:             leadSvc,
		Events:            events,
		Notifier:          notifier,
		AutomationEnabled: cfg.Automation.Enabled,
	})

	if cfg.Automation.RulesPath != "" {
		rules, err := automation.LoadRules(cfg.Automation.RulesPath)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		if len(rules) > 0 {
			h.SetRules(rules)
		}
	}

	for name, res := range h.Initialize(ctx) {
		switch {
		case res.Connected:
			logger.Info("channel connected", "channel", name, "identity", res.Identity)
		case !res.Configured:
			logger.Warn("channel has no credentials, disabled", "channel", name)
		default:
			logger.Warn("channel failed to connect", "channel", name, "err", res.Error)
		}
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.PollingEnabled {
		h.RunPollers(ctx, []string{"telegram"})
	}

	api := webapi.New(webapi.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		AuthToken:      cfg.API.AuthToken,
		EventStream:    cfg.API.EventStream,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Endpoint,
		Version:        version,
		Logger:         logger,
		Gateway:        h,
		Events:         events,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := api.Start(ctx); err != nil {
			serverErr <- err
		}
	}()

	logger.Info("gateway started. Press Ctrl+C to stop.")

	select {
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Shutdown()
		api.Stop()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// loadConfigOrDefaults is for client commands that can work without a config
// file (talking to a gateway on default ports).
func loadConfigOrDefaults() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Defaults()
	}
	return cfg
}

// apiRequest issues one request against a running gateway and returns the
// response body.
func apiRequest(cfg *config.Config, method, path string, body any) ([]byte, error) {
	host := cfg.API.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d%s", host, cfg.API.Port, path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.API.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.API.AuthToken)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach gateway at %s (is 'crystalbay serve' running?): %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway replied %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func printJSON(data []byte) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(pretty))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway and channel status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			data, err := apiRequest(cfg, "GET", "/api/status", nil)
			if err != nil {
				logger.Info("gateway", "running", false, "err", err)
				return nil
			}
			printJSON(data)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var agentName string

	cmd := &cobra.Command{
		Use:   "send [channel] [chat_id] [text...]",
		Short: "Send a message through a running gateway",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			data, err := apiRequest(cfg, "POST", "/api/messages/send", map[string]string{
				"channel":    args[0],
				"chat_id":    args[1],
				"text":       strings.Join(args[2:], " "),
				"agent_name": agentName,
			})
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "cli", "agent name recorded on the message")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage automation rules on a running gateway",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded automation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiRequest(loadConfigOrDefaults(), "GET", "/api/automation/rules", nil)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	})

	addCmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add an automation rule",
		Args:  cobra.ExactArgs(1),
	}
	var (
		channel  string
		msgType  string
		keywords []string
		action   string
		reply    string
		agent    string
		message  string
	)
	addCmd.Flags().StringVar(&channel, "channel", "", "only match this channel")
	addCmd.Flags().StringVar(&msgType, "type", "", "only match this message type (text, photo, location, ...)")
	addCmd.Flags().StringSliceVar(&keywords, "keyword", nil, "keyword to match (repeatable, any-of)")
	addCmd.Flags().StringVar(&action, "action", "auto_reply", "action type: auto_reply, assign_agent, create_lead, notify")
	addCmd.Flags().StringVar(&reply, "reply", "", "reply text for auto_reply")
	addCmd.Flags().StringVar(&agent, "agent", "", "agent for assign_agent")
	addCmd.Flags().StringVar(&message, "message", "", "notification text for notify")
	addCmd.RunE = func(cmd *cobra.Command, args []string) error {
		rule := automation.Rule{
			Name: args[0],
			Conditions: automation.Conditions{
				Channel:     channel,
				MessageType: msgType,
				Keywords:    keywords,
			},
			Action: automation.Action{
				Type:    action,
				Reply:   reply,
				Agent:   agent,
				Message: message,
			},
		}
		data, err := apiRequest(loadConfigOrDefaults(), "POST", "/api/automation/rules", rule)
		if err != nil {
			return err
		}
		printJSON(data)
		return nil
	}
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [index]",
		Short: "Remove a rule by its current list position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiRequest(loadConfigOrDefaults(), "DELETE", "/api/automation/rules/"+args[0], nil)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. api.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.telegram.enabled true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (tokens redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
