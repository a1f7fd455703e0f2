package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the messaging gateway.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Channels   ChannelsConfig   `json:"channels"`
	Storage    StorageConfig    `json:"storage"`
	Automation AutomationConfig `json:"automation"`
	Notify     NotifyConfig     `json:"notify"`
	API        APIConfig        `json:"api"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Wazzup   WazzupConfig   `json:"wazzup"`
}

type TelegramConfig struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"token,omitempty"`
	ParseMode      string `json:"parseMode"`
	WebhookSecret  string `json:"webhookSecret,omitempty"` // X-Telegram-Bot-Api-Secret-Token
	PollingEnabled bool   `json:"pollingEnabled"`          // long polling instead of webhooks
	PollTimeout    int    `json:"pollTimeoutSeconds"`
}

// WazzupConfig configures the Wazzup24 connector (WhatsApp and friends).
type WazzupConfig struct {
	Enabled       bool   `json:"enabled"`
	APIKey        string `json:"apiKey,omitempty"`
	APIBase       string `json:"apiBase,omitempty"`
	ChannelID     string `json:"channelId,omitempty"` // default outbound wazzup channel
	ChatType      string `json:"chatType,omitempty"`  // default chat type for sends
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

type AutomationConfig struct {
	Enabled   bool   `json:"enabled"`
	RulesPath string `json:"rulesPath,omitempty"` // YAML rules file loaded at startup
}

type NotifyConfig struct {
	Slack SlackNotifyConfig `json:"slack"`
}

// SlackNotifyConfig routes operator notifications to a Slack channel.
type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

type APIConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	AuthToken   string `json:"authToken,omitempty"` // bearer token for /api routes
	EventStream bool   `json:"eventStream"`         // enable the /ws/events feed
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.crystalbay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crystalbay"
	}
	return filepath.Join(home, ".crystalbay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Automation.RulesPath = ExpandPath(cfg.Automation.RulesPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.dbPath must not be empty")
	}

	if cfg.Channels.Telegram.PollTimeout < 1 || cfg.Channels.Telegram.PollTimeout > 300 {
		errs = append(errs, "channels.telegram.pollTimeoutSeconds must be between 1 and 300")
	}
	switch cfg.Channels.Telegram.ParseMode {
	case "", "HTML", "Markdown", "MarkdownV2":
		// valid
	default:
		errs = append(errs, "channels.telegram.parseMode must be one of: HTML, Markdown, MarkdownV2")
	}

	if cfg.Channels.Wazzup.Enabled && cfg.Channels.Wazzup.APIBase == "" {
		errs = append(errs, "channels.wazzup.apiBase must not be empty when wazzup is enabled")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.Channel == "" {
		errs = append(errs, "notify.slack.channel must be set when slack notifications are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
