package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for logLevel=verbose")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.API.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.API.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_EmptyDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty dbPath")
	}
}

func TestValidate_PollTimeoutBounds(t *testing.T) {
	cfg := Defaults()

	cfg.Channels.Telegram.PollTimeout = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for pollTimeout=0")
	}

	cfg.Channels.Telegram.PollTimeout = 301
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for pollTimeout=301")
	}

	cfg.Channels.Telegram.PollTimeout = 30
	if err := Validate(cfg); err != nil {
		t.Fatalf("pollTimeout=30 should be valid: %v", err)
	}
}

func TestValidate_InvalidParseMode(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.ParseMode = "BBCode"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid parseMode")
	}
}

func TestValidate_ValidParseModes(t *testing.T) {
	for _, mode := range []string{"", "HTML", "Markdown", "MarkdownV2"} {
		cfg := Defaults()
		cfg.Channels.Telegram.ParseMode = mode
		if err := Validate(cfg); err != nil {
			t.Fatalf("parseMode %q should be valid: %v", mode, err)
		}
	}
}

func TestValidate_WazzupEnabledWithoutBase(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Wazzup.Enabled = true
	cfg.Channels.Wazzup.APIBase = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled wazzup without apiBase")
	}
}

func TestValidate_SlackEnabledWithoutChannel(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.Slack.Enabled = true
	cfg.Notify.Slack.Channel = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for slack notify without channel")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Channels.Wazzup.ChannelID = "chan-123"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Channels.Wazzup.ChannelID != "chan-123" {
		t.Fatalf("expected 'chan-123', got %q", loaded.Channels.Wazzup.ChannelID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"api": {
			"port": 99999
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for port=99999")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "channels.wazzup.chatType")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "whatsapp" {
		t.Fatalf("expected 'whatsapp', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.logLevel", "debug"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected 'debug', got %q", cfg.General.LogLevel)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "channels.telegram.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Fatal("expected telegram.enabled=true")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "api.port", "9090"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.API.Port != 9090 {
		t.Fatalf("expected 9090, got %d", cfg.API.Port)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Channels.Wazzup.APIKey = "wz-1234567890abcdefghij"
	cfg.API.AuthToken = "secret-api-token-123456"

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Channels.Wazzup.APIKey == cfg.Channels.Wazzup.APIKey {
		t.Fatal("wazzup apiKey should be masked")
	}
	if sanitized.API.AuthToken == cfg.API.AuthToken {
		t.Fatal("api authToken should be masked")
	}
	// Verify original is untouched
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Channels.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.logLevel", "api.port", "channels.wazzup.apiBase"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_WZ_KEY", "wz-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_WZ_KEY}"}`)
	expected := `{"apiKey": "wz-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_CB_DB", "/tmp/test-messaging.db")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"storage": {
			"dbPath": "${TEST_CB_DB}"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.DBPath != "/tmp/test-messaging.db" {
		t.Fatalf("expected dbPath '/tmp/test-messaging.db', got %q", cfg.Storage.DBPath)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Storage.DBPath == "" {
		t.Fatal("dbPath should not be empty")
	}
	if cfg.Channels.Wazzup.APIBase != "https://api.wazzup24.com/v3" {
		t.Fatalf("unexpected wazzup apiBase: %q", cfg.Channels.Wazzup.APIBase)
	}
}
