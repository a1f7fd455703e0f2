package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "api.port").
// Path segments are the json tag names of the config structs.
func GetByPath(cfg *Config, path string) (any, error) {
	v := reflect.ValueOf(cfg).Elem()
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("cannot traverse into %s at %s", v.Kind(), key)
		}
		field, ok := fieldByTag(v, key)
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		v = field
	}
	return v.Interface(), nil
}

// SetByPath sets a config value by dot-notation path. String input is
// converted to the field's type, so "true" and "9090" land as bool and int.
func SetByPath(cfg *Config, path string, value any) error {
	v := reflect.ValueOf(cfg).Elem()
	parts := strings.Split(path, ".")
	for i, key := range parts {
		if v.Kind() != reflect.Struct {
			return fmt.Errorf("cannot traverse into %s at %s", v.Kind(), key)
		}
		field, ok := fieldByTag(v, key)
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		if i == len(parts)-1 {
			return assign(field, value, path)
		}
		v = field
	}
	return fmt.Errorf("empty path")
}

// fieldByTag finds the struct field whose json tag name matches key.
func fieldByTag(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if tag == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func assign(field reflect.Value, value any, path string) error {
	if !field.CanSet() {
		return fmt.Errorf("cannot set %s", path)
	}
	raw := fmt.Sprint(value)
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", path, raw)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%s expects a number, got %q", path, raw)
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("%s is a %s section, not a settable value", path, field.Kind())
	}
	return nil
}

// Sanitize returns a copy of the config with credentials masked for display.
func Sanitize(cfg *Config) *Config {
	c := *cfg

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Token = maskString(c.Channels.Telegram.Token)
	}
	if c.Channels.Telegram.WebhookSecret != "" {
		c.Channels.Telegram.WebhookSecret = "***"
	}
	if c.Channels.Wazzup.APIKey != "" {
		c.Channels.Wazzup.APIKey = maskString(c.Channels.Wazzup.APIKey)
	}
	if c.Channels.Wazzup.WebhookSecret != "" {
		c.Channels.Wazzup.WebhookSecret = "***"
	}
	if c.Notify.Slack.BotToken != "" {
		c.Notify.Slack.BotToken = maskString(c.Notify.Slack.BotToken)
	}
	if c.API.AuthToken != "" {
		c.API.AuthToken = maskString(c.API.AuthToken)
	}

	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable config path with its current value.
func ListPaths(cfg *Config) map[string]any {
	result := make(map[string]any)
	listFields("", reflect.ValueOf(cfg).Elem(), result)
	return result
}

func listFields(prefix string, v reflect.Value, result map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			listFields(path, field, result)
			continue
		}
		result[path] = field.Interface()
	}
}
