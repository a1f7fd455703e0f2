package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

type stubConnector struct {
	name string
}

func (s *stubConnector) Name() string                          { return s.name }
func (s *stubConnector) Initialize() bool                      { return true }
func (s *stubConnector) Connect(ctx context.Context) (string, error) {
	return s.name, nil
}
func (s *stubConnector) Disconnect() {}
func (s *stubConnector) SendMessage(ctx context.Context, chatID, text string, opts domain.SendOptions) (*domain.SendResult, error) {
	return &domain.SendResult{ExternalMessageID: "1"}, nil
}
func (s *stubConnector) Normalize(payload []byte) *domain.Message { return nil }
func (s *stubConnector) HandleWebhook(body []byte, signature string) ([]json.RawMessage, error) {
	return nil, nil
}
func (s *stubConnector) Status() domain.ConnectorStatus {
	return domain.ConnectorStatus{Channel: s.name}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubConnector{name: "telegram"})

	c, err := reg.Resolve("telegram")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if c.Name() != "telegram" {
		t.Errorf("expected telegram, got %s", c.Name())
	}
}

func TestRegistryResolveCaseInsensitive(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubConnector{name: "wazzup"})

	for _, name := range []string{"Wazzup", "WAZZUP", "  wazzup  "} {
		if _, err := reg.Resolve(name); err != nil {
			t.Errorf("Resolve(%q) failed: %v", name, err)
		}
	}
}

func TestRegistryAlias(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubConnector{name: "wazzup"})
	reg.Alias("whatsapp", "wazzup")

	c, err := reg.Resolve("WhatsApp")
	if err != nil {
		t.Fatalf("Resolve alias failed: %v", err)
	}
	if c.Name() != "wazzup" {
		t.Errorf("expected wazzup behind alias, got %s", c.Name())
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := NewRegistry(testLogger())

	_, err := reg.Resolve("viber")
	if !errors.Is(err, domain.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubConnector{name: "wazzup"})
	reg.Register(&stubConnector{name: "telegram"})

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
	if names[0] != "telegram" || names[1] != "wazzup" {
		t.Errorf("expected sorted names, got %v", names)
	}
}

func TestRegistryAll(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubConnector{name: "telegram"})

	all := reg.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 connector, got %d", len(all))
	}
	if _, ok := all["telegram"]; !ok {
		t.Error("telegram missing from All()")
	}
}
