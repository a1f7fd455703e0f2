package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Connector is the contract every messaging channel implements.
type Connector interface {
	// Name returns the canonical channel identifier (lowercase).
	Name() string

	// Initialize merges constructor config with environment-sourced defaults
	// (explicit config wins) and reports whether the channel has usable
	// credentials. A false return disables the channel without failing the
	// process.
	Initialize() bool

	// Connect performs one liveness call against the provider and returns the
	// provider-side identity (bot username, account id).
	Connect(ctx context.Context) (string, error)

	// Disconnect releases the provider session. Safe to call when not connected.
	Disconnect()

	// SendMessage delivers text to an external chat. Provider failures are
	// returned, never panicked; missing credentials yield ErrNotConfigured.
	SendMessage(ctx context.Context, chatID, text string, opts SendOptions) (*SendResult, error)

	// Normalize converts one raw provider payload into the canonical form.
	// It never fails: payloads that carry no customer message yield nil, and
	// unknown content degrades to a plain text message.
	Normalize(payload []byte) *Message

	// HandleWebhook authenticates a webhook body and splits it into the
	// individual message payloads Normalize understands.
	HandleWebhook(body []byte, signature string) ([]json.RawMessage, error)

	// Status returns a point-in-time snapshot, safe for concurrent use.
	Status() ConnectorStatus
}

// ConnectorStatus is a read-only snapshot of a connector's state.
type ConnectorStatus struct {
	Channel    string    `json:"channel"`
	Configured bool      `json:"configured"`
	Connected  bool      `json:"connected"`
	Identity   string    `json:"identity,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Poller is implemented by connectors that can pull updates from the
// provider instead of receiving webhooks.
type Poller interface {
	StartPolling(ctx context.Context, sink func(ctx context.Context, payload []byte)) error
}
