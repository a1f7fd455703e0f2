package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/azrailbeat/crystalbay-sub001/internal/bus"
)

const slackMaxMsgLen = 4000

// Notifier delivers operator notifications raised by automation rules.
// Every notification is logged and emitted on the event bus; when a Slack
// bot token is configured the text is also posted to the operators channel.
type Notifier struct {
	logger  *slog.Logger
	events  *bus.EventBus
	client  *slack.Client
	channel string
}

type Config struct {
	Logger       *slog.Logger
	Events       *bus.EventBus
	SlackToken   string
	SlackChannel string
}

func New(cfg Config) *Notifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	n := &Notifier{
		logger:  cfg.Logger,
		events:  cfg.Events,
		channel: cfg.SlackChannel,
	}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		n.client = slack.New(cfg.SlackToken)
	}
	return n
}

// WatchLeads forwards lead.created events to the operators, so leads from
// automation rules and from the API notify the same way.
func (n *Notifier) WatchLeads() {
	if n.events == nil {
		return
	}
	n.events.On(bus.EventLeadCreated, func(e bus.Event) {
		customer, _ := e.Payload["customer"].(string)
		source, _ := e.Payload["source"].(string)
		if customer == "" {
			customer = "unknown customer"
		}
		text := fmt.Sprintf("%s via %s", customer, source)
		if err := n.Notify(context.Background(), "New lead", text); err != nil {
			n.logger.Warn("lead notification failed", "err", err)
		}
	})
}

// Notify pushes one notification to the operators.
func (n *Notifier) Notify(ctx context.Context, title, text string) error {
	n.logger.Info("operator notification", "title", title)

	if n.events != nil {
		n.events.Emit(bus.Event{
			Type:    bus.EventAutomationNotify,
			Source:  "notify",
			Payload: map[string]any{"title": title, "text": text},
		})
	}

	if n.client == nil {
		return nil
	}

	body := fmt.Sprintf("*%s*\n%s", title, text)
	for _, chunk := range splitMessage(body, slackMaxMsgLen) {
		_, _, err := n.client.PostMessageContext(ctx, n.channel,
			slack.MsgOptionText(chunk, false),
		)
		if err != nil {
			return fmt.Errorf("slack post: %w", err)
		}
	}
	return nil
}

func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
