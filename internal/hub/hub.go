package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/azrailbeat/crystalbay-sub001/internal/automation"
	"github.com/azrailbeat/crystalbay-sub001/internal/bus"
	"github.com/azrailbeat/crystalbay-sub001/internal/connector"
	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
	"github.com/azrailbeat/crystalbay-sub001/internal/metrics"
)

// Hub routes messages between channel connectors, the conversation store and
// the automation engine. It is the single write path for inbound traffic:
// webhooks and pollers both land in HandleIncoming.
type Hub struct {
	logger     *slog.Logger
	registry   *connector.Registry
	store      domain.ConversationStore
	leads      domain.LeadService
	events     *bus.EventBus
	automation *automation.Engine
	autoOn     bool
}

type Config struct {
	Logger            *slog.Logger
	Registry          *connector.Registry
	Store             domain.ConversationStore
	Leads             domain.LeadService
	Events            *bus.EventBus
	Notifier          automation.Notifier
	AutomationEnabled bool
}

// InitResult reports one connector's startup outcome.
type InitResult struct {
	Channel    string `json:"channel"`
	Configured bool   `json:"configured"`
	Connected  bool   `json:"connected"`
	Identity   string `json:"identity,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WebhookResult summarizes one processed webhook request.
type WebhookResult struct {
	Channel  string        `json:"channel"`
	Received int           `json:"received"`
	Stored   int           `json:"stored"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Items    []WebhookItem `json:"items,omitempty"`
}

// WebhookItem is the outcome of one message inside a webhook batch.
type WebhookItem struct {
	Index     int    `json:"index"`
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Stats aggregates store counters for the dashboard.
type Stats struct {
	Channels           []domain.ChannelStat `json:"channels"`
	TotalConversations int                  `json:"total_conversations"`
	TotalMessages      int                  `json:"total_messages"`
	Unread             int                  `json:"unread"`
}

func New(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Hub{
		logger:   cfg.Logger,
		registry: cfg.Registry,
		store:    cfg.Store,
		events:   cfg.Events,
		autoOn:   cfg.AutomationEnabled,
	}
	h.leads = &instrumentedLeads{inner: cfg.Leads, events: cfg.Events}
	h.automation = automation.NewEngine(automation.Config{
		Logger:        cfg.Logger,
		Replies:       h,
		Conversations: cfg.Store,
		Leads:         h.leads,
		Notifier:      cfg.Notifier,
	})
	return h
}

// Initialize brings up every registered connector. One connector failing to
// connect never blocks the others; the caller gets a result per channel.
func (h *Hub) Initialize(ctx context.Context) map[string]InitResult {
	results := make(map[string]InitResult)
	for name, c := range h.registry.All() {
		res := InitResult{Channel: name}
		res.Configured = c.Initialize()
		if !res.Configured {
			results[name] = res
			continue
		}

		identity, err := c.Connect(ctx)
		if err != nil {
			res.Error = err.Error()
			h.logger.Error("connector failed to connect", "channel", name, "err", err)
			h.emit(bus.EventConnectorError, map[string]any{"channel": name, "err": err.Error()})
			results[name] = res
			continue
		}

		res.Connected = true
		res.Identity = identity
		h.emit(bus.EventConnectorConnected, map[string]any{"channel": name, "identity": identity})
		results[name] = res
	}
	return results
}

// Shutdown disconnects every connector.
func (h *Hub) Shutdown() {
	for name, c := range h.registry.All() {
		c.Disconnect()
		h.logger.Debug("connector disconnected", "channel", name)
	}
}

// SendMessage delivers an outbound message and records it. The message is
// persisted only after the provider accepted it, so the store never claims
// a send that did not happen.
func (h *Hub) SendMessage(ctx context.Context, channel, chatID, text string, opts domain.SendOptions) (*domain.MessageRecord, error) {
	c, err := h.registry.Resolve(channel)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.SendMessage(ctx, chatID, text, opts)
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SendFailures.Inc()
		h.emit(bus.EventConnectorError, map[string]any{"channel": c.Name(), "err": err.Error()})
		return nil, err
	}

	conv, created, err := h.store.FindOrCreateConversation(ctx, &domain.Conversation{
		Channel:        c.Name(),
		ExternalChatID: chatID,
		CustomerName:   opts.CustomerName,
		CustomerPhone:  opts.CustomerPhone,
	})
	if err != nil {
		return nil, fmt.Errorf("message sent but conversation lookup failed: %w", err)
	}
	if created {
		h.emit(bus.EventConversationCreated, map[string]any{
			"conversation_id": conv.ID, "channel": conv.Channel,
		})
	}

	msgType := domain.TypeText
	if opts.MessageType != "" {
		msgType = domain.MessageType(opts.MessageType)
	}
	rec := &domain.MessageRecord{
		ConversationID: conv.ID,
		Message: domain.Message{
			ExternalMessageID: res.ExternalMessageID,
			ExternalChatID:    chatID,
			Channel:           c.Name(),
			Direction:         domain.DirectionOut,
			SenderType:        domain.SenderAgent,
			SenderID:          opts.AgentID,
			SenderName:        opts.AgentName,
			MessageType:       msgType,
			Content:           text,
			Timestamp:         time.Now().UTC(),
		},
		Status: domain.StatusSent,
	}
	if err := h.store.CreateMessage(ctx, rec); err != nil {
		return nil, fmt.Errorf("message sent but not recorded: %w", err)
	}

	metrics.MessagesOutTotal.Inc()
	metrics.ChannelMessagesOut(c.Name()).Inc()
	h.emit(bus.EventMessageSent, map[string]any{
		"conversation_id": conv.ID,
		"channel":         c.Name(),
		"chat_id":         chatID,
		"message_id":      rec.ID,
	})
	h.logger.Info("message sent", "channel", c.Name(), "chat_id", chatID, "message_id", rec.ID)
	return rec, nil
}

// HandleIncoming normalizes one raw provider payload, stores it and runs
// automation. A nil, nil return means the payload was valid but carried
// nothing to store (echoes, status updates, service messages).
func (h *Hub) HandleIncoming(ctx context.Context, channel string, payload []byte) (*domain.MessageRecord, error) {
	c, err := h.registry.Resolve(channel)
	if err != nil {
		return nil, err
	}

	msg := c.Normalize(payload)
	if msg == nil {
		return nil, nil
	}

	conv, created, err := h.store.FindOrCreateConversation(ctx, &domain.Conversation{
		Channel:          c.Name(),
		ExternalChatID:   msg.ExternalChatID,
		CustomerName:     msg.SenderName,
		CustomerPhone:    msg.SenderPhone,
		CustomerUsername: msg.SenderUsername,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}
	if created {
		h.emit(bus.EventConversationCreated, map[string]any{
			"conversation_id": conv.ID, "channel": conv.Channel,
		})
		h.logger.Info("conversation started", "channel", conv.Channel, "chat_id", conv.ExternalChatID)
	}

	rec := &domain.MessageRecord{
		ConversationID: conv.ID,
		Message:        *msg,
		Status:         domain.StatusReceived,
	}
	if err := h.store.CreateMessage(ctx, rec); err != nil {
		return nil, fmt.Errorf("message store: %w", err)
	}

	metrics.MessagesInTotal.Inc()
	metrics.ChannelMessagesIn(c.Name()).Inc()
	h.emit(bus.EventMessageReceived, map[string]any{
		"conversation_id": conv.ID,
		"channel":         c.Name(),
		"message_id":      rec.ID,
		"message_type":    string(msg.MessageType),
	})

	if h.autoOn {
		for _, res := range h.automation.Evaluate(ctx, conv, msg) {
			metrics.AutomationMatches.Inc()
			ok := res.Err == nil
			if !ok {
				metrics.AutomationFailures.Inc()
			}
			h.emit(bus.EventAutomationMatched, map[string]any{
				"rule": res.Rule, "action": res.Action, "ok": ok,
			})
		}
	}
	return rec, nil
}

// HandleWebhook verifies and unpacks one webhook request, then processes
// each item independently. A poison item is counted and logged without
// failing the rest of the batch.
func (h *Hub) HandleWebhook(ctx context.Context, channel string, body []byte, signature string) (*WebhookResult, error) {
	c, err := h.registry.Resolve(channel)
	if err != nil {
		return nil, err
	}

	items, err := c.HandleWebhook(body, signature)
	if err != nil {
		return nil, err
	}

	metrics.WebhooksTotal.Inc()
	h.emit(bus.EventWebhookReceived, map[string]any{"channel": c.Name(), "items": len(items)})

	result := &WebhookResult{Channel: c.Name(), Received: len(items)}
	for i, item := range items {
		rec, err := h.HandleIncoming(ctx, c.Name(), item)
		switch {
		case err != nil:
			result.Failed++
			result.Items = append(result.Items, WebhookItem{Index: i, Status: "failed", Error: err.Error()})
			metrics.WebhookItemsFailed.Inc()
			h.logger.Warn("webhook item failed", "channel", c.Name(), "err", err)
		case rec == nil:
			result.Skipped++
			result.Items = append(result.Items, WebhookItem{Index: i, Status: "skipped"})
		default:
			result.Stored++
			result.Items = append(result.Items, WebhookItem{Index: i, Status: "stored", MessageID: rec.ID})
		}
	}
	return result, nil
}

// Reply sends an automated answer back into the conversation's channel.
// Automation rules use this path, so auto replies are persisted and counted
// exactly like agent messages.
func (h *Hub) Reply(ctx context.Context, conv *domain.Conversation, text string) error {
	_, err := h.SendMessage(ctx, conv.Channel, conv.ExternalChatID, text, domain.SendOptions{
		AgentName: "autoresponder",
	})
	return err
}

// RunPollers starts long-poll ingestion for the named channels. Channels
// whose connector does not poll, or is not connected, are skipped.
func (h *Hub) RunPollers(ctx context.Context, channels []string) {
	for _, name := range channels {
		c, err := h.registry.Resolve(name)
		if err != nil {
			h.logger.Warn("cannot poll unknown channel", "channel", name)
			continue
		}
		p, ok := c.(domain.Poller)
		if !ok {
			h.logger.Warn("channel does not support polling", "channel", name)
			continue
		}
		if !c.Status().Connected {
			h.logger.Warn("skipping poller for disconnected channel", "channel", name)
			continue
		}

		go func(name string, p domain.Poller) {
			err := p.StartPolling(ctx, func(ctx context.Context, payload []byte) {
				if _, err := h.HandleIncoming(ctx, name, payload); err != nil {
					h.logger.Warn("polled update failed", "channel", name, "err", err)
				}
			})
			if err != nil {
				h.logger.Error("polling stopped", "channel", name, "err", err)
			}
		}(c.Name(), p)
	}
}

// Status reports every connector's current state.
func (h *Hub) Status() map[string]domain.ConnectorStatus {
	out := make(map[string]domain.ConnectorStatus)
	for name, c := range h.registry.All() {
		out[name] = c.Status()
	}
	return out
}

// Channels lists the registered canonical channel names.
func (h *Hub) Channels() []string {
	return h.registry.Names()
}

// --- store delegations ---

func (h *Hub) Conversations(ctx context.Context, f domain.ConversationFilter) ([]domain.Conversation, error) {
	return h.store.Conversations(ctx, f)
}

func (h *Hub) Messages(ctx context.Context, f domain.MessageFilter) ([]domain.MessageRecord, error) {
	return h.store.Messages(ctx, f)
}

func (h *Hub) MarkRead(ctx context.Context, messageID string) error {
	return h.store.MarkRead(ctx, messageID)
}

func (h *Hub) AssignAgent(ctx context.Context, conversationID, agent string) error {
	return h.store.AssignAgent(ctx, conversationID, agent)
}

// Stats aggregates per-channel counters plus totals.
func (h *Hub) Stats(ctx context.Context) (*Stats, error) {
	channels, err := h.store.ChannelStats(ctx)
	if err != nil {
		return nil, err
	}
	unread, err := h.store.UnreadCount(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{Channels: channels, Unread: unread}
	for _, ch := range channels {
		st.TotalConversations += ch.Conversations
		st.TotalMessages += ch.Messages
	}
	return st, nil
}

// --- lead delegations ---

func (h *Hub) CreateLead(ctx context.Context, req domain.LeadRequest) (*domain.Lead, error) {
	return h.leads.CreateLead(ctx, req)
}

func (h *Hub) Leads(ctx context.Context, limit int) ([]domain.Lead, error) {
	return h.leads.Leads(ctx, limit)
}

// --- automation delegations ---

func (h *Hub) Rules() []automation.Rule {
	return h.automation.Rules()
}

func (h *Hub) AddRule(rule automation.Rule) (automation.Rule, error) {
	return h.automation.AddRule(rule)
}

func (h *Hub) RemoveRule(index int) error {
	return h.automation.RemoveRule(index)
}

func (h *Hub) SetRules(rules []automation.Rule) {
	h.automation.SetRules(rules)
	h.logger.Info("automation rules loaded", "count", len(rules))
}

func (h *Hub) emit(eventType string, payload map[string]any) {
	if h.events == nil {
		return
	}
	h.events.Emit(bus.Event{Type: eventType, Source: "hub", Payload: payload})
}

// instrumentedLeads wraps the lead service with metrics and events so every
// creation path (automation or API) is counted the same way.
type instrumentedLeads struct {
	inner  domain.LeadService
	events *bus.EventBus
}

func (l *instrumentedLeads) CreateLead(ctx context.Context, req domain.LeadRequest) (*domain.Lead, error) {
	if l.inner == nil {
		return nil, fmt.Errorf("lead service not configured")
	}
	lead, err := l.inner.CreateLead(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.LeadsCreated.Inc()
	if l.events != nil {
		l.events.Emit(bus.Event{
			Type:   bus.EventLeadCreated,
			Source: "hub",
			Payload: map[string]any{
				"lead_id": lead.ID, "source": lead.Source, "customer": lead.CustomerName,
			},
		})
	}
	return lead, nil
}

func (l *instrumentedLeads) Leads(ctx context.Context, limit int) ([]domain.Lead, error) {
	if l.inner == nil {
		return nil, fmt.Errorf("lead service not configured")
	}
	return l.inner.Leads(ctx, limit)
}
