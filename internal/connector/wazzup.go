package connector

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

const wazzupDefaultAPIBase = "https://api.wazzup24.com/v3"

// Wazzup talks to the Wazzup24 aggregator, which fronts WhatsApp accounts
// behind a plain HTTP API. Sending is stateless, so the connector works as
// soon as an API key is present; Connect only verifies the key and caches
// the channel list for status reporting.
type Wazzup struct {
	apiKey        string
	apiBase       string
	channelID     string
	chatType      string
	webhookSecret string

	client *http.Client
	logger *slog.Logger

	mu         sync.RWMutex
	configured bool
	connected  bool
	identity   string
	lastErr    string
}

type WazzupConfig struct {
	APIKey        string
	APIBase       string
	ChannelID     string
	ChatType      string
	WebhookSecret string
	Logger        *slog.Logger
}

type wazzupEnv struct {
	APIKey        string `env:"WAZZUP_API_KEY"`
	ChannelID     string `env:"WAZZUP_CHANNEL_ID"`
	WebhookSecret string `env:"WAZZUP_WEBHOOK_SECRET"`
}

type wzChannel struct {
	ChannelID string `json:"channelId"`
	Transport string `json:"transport"`
	State     string `json:"state"`
}

type wzSendRequest struct {
	ChannelID string `json:"channelId"`
	ChatType  string `json:"chatType"`
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
}

type wzSendResponse struct {
	MessageID string `json:"messageId"`
}

type wzContact struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Username string `json:"username,omitempty"`
}

type wzGeo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type wzMessage struct {
	MessageID  string     `json:"messageId"`
	ChannelID  string     `json:"channelId"`
	ChatType   string     `json:"chatType"`
	ChatID     string     `json:"chatId"`
	Type       string     `json:"type"`
	Text       string     `json:"text,omitempty"`
	ContentURI string     `json:"contentUri,omitempty"`
	Contact    *wzContact `json:"contact,omitempty"`
	Geo        *wzGeo     `json:"geo,omitempty"`
	AuthorName string     `json:"authorName,omitempty"`
	DateTime   string     `json:"dateTime,omitempty"`
	IsEcho     bool       `json:"isEcho"`
}

func NewWazzup(cfg WazzupConfig) *Wazzup {
	if cfg.APIBase == "" {
		cfg.APIBase = wazzupDefaultAPIBase
	}
	if cfg.ChatType == "" {
		cfg.ChatType = "whatsapp"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Wazzup{
		apiKey:        cfg.APIKey,
		apiBase:       strings.TrimRight(cfg.APIBase, "/"),
		channelID:     cfg.ChannelID,
		chatType:      cfg.ChatType,
		webhookSecret: cfg.WebhookSecret,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        cfg.Logger,
	}
}

func (w *Wazzup) Name() string { return "wazzup" }

func (w *Wazzup) Initialize() bool {
	var fallback wazzupEnv
	_ = env.Parse(&fallback)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.apiKey == "" {
		w.apiKey = fallback.APIKey
	}
	if w.channelID == "" {
		w.channelID = fallback.ChannelID
	}
	if w.webhookSecret == "" {
		w.webhookSecret = fallback.WebhookSecret
	}
	if w.apiKey == "" {
		w.logger.Warn("wazzup api key missing, channel disabled")
		w.configured = false
		return false
	}
	w.configured = true
	return true
}

// Connect lists the account channels to prove the API key works.
func (w *Wazzup) Connect(ctx context.Context) (string, error) {
	w.mu.RLock()
	configured := w.configured
	w.mu.RUnlock()

	if !configured {
		return "", domain.ErrNotConfigured
	}

	body, err := w.call(ctx, http.MethodGet, "/channels", nil)
	if err != nil {
		w.recordError(err)
		return "", err
	}

	var channels []wzChannel
	if err := json.Unmarshal(body, &channels); err != nil {
		err = fmt.Errorf("wazzup channels decode: %w", err)
		w.recordError(err)
		return "", err
	}

	identity := w.channelID
	if identity == "" {
		for _, ch := range channels {
			if ch.State == "active" {
				identity = ch.ChannelID
				break
			}
		}
	}
	if identity == "" {
		identity = fmt.Sprintf("%d channels", len(channels))
	}

	w.mu.Lock()
	w.connected = true
	w.identity = identity
	w.lastErr = ""
	w.mu.Unlock()

	w.logger.Info("wazzup connected", "channels", len(channels), "identity", identity)
	return identity, nil
}

func (w *Wazzup) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
}

// SendMessage posts text to a chat through the default channel. Wazzup does
// not need a prior Connect; a configured key is enough.
func (w *Wazzup) SendMessage(ctx context.Context, chatID, text string, opts domain.SendOptions) (*domain.SendResult, error) {
	w.mu.RLock()
	configured := w.configured
	channelID := w.channelID
	w.mu.RUnlock()

	if !configured {
		return nil, domain.ErrNotConfigured
	}

	chatType := w.chatType
	if opts.ChatType != "" {
		chatType = opts.ChatType
	}

	payload := wzSendRequest{
		ChannelID: channelID,
		ChatType:  chatType,
		ChatID:    chatID,
		Text:      text,
	}

	body, err := w.call(ctx, http.MethodPost, "/message", payload)
	if err != nil {
		w.recordError(err)
		return nil, err
	}

	var resp wzSendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Provider accepted the message even if we cannot read the id back.
		w.logger.Warn("wazzup send response decode", "err", err)
	}
	return &domain.SendResult{ExternalMessageID: resp.MessageID, Raw: body}, nil
}

// Normalize converts one webhook message item into a canonical message.
// Echoes of our own outbound messages and status payloads return nil.
func (w *Wazzup) Normalize(payload []byte) *domain.Message {
	var msg wzMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil
	}
	if msg.ChatID == "" && msg.MessageID == "" {
		return nil
	}
	if msg.IsEcho {
		return nil
	}

	m := &domain.Message{
		ExternalMessageID: msg.MessageID,
		ExternalChatID:    msg.ChatID,
		Channel:           "wazzup",
		Direction:         domain.DirectionIn,
		SenderType:        domain.SenderCustomer,
		SenderID:          msg.ChatID,
		MessageType:       domain.TypeText,
		Content:           msg.Text,
		Timestamp:         time.Now().UTC(),
	}
	if ts, err := time.Parse(time.RFC3339, msg.DateTime); err == nil {
		m.Timestamp = ts
	}
	if msg.Contact != nil {
		m.SenderName = msg.Contact.Name
		m.SenderPhone = msg.Contact.Phone
		m.SenderUsername = msg.Contact.Username
	}
	if m.SenderName == "" {
		m.SenderName = msg.AuthorName
	}
	if m.SenderPhone == "" && msg.ChatType == "whatsapp" {
		// WhatsApp chat ids are the customer's phone number.
		m.SenderPhone = msg.ChatID
	}

	switch msg.Type {
	case "text", "":
	case "image":
		m.MessageType = domain.TypePhoto
		m.MediaURL = msg.ContentURI
	case "document":
		m.MessageType = domain.TypeDocument
		m.MediaURL = msg.ContentURI
	case "audio":
		m.MessageType = domain.TypeVoice
		m.MediaURL = msg.ContentURI
	case "video":
		m.MessageType = domain.TypeVideo
		m.MediaURL = msg.ContentURI
	case "sticker":
		m.MessageType = domain.TypeSticker
		m.MediaURL = msg.ContentURI
	case "geo":
		m.MessageType = domain.TypeLocation
		if msg.Geo != nil {
			m.Content = fmt.Sprintf("%.6f, %.6f", msg.Geo.Latitude, msg.Geo.Longitude)
		}
	case "vcard":
		m.MessageType = domain.TypeContact
	default:
		// Unknown content types keep the text fallback.
	}

	meta := map[string]any{}
	if msg.ChannelID != "" {
		meta["channel_id"] = msg.ChannelID
	}
	if msg.ChatType != "" {
		meta["chat_type"] = msg.ChatType
	}
	if msg.Geo != nil && msg.Geo.Address != "" {
		meta["address"] = msg.Geo.Address
	}
	if len(meta) > 0 {
		m.Metadata = meta
	}
	return m
}

// HandleWebhook validates the shared secret and splits the envelope into
// individual message items. Test pings and status-only envelopes yield an
// empty batch.
func (w *Wazzup) HandleWebhook(body []byte, signature string) ([]json.RawMessage, error) {
	w.mu.RLock()
	secret := w.webhookSecret
	w.mu.RUnlock()

	if secret != "" {
		token := strings.TrimPrefix(signature, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return nil, domain.ErrBadSignature
		}
	}

	var envelope struct {
		Test     bool              `json:"test"`
		Messages []json.RawMessage `json:"messages"`
		Statuses []json.RawMessage `json:"statuses"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("wazzup webhook: %w", err)
	}
	if envelope.Test {
		w.logger.Info("wazzup webhook test ping")
		return nil, nil
	}
	if len(envelope.Messages) == 0 && len(envelope.Statuses) > 0 {
		// Delivery receipts carry no content to store.
		return nil, nil
	}
	return envelope.Messages, nil
}

func (w *Wazzup) Status() domain.ConnectorStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return domain.ConnectorStatus{
		Channel:    "wazzup",
		Configured: w.configured,
		Connected:  w.connected,
		Identity:   w.identity,
		LastError:  w.lastErr,
		CheckedAt:  time.Now().UTC(),
	}
}

// call performs one API request with the bearer key and returns the body.
// Non-2xx statuses become a domain.ProviderError carrying the response.
func (w *Wazzup) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	w.mu.RLock()
	apiKey := w.apiKey
	w.mu.RUnlock()

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wazzup request encode: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.apiBase+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("wazzup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wazzup %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("wazzup response read: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return nil, &domain.ProviderError{Channel: "wazzup", Status: resp.StatusCode, Body: detail}
	}
	return body, nil
}

func (w *Wazzup) recordError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = err.Error()
}
