package connector

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

// Telegram connects a Telegram bot to the gateway. Inbound updates arrive
// either through the webhook endpoint or through long polling; both paths
// deliver raw update JSON that Normalize turns into canonical messages.
type Telegram struct {
	token         string
	parseMode     string
	webhookSecret string
	pollTimeout   int

	logger *slog.Logger

	mu         sync.RWMutex
	bot        *tgbotapi.BotAPI
	configured bool
	connected  bool
	identity   string
	lastErr    string
}

type TelegramConfig struct {
	Token         string
	ParseMode     string
	WebhookSecret string
	PollTimeout   int
	Logger        *slog.Logger
}

// telegramEnv supplies credentials when the config file leaves them blank.
type telegramEnv struct {
	Token         string `env:"TELEGRAM_BOT_TOKEN"`
	WebhookSecret string `env:"TELEGRAM_WEBHOOK_SECRET"`
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "HTML"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:         cfg.Token,
		parseMode:     cfg.ParseMode,
		webhookSecret: cfg.WebhookSecret,
		pollTimeout:   cfg.PollTimeout,
		logger:        cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Initialize merges environment credentials into blanks left by the config
// file and reports whether the connector has enough to operate. A false
// return disables the channel without failing startup.
func (t *Telegram) Initialize() bool {
	var fallback telegramEnv
	_ = env.Parse(&fallback)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token == "" {
		t.token = fallback.Token
	}
	if t.webhookSecret == "" {
		t.webhookSecret = fallback.WebhookSecret
	}
	if t.token == "" {
		t.logger.Warn("telegram token missing, channel disabled")
		t.configured = false
		return false
	}
	t.configured = true
	return true
}

// Connect verifies the token against the Bot API and caches the client.
func (t *Telegram) Connect(ctx context.Context) (string, error) {
	t.mu.RLock()
	configured := t.configured
	token := t.token
	t.mu.RUnlock()

	if !configured {
		return "", domain.ErrNotConfigured
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		t.recordError(err)
		return "", fmt.Errorf("telegram connect: %w", err)
	}

	identity := "@" + bot.Self.UserName

	t.mu.Lock()
	t.bot = bot
	t.connected = true
	t.identity = identity
	t.lastErr = ""
	t.mu.Unlock()

	t.logger.Info("telegram connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return identity, nil
}

func (t *Telegram) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Polling shuts down via its context; dropping the client is enough here.
	t.bot = nil
	t.connected = false
}

// SendMessage delivers text to a Telegram chat. When the configured parse
// mode rejects the content, the message is retried as plain text so agent
// replies never bounce on markup.
func (t *Telegram) SendMessage(ctx context.Context, chatID, text string, opts domain.SendOptions) (*domain.SendResult, error) {
	t.mu.RLock()
	bot := t.bot
	configured := t.configured
	t.mu.RUnlock()

	if !configured {
		return nil, domain.ErrNotConfigured
	}
	if bot == nil {
		return nil, domain.ErrNotConnected
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = t.parseMode
	if opts.ParseMode != "" {
		msg.ParseMode = opts.ParseMode
	}
	if opts.ReplyToMessageID != "" {
		if replyID, convErr := strconv.Atoi(opts.ReplyToMessageID); convErr == nil {
			msg.ReplyToMessageID = replyID
		}
	}
	if opts.ReplyMarkup != nil {
		msg.ReplyMarkup = opts.ReplyMarkup
	}

	sent, err := bot.Send(msg)
	if err != nil && msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		plain := tgbotapi.NewMessage(id, text)
		plain.ReplyToMessageID = msg.ReplyToMessageID
		plain.ReplyMarkup = msg.ReplyMarkup
		sent, err = bot.Send(plain)
	}
	if err != nil {
		t.recordError(err)
		return nil, fmt.Errorf("telegram send: %w", err)
	}

	return &domain.SendResult{ExternalMessageID: strconv.Itoa(sent.MessageID)}, nil
}

// Normalize converts a raw Telegram update into a canonical message.
// Payloads that are not customer messages (callbacks, edits, channel posts,
// junk bytes) return nil and are skipped upstream.
func (t *Telegram) Normalize(payload []byte) *domain.Message {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}

	m := &domain.Message{
		ExternalMessageID: strconv.Itoa(msg.MessageID),
		ExternalChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Channel:           "telegram",
		Direction:         domain.DirectionIn,
		SenderType:        domain.SenderCustomer,
		SenderID:          strconv.FormatInt(msg.From.ID, 10),
		SenderName:        strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		SenderUsername:    msg.From.UserName,
		MessageType:       domain.TypeText,
		Timestamp:         time.Unix(int64(msg.Date), 0),
	}

	meta := map[string]any{}
	switch {
	case len(msg.Photo) > 0:
		// Telegram sends every thumbnail size; the last entry is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		m.MessageType = domain.TypePhoto
		m.Content = msg.Caption
		m.MediaType = "image/jpeg"
		meta["file_id"] = photo.FileID
	case msg.Document != nil:
		m.MessageType = domain.TypeDocument
		m.Content = msg.Caption
		m.MediaType = msg.Document.MimeType
		meta["file_id"] = msg.Document.FileID
		if msg.Document.FileName != "" {
			meta["file_name"] = msg.Document.FileName
		}
	case msg.Voice != nil:
		m.MessageType = domain.TypeVoice
		m.MediaType = msg.Voice.MimeType
		meta["file_id"] = msg.Voice.FileID
		meta["duration"] = msg.Voice.Duration
	case msg.Video != nil:
		m.MessageType = domain.TypeVideo
		m.Content = msg.Caption
		m.MediaType = msg.Video.MimeType
		meta["file_id"] = msg.Video.FileID
	case msg.Sticker != nil:
		m.MessageType = domain.TypeSticker
		m.Content = msg.Sticker.Emoji
		meta["file_id"] = msg.Sticker.FileID
	case msg.Location != nil:
		m.MessageType = domain.TypeLocation
		m.Content = fmt.Sprintf("%.6f, %.6f", msg.Location.Latitude, msg.Location.Longitude)
		meta["latitude"] = msg.Location.Latitude
		meta["longitude"] = msg.Location.Longitude
	case msg.Contact != nil:
		m.MessageType = domain.TypeContact
		name := strings.TrimSpace(msg.Contact.FirstName + " " + msg.Contact.LastName)
		m.Content = strings.TrimSpace(strings.Join([]string{name, msg.Contact.PhoneNumber}, " "))
		meta["phone"] = msg.Contact.PhoneNumber
		if msg.Contact.UserID == msg.From.ID {
			// Customer shared their own card.
			m.SenderPhone = msg.Contact.PhoneNumber
		}
	default:
		// Plain text, or a shape we do not classify (audio files, polls,
		// service messages). Unknown shapes keep type text with whatever
		// text the update carried, possibly empty.
		m.Content = msg.Text
	}

	if len(meta) > 0 {
		m.Metadata = meta
	}
	return m
}

// HandleWebhook validates the secret token header and returns the update as
// a single-item batch. Telegram delivers one update per request.
func (t *Telegram) HandleWebhook(body []byte, signature string) ([]json.RawMessage, error) {
	t.mu.RLock()
	secret := t.webhookSecret
	t.mu.RUnlock()

	if secret != "" && subtle.ConstantTimeCompare([]byte(signature), []byte(secret)) != 1 {
		return nil, domain.ErrBadSignature
	}

	var probe struct {
		UpdateID *int64 `json:"update_id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("telegram webhook: %w", err)
	}
	if probe.UpdateID == nil {
		return nil, fmt.Errorf("telegram webhook: missing update_id")
	}
	return []json.RawMessage{json.RawMessage(body)}, nil
}

func (t *Telegram) Status() domain.ConnectorStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.ConnectorStatus{
		Channel:    "telegram",
		Configured: t.configured,
		Connected:  t.connected,
		Identity:   t.identity,
		LastError:  t.lastErr,
		CheckedAt:  time.Now().UTC(),
	}
}

// StartPolling consumes updates via long polling and feeds raw update JSON
// into sink. It blocks until ctx is cancelled or the update channel closes.
func (t *Telegram) StartPolling(ctx context.Context, sink func(ctx context.Context, payload []byte)) error {
	t.mu.RLock()
	bot := t.bot
	t.mu.RUnlock()

	if bot == nil {
		return domain.ErrNotConnected
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "timeout", t.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram polling stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(update)
			if err != nil {
				t.logger.Warn("cannot marshal telegram update", "err", err)
				continue
			}
			sink(ctx, payload)
		}
	}
}

func (t *Telegram) recordError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = err.Error()
}
