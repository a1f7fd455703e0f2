// Package webapi exposes the gateway over HTTP: provider webhook receivers,
// a JSON operator API, the websocket event stream and the metrics endpoint.
package webapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/azrailbeat/crystalbay-sub001/internal/automation"
	"github.com/azrailbeat/crystalbay-sub001/internal/bus"
	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
	"github.com/azrailbeat/crystalbay-sub001/internal/hub"
	"github.com/azrailbeat/crystalbay-sub001/internal/metrics"
)

const maxBodySize = 1 << 20 // 1MB

// Gateway is the hub surface the API serves. *hub.Hub satisfies it.
type Gateway interface {
	SendMessage(ctx context.Context, channel, chatID, text string, opts domain.SendOptions) (*domain.MessageRecord, error)
	HandleWebhook(ctx context.Context, channel string, body []byte, signature string) (*hub.WebhookResult, error)
	Conversations(ctx context.Context, f domain.ConversationFilter) ([]domain.Conversation, error)
	Messages(ctx context.Context, f domain.MessageFilter) ([]domain.MessageRecord, error)
	MarkRead(ctx context.Context, messageID string) error
	AssignAgent(ctx context.Context, conversationID, agent string) error
	Stats(ctx context.Context) (*hub.Stats, error)
	Status() map[string]domain.ConnectorStatus
	CreateLead(ctx context.Context, req domain.LeadRequest) (*domain.Lead, error)
	Leads(ctx context.Context, limit int) ([]domain.Lead, error)
	Rules() []automation.Rule
	AddRule(rule automation.Rule) (automation.Rule, error)
	RemoveRule(index int) error
}

// Server hosts the webhook and API endpoints.
type Server struct {
	host      string
	port      int
	authToken string
	version   string
	logger    *slog.Logger
	gateway   Gateway
	server    *http.Server

	metricsEnabled bool
	metricsPath    string

	stream *eventStream
}

type Config struct {
	Host           string
	Port           int
	AuthToken      string // bearer token for /api routes; empty disables auth
	EventStream    bool
	MetricsEnabled bool
	MetricsPath    string
	Version        string
	Logger         *slog.Logger
	Gateway        Gateway
	Events         *bus.EventBus
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		host:           cfg.Host,
		port:           cfg.Port,
		authToken:      cfg.AuthToken,
		version:        cfg.Version,
		logger:         cfg.Logger,
		gateway:        cfg.Gateway,
		metricsEnabled: cfg.MetricsEnabled,
		metricsPath:    cfg.MetricsPath,
	}

	if cfg.EventStream && cfg.Events != nil {
		s.stream = newEventStream(cfg.Logger)
		cfg.Events.On("*", s.stream.broadcast)
	}
	return s
}

// Handler builds the route table. Webhooks authenticate with provider
// signatures, not the API token, so they stay outside requireAuth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /webhook/telegram", s.handleTelegramWebhook)
	mux.HandleFunc("POST /webhook/wazzup", s.handleWazzupWebhook)

	mux.HandleFunc("POST /api/messages/send", s.requireAuth(s.handleSend))
	mux.HandleFunc("GET /api/conversations", s.requireAuth(s.handleConversations))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.requireAuth(s.handleConversationMessages))
	mux.HandleFunc("POST /api/conversations/{id}/assign", s.requireAuth(s.handleAssignAgent))
	mux.HandleFunc("GET /api/messages", s.requireAuth(s.handleMessages))
	mux.HandleFunc("POST /api/messages/{id}/read", s.requireAuth(s.handleMarkRead))
	mux.HandleFunc("GET /api/stats", s.requireAuth(s.handleStats))
	mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("GET /api/leads", s.requireAuth(s.handleLeads))
	mux.HandleFunc("POST /api/leads", s.requireAuth(s.handleCreateLead))
	mux.HandleFunc("GET /api/automation/rules", s.requireAuth(s.handleListRules))
	mux.HandleFunc("POST /api/automation/rules", s.requireAuth(s.handleAddRule))
	mux.HandleFunc("DELETE /api/automation/rules/{index}", s.requireAuth(s.handleRemoveRule))

	if s.stream != nil {
		mux.HandleFunc("GET /ws/events", s.requireAuth(s.stream.handleUpgrade))
	}
	if s.metricsEnabled {
		mux.HandleFunc("GET "+s.metricsPath, metrics.Collector.Handler())
	}
	return mux
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("api server started", "addr", addr,
		"auth", s.authToken != "", "event_stream", s.stream != nil, "metrics", s.metricsEnabled)

	go func() {
		<-ctx.Done()
		if s.stream != nil {
			s.stream.closeAll()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// requireAuth checks the bearer token when one is configured. Websocket
// clients cannot always set headers, so ?token= is accepted as well.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(rw, r)
			return
		}
		token := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(rw, http.StatusUnauthorized, "invalid or missing API token")
			return
		}
		next(rw, r)
	}
}
