package webapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/azrailbeat/crystalbay-sub001/internal/automation"
	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, code int, msg string) {
	writeJSON(rw, code, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP statuses. Anything unrecognized is
// a 500; provider-side rejections surface as 502 so callers can tell our
// fault from the channel's.
func statusFor(err error) int {
	var pe *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrUnknownChannel),
		errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBadSignature):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotConfigured), errors.Is(err, domain.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	defer r.Body.Close()
	return json.Unmarshal(body, v)
}

func queryInt(q url.Values, key string) int {
	n, _ := strconv.Atoi(q.Get(key))
	return n
}

func (s *Server) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// --- webhooks ---

func (s *Server) handleTelegramWebhook(rw http.ResponseWriter, r *http.Request) {
	s.handleWebhook(rw, r, "telegram", r.Header.Get("X-Telegram-Bot-Api-Secret-Token"))
}

func (s *Server) handleWazzupWebhook(rw http.ResponseWriter, r *http.Request) {
	s.handleWebhook(rw, r, "wazzup", r.Header.Get("Authorization"))
}

func (s *Server) handleWebhook(rw http.ResponseWriter, r *http.Request, channel, signature string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "cannot read body")
		return
	}
	defer r.Body.Close()

	res, err := s.gateway.HandleWebhook(r.Context(), channel, body, signature)
	if err != nil {
		s.logger.Warn("webhook rejected", "channel", channel, "err", err)
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, res)
}

// --- messages ---

// sendRequest carries the outbound send contract. participant_name and
// participant_phone seed the conversation when it does not exist yet.
type sendRequest struct {
	Channel          string `json:"channel"`
	ChatID           string `json:"chat_id"`
	Text             string `json:"text"`
	ParseMode        string `json:"parse_mode,omitempty"`
	ReplyMarkup      any    `json:"reply_markup,omitempty"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
	MessageType      string `json:"message_type,omitempty"`
	ChatType         string `json:"chat_type,omitempty"`
	AgentID          string `json:"agent_id,omitempty"`
	AgentName        string `json:"agent_name,omitempty"`
	ParticipantName  string `json:"participant_name,omitempty"`
	ParticipantPhone string `json:"participant_phone,omitempty"`
}

func (s *Server) handleSend(rw http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Channel == "" || req.ChatID == "" || req.Text == "" {
		writeError(rw, http.StatusBadRequest, "channel, chat_id and text are required")
		return
	}

	rec, err := s.gateway.SendMessage(r.Context(), req.Channel, req.ChatID, req.Text, domain.SendOptions{
		ParseMode:        req.ParseMode,
		ReplyMarkup:      req.ReplyMarkup,
		ReplyToMessageID: req.ReplyToMessageID,
		MessageType:      req.MessageType,
		ChatType:         req.ChatType,
		AgentID:          req.AgentID,
		AgentName:        req.AgentName,
		CustomerName:     req.ParticipantName,
		CustomerPhone:    req.ParticipantPhone,
	})
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, rec)
}

func (s *Server) handleMessages(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msgs, err := s.gateway.Messages(r.Context(), domain.MessageFilter{
		Channel:   q.Get("channel"),
		Direction: domain.Direction(q.Get("direction")),
		Limit:     queryInt(q, "limit"),
		Offset:    queryInt(q, "offset"),
	})
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (s *Server) handleMarkRead(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.gateway.MarkRead(r.Context(), id); err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "read", "id": id})
}

// --- conversations ---

func (s *Server) handleConversations(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	convs, err := s.gateway.Conversations(r.Context(), domain.ConversationFilter{
		Channel: q.Get("channel"),
		Status:  q.Get("status"),
		Limit:   queryInt(q, "limit"),
		Offset:  queryInt(q, "offset"),
	})
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"conversations": convs, "count": len(convs)})
}

func (s *Server) handleConversationMessages(rw http.ResponseWriter, r *http.Request) {
	msgs, err := s.gateway.Messages(r.Context(), domain.MessageFilter{
		ConversationID: r.PathValue("id"),
		Limit:          queryInt(r.URL.Query(), "limit"),
		Offset:         queryInt(r.URL.Query(), "offset"),
	})
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (s *Server) handleAssignAgent(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Agent string `json:"agent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Agent == "" {
		writeError(rw, http.StatusBadRequest, "agent is required")
		return
	}
	id := r.PathValue("id")
	if err := s.gateway.AssignAgent(r.Context(), id, req.Agent); err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "assigned", "id": id, "agent": req.Agent})
}

// --- stats and status ---

func (s *Server) handleStats(rw http.ResponseWriter, r *http.Request) {
	st, err := s.gateway.Stats(r.Context())
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"version":  s.version,
		"channels": s.gateway.Status(),
		"time":     time.Now().Format(time.RFC3339),
	})
}

// --- leads ---

func (s *Server) handleLeads(rw http.ResponseWriter, r *http.Request) {
	leads, err := s.gateway.Leads(r.Context(), queryInt(r.URL.Query(), "limit"))
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"leads": leads, "count": len(leads)})
}

func (s *Server) handleCreateLead(rw http.ResponseWriter, r *http.Request) {
	var req domain.LeadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CustomerName == "" && req.CustomerPhone == "" {
		writeError(rw, http.StatusBadRequest, "customer_name or customer_phone is required")
		return
	}
	lead, err := s.gateway.CreateLead(r.Context(), req)
	if err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	writeJSON(rw, http.StatusCreated, lead)
}

// --- automation rules ---

func (s *Server) handleListRules(rw http.ResponseWriter, r *http.Request) {
	rules := s.gateway.Rules()
	writeJSON(rw, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (s *Server) handleAddRule(rw http.ResponseWriter, r *http.Request) {
	var rule automation.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	added, err := s.gateway.AddRule(rule)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("automation rule added", "rule", added.Name)
	writeJSON(rw, http.StatusCreated, added)
}

func (s *Server) handleRemoveRule(rw http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "index must be a number")
		return
	}
	if err := s.gateway.RemoveRule(index); err != nil {
		writeError(rw, statusFor(err), err.Error())
		return
	}
	s.logger.Info("automation rule removed", "index", index)
	writeJSON(rw, http.StatusOK, map[string]any{"status": "removed", "index": index})
}
