package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

// Action types a rule can trigger.
const (
	ActionAutoReply   = "auto_reply"
	ActionAssignAgent = "assign_agent"
	ActionCreateLead  = "create_lead"
	ActionNotify      = "notify"
)

// Conditions narrow which inbound messages a rule fires on. All set clauses
// must hold; within keywords a single hit is enough. Empty conditions match
// every inbound message.
type Conditions struct {
	Channel     string   `json:"channel,omitempty" yaml:"channel,omitempty"`
	MessageType string   `json:"message_type,omitempty" yaml:"message_type,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Action describes what a matched rule does.
type Action struct {
	Type    string `json:"type" yaml:"type"`
	Reply   string `json:"reply,omitempty" yaml:"reply,omitempty"`
	Agent   string `json:"agent,omitempty" yaml:"agent,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Rule is one automation rule. Rules are active unless marked disabled.
type Rule struct {
	ID         string     `json:"id" yaml:"id,omitempty"`
	Name       string     `json:"name" yaml:"name"`
	Disabled   bool       `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Conditions Conditions `json:"conditions" yaml:"conditions,omitempty"`
	Action     Action     `json:"action" yaml:"action"`
}

// Matches reports whether the rule applies to the message. Keyword matching
// is a case-insensitive substring test, which handles Cyrillic the same as
// Latin text.
func (r *Rule) Matches(msg *domain.Message) bool {
	if r.Conditions.Channel != "" && !strings.EqualFold(r.Conditions.Channel, msg.Channel) {
		return false
	}
	if r.Conditions.MessageType != "" && r.Conditions.MessageType != string(msg.MessageType) {
		return false
	}
	if len(r.Conditions.Keywords) > 0 {
		content := strings.ToLower(msg.Content)
		found := false
		for _, kw := range r.Conditions.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(content, kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ActionResult records the outcome of one matched rule.
type ActionResult struct {
	Rule   string `json:"rule"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

// ReplySender sends an automated reply back into the conversation's channel.
type ReplySender interface {
	Reply(ctx context.Context, conv *domain.Conversation, text string) error
}

// ConversationUpdater mutates conversation ownership. The conversation
// store satisfies this.
type ConversationUpdater interface {
	AssignAgent(ctx context.Context, conversationID, agent string) error
	AttachLead(ctx context.Context, conversationID, leadID string) error
}

// Notifier pushes an operator notification.
type Notifier interface {
	Notify(ctx context.Context, title, text string) error
}

// Engine evaluates automation rules against inbound messages. Collaborators
// left nil simply make their actions fail with a descriptive error instead
// of panicking, so a partially wired engine still runs the rest.
type Engine struct {
	logger *slog.Logger

	replies       ReplySender
	conversations ConversationUpdater
	leads         domain.LeadService
	notifier      Notifier

	mu    sync.RWMutex
	rules []Rule
}

type Config struct {
	Logger        *slog.Logger
	Replies       ReplySender
	Conversations ConversationUpdater
	Leads         domain.LeadService
	Notifier      Notifier
}

func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		logger:        cfg.Logger,
		replies:       cfg.Replies,
		conversations: cfg.Conversations,
		leads:         cfg.Leads,
		notifier:      cfg.Notifier,
	}
}

// Evaluate runs every active rule against an inbound message and returns one
// result per matched rule. A failing action is recorded in its result and
// never stops the remaining rules.
func (e *Engine) Evaluate(ctx context.Context, conv *domain.Conversation, msg *domain.Message) []ActionResult {
	if msg == nil || msg.Direction != domain.DirectionIn {
		return nil
	}

	e.mu.RLock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var results []ActionResult
	for _, rule := range rules {
		if rule.Disabled || !rule.Matches(msg) {
			continue
		}
		res := ActionResult{Rule: rule.Name, Action: rule.Action.Type}
		res.Err = e.execute(ctx, rule, conv, msg, &res)
		if res.Err != nil {
			e.logger.Warn("automation action failed",
				"rule", rule.Name, "action", rule.Action.Type, "err", res.Err)
		} else {
			e.logger.Info("automation rule matched",
				"rule", rule.Name, "action", rule.Action.Type)
		}
		results = append(results, res)
	}
	return results
}

func (e *Engine) execute(ctx context.Context, rule Rule, conv *domain.Conversation, msg *domain.Message, res *ActionResult) error {
	switch rule.Action.Type {
	case ActionAutoReply:
		if e.replies == nil {
			return fmt.Errorf("auto_reply: no reply sender wired")
		}
		if rule.Action.Reply == "" {
			return fmt.Errorf("auto_reply: empty reply text")
		}
		if err := e.replies.Reply(ctx, conv, rule.Action.Reply); err != nil {
			return fmt.Errorf("auto_reply: %w", err)
		}

	case ActionAssignAgent:
		if e.conversations == nil {
			return fmt.Errorf("assign_agent: no conversation updater wired")
		}
		if rule.Action.Agent == "" {
			return fmt.Errorf("assign_agent: no agent configured")
		}
		if err := e.conversations.AssignAgent(ctx, conv.ID, rule.Action.Agent); err != nil {
			return fmt.Errorf("assign_agent: %w", err)
		}
		conv.AssignedAgent = rule.Action.Agent
		res.Detail = rule.Action.Agent

	case ActionCreateLead:
		if e.leads == nil {
			return fmt.Errorf("create_lead: no lead service wired")
		}
		lead, err := e.leads.CreateLead(ctx, domain.LeadRequest{
			CustomerName:  conv.CustomerName,
			CustomerPhone: conv.CustomerPhone,
			Source:        msg.Channel,
			Interest:      truncateRunes(msg.Content, 200),
		})
		if err != nil {
			return fmt.Errorf("create_lead: %w", err)
		}
		if e.conversations != nil {
			if err := e.conversations.AttachLead(ctx, conv.ID, lead.ID); err != nil {
				e.logger.Warn("cannot attach lead", "conversation", conv.ID, "err", err)
			} else {
				conv.LeadID = lead.ID
			}
		}
		res.Detail = lead.ID

	case ActionNotify:
		if e.notifier == nil {
			return fmt.Errorf("notify: no notifier wired")
		}
		text := rule.Action.Message
		if text == "" {
			text = fmt.Sprintf("Rule %q matched on %s from %s", rule.Name, msg.Channel, senderLabel(msg))
		}
		if err := e.notifier.Notify(ctx, rule.Name, text); err != nil {
			return fmt.Errorf("notify: %w", err)
		}

	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownAction, rule.Action.Type)
	}
	return nil
}

// Rules returns a copy of the current rule list.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	return rules
}

// AddRule validates and appends a rule, assigning an id when absent. The
// action type is only checked for presence; unknown types surface as typed
// errors at execution time.
func (e *Engine) AddRule(rule Rule) (Rule, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return Rule{}, fmt.Errorf("rule name is required")
	}
	if strings.TrimSpace(rule.Action.Type) == "" {
		return Rule{}, fmt.Errorf("rule action type is required")
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	return rule, nil
}

// RemoveRule deletes the rule at the given position, preserving the order
// of the rest.
func (e *Engine) RemoveRule(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.rules) {
		return fmt.Errorf("%w: index %d", domain.ErrRuleNotFound, index)
	}
	e.rules = append(e.rules[:index], e.rules[index+1:]...)
	return nil
}

// SetRules replaces the whole rule list, typically after loading a file.
func (e *Engine) SetRules(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
}

func senderLabel(msg *domain.Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.ExternalChatID
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
