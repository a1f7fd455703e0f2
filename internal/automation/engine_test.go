package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

type fakeReplies struct {
	sent []string
	err  error
}

func (f *fakeReplies) Reply(ctx context.Context, conv *domain.Conversation, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

type fakeUpdater struct {
	assigned map[string]string
	attached map[string]string
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{assigned: map[string]string{}, attached: map[string]string{}}
}

func (f *fakeUpdater) AssignAgent(ctx context.Context, conversationID, agent string) error {
	f.assigned[conversationID] = agent
	return nil
}

func (f *fakeUpdater) AttachLead(ctx context.Context, conversationID, leadID string) error {
	f.attached[conversationID] = leadID
	return nil
}

type fakeLeads struct {
	created []domain.LeadRequest
	err     error
}

func (f *fakeLeads) CreateLead(ctx context.Context, req domain.LeadRequest) (*domain.Lead, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &domain.Lead{ID: fmt.Sprintf("lead-%d", len(f.created)), Status: domain.LeadStatusNew}, nil
}

func (f *fakeLeads) Leads(ctx context.Context, limit int) ([]domain.Lead, error) {
	return nil, nil
}

type fakeNotifier struct {
	titles []string
	texts  []string
}

func (f *fakeNotifier) Notify(ctx context.Context, title, text string) error {
	f.titles = append(f.titles, title)
	f.texts = append(f.texts, text)
	return nil
}

func testEngine(replies *fakeReplies, updater *fakeUpdater, leads *fakeLeads, notifier *fakeNotifier) *Engine {
	cfg := Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if replies != nil {
		cfg.Replies = replies
	}
	if updater != nil {
		cfg.Conversations = updater
	}
	if leads != nil {
		cfg.Leads = leads
	}
	if notifier != nil {
		cfg.Notifier = notifier
	}
	return NewEngine(cfg)
}

func inbound(channel, content string) *domain.Message {
	return &domain.Message{
		Channel:    channel,
		Direction:  domain.DirectionIn,
		SenderType: domain.SenderCustomer,
		Content:    content,
	}
}

func TestMatchKeywordsCyrillicCaseInsensitive(t *testing.T) {
	rule := Rule{Conditions: Conditions{Keywords: []string{"тур"}}}

	if !rule.Matches(inbound("telegram", "Хочу ТУР в Египет")) {
		t.Error("expected Cyrillic keyword match regardless of case")
	}
	if rule.Matches(inbound("telegram", "просто вопрос")) {
		t.Error("expected no match without keyword")
	}
}

func TestMatchKeywordsAnyOf(t *testing.T) {
	rule := Rule{Conditions: Conditions{Keywords: []string{"price", "цена"}}}

	if !rule.Matches(inbound("telegram", "what is the PRICE?")) {
		t.Error("expected first keyword to match")
	}
	if !rule.Matches(inbound("telegram", "какая цена тура")) {
		t.Error("expected second keyword to match")
	}
}

func TestMatchMessageType(t *testing.T) {
	rule := Rule{Conditions: Conditions{MessageType: "location"}}

	loc := inbound("telegram", "43.238949, 76.889709")
	loc.MessageType = domain.TypeLocation
	if !rule.Matches(loc) {
		t.Error("expected location message to match")
	}

	text := inbound("telegram", "hello")
	text.MessageType = domain.TypeText
	if rule.Matches(text) {
		t.Error("expected text message not to match a location rule")
	}
}

func TestMatchAllClausesRequired(t *testing.T) {
	rule := Rule{Conditions: Conditions{Channel: "wazzup", Keywords: []string{"тур"}}}

	if rule.Matches(inbound("telegram", "хочу тур")) {
		t.Error("expected channel clause to veto the match")
	}
	if !rule.Matches(inbound("Wazzup", "хочу тур")) {
		t.Error("expected case-insensitive channel match")
	}
}

func TestMatchEmptyConditionsMatchesAll(t *testing.T) {
	rule := Rule{}

	if !rule.Matches(inbound("telegram", "anything at all")) {
		t.Error("expected empty conditions to match every message")
	}
}

func TestEvaluateAutoReply(t *testing.T) {
	replies := &fakeReplies{}
	e := testEngine(replies, nil, nil, nil)
	e.SetRules([]Rule{{
		Name:       "greeting",
		Conditions: Conditions{Keywords: []string{"привет"}},
		Action:     Action{Type: ActionAutoReply, Reply: "Здравствуйте! Чем можем помочь?"},
	}})

	conv := &domain.Conversation{ID: "c1", Channel: "telegram"}
	results := e.Evaluate(context.Background(), conv, inbound("telegram", "Привет!"))

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected action error: %v", results[0].Err)
	}
	if len(replies.sent) != 1 || !strings.Contains(replies.sent[0], "Здравствуйте") {
		t.Errorf("expected auto reply sent, got %v", replies.sent)
	}
}

func TestEvaluateAssignAgent(t *testing.T) {
	updater := newFakeUpdater()
	e := testEngine(nil, updater, nil, nil)
	e.SetRules([]Rule{{
		Name:   "route vip",
		Action: Action{Type: ActionAssignAgent, Agent: "aliya"},
	}})

	conv := &domain.Conversation{ID: "c1", Channel: "wazzup"}
	results := e.Evaluate(context.Background(), conv, inbound("wazzup", "хочу люкс"))

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if updater.assigned["c1"] != "aliya" {
		t.Errorf("expected agent assigned, got %v", updater.assigned)
	}
	if conv.AssignedAgent != "aliya" {
		t.Errorf("expected conversation updated in place, got %q", conv.AssignedAgent)
	}
	if results[0].Detail != "aliya" {
		t.Errorf("expected agent in detail, got %q", results[0].Detail)
	}
}

func TestEvaluateCreateLeadTruncatesInterest(t *testing.T) {
	leads := &fakeLeads{}
	updater := newFakeUpdater()
	e := testEngine(nil, updater, leads, nil)
	e.SetRules([]Rule{{
		Name:   "capture",
		Action: Action{Type: ActionCreateLead},
	}})

	long := strings.Repeat("ц", 250)
	conv := &domain.Conversation{ID: "c1", CustomerName: "Aigerim", CustomerPhone: "77001"}
	results := e.Evaluate(context.Background(), conv, inbound("wazzup", long))

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if len(leads.created) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(leads.created))
	}
	req := leads.created[0]
	if utf8.RuneCountInString(req.Interest) != 200 {
		t.Errorf("expected interest capped at 200 runes, got %d", utf8.RuneCountInString(req.Interest))
	}
	if req.CustomerName != "Aigerim" || req.Source != "wazzup" {
		t.Errorf("unexpected lead request: %+v", req)
	}
	if updater.attached["c1"] != "lead-1" {
		t.Errorf("expected lead attached to conversation, got %v", updater.attached)
	}
	if conv.LeadID != "lead-1" {
		t.Errorf("expected conversation lead id updated, got %q", conv.LeadID)
	}
}

func TestEvaluateNotifyDefaultText(t *testing.T) {
	notifier := &fakeNotifier{}
	e := testEngine(nil, nil, nil, notifier)
	e.SetRules([]Rule{{
		Name:   "watch turkey",
		Action: Action{Type: ActionNotify},
	}})

	msg := inbound("telegram", "тур в Турцию")
	msg.SenderName = "Ivan"
	e.Evaluate(context.Background(), &domain.Conversation{ID: "c1"}, msg)

	if len(notifier.texts) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.texts))
	}
	if !strings.Contains(notifier.texts[0], "watch turkey") || !strings.Contains(notifier.texts[0], "Ivan") {
		t.Errorf("expected rule and sender in default text, got %q", notifier.texts[0])
	}
}

func TestEvaluateUnknownActionContinues(t *testing.T) {
	replies := &fakeReplies{}
	e := testEngine(replies, nil, nil, nil)
	e.SetRules([]Rule{
		{Name: "broken", Action: Action{Type: "launch_rocket"}},
		{Name: "working", Action: Action{Type: ActionAutoReply, Reply: "ok"}},
	})

	results := e.Evaluate(context.Background(), &domain.Conversation{ID: "c1"}, inbound("telegram", "hi"))

	if len(results) != 2 {
		t.Fatalf("expected both rules evaluated, got %d results", len(results))
	}
	if !errors.Is(results[0].Err, domain.ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", results[0].Err)
	}
	if results[1].Err != nil {
		t.Errorf("expected second rule unaffected, got %v", results[1].Err)
	}
	if len(replies.sent) != 1 {
		t.Errorf("expected reply sent despite earlier failure, got %v", replies.sent)
	}
}

func TestEvaluateFailingActionRecorded(t *testing.T) {
	replies := &fakeReplies{err: errors.New("network down")}
	e := testEngine(replies, nil, nil, nil)
	e.SetRules([]Rule{{
		Name:   "greeting",
		Action: Action{Type: ActionAutoReply, Reply: "hi"},
	}})

	results := e.Evaluate(context.Background(), &domain.Conversation{ID: "c1"}, inbound("telegram", "hi"))

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err == nil || !strings.Contains(results[0].Err.Error(), "network down") {
		t.Errorf("expected wrapped send error, got %v", results[0].Err)
	}
}

func TestEvaluateSkipsDisabledAndOutbound(t *testing.T) {
	replies := &fakeReplies{}
	e := testEngine(replies, nil, nil, nil)
	e.SetRules([]Rule{{
		Name:     "off",
		Disabled: true,
		Action:   Action{Type: ActionAutoReply, Reply: "hi"},
	}})

	if results := e.Evaluate(context.Background(), &domain.Conversation{}, inbound("telegram", "hi")); len(results) != 0 {
		t.Errorf("expected disabled rule skipped, got %+v", results)
	}

	e.SetRules([]Rule{{Name: "on", Action: Action{Type: ActionAutoReply, Reply: "hi"}}})
	out := inbound("telegram", "hi")
	out.Direction = domain.DirectionOut
	if results := e.Evaluate(context.Background(), &domain.Conversation{}, out); len(results) != 0 {
		t.Errorf("expected outbound message ignored, got %+v", results)
	}
}

func TestAddRuleValidates(t *testing.T) {
	e := testEngine(nil, nil, nil, nil)

	if _, err := e.AddRule(Rule{Action: Action{Type: ActionNotify}}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := e.AddRule(Rule{Name: "x"}); err == nil {
		t.Error("expected error for missing action type")
	}

	added, err := e.AddRule(Rule{Name: "ok", Action: Action{Type: ActionNotify}})
	if err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	if added.ID == "" {
		t.Error("expected generated rule id")
	}
	if len(e.Rules()) != 1 {
		t.Errorf("expected 1 rule, got %d", len(e.Rules()))
	}
}

func TestRemoveRulePositional(t *testing.T) {
	e := testEngine(nil, nil, nil, nil)
	for _, name := range []string{"a", "b", "c"} {
		e.AddRule(Rule{Name: name, Action: Action{Type: ActionNotify}})
	}

	if err := e.RemoveRule(1); err != nil {
		t.Fatalf("RemoveRule failed: %v", err)
	}

	rules := e.Rules()
	if len(rules) != 2 || rules[0].Name != "a" || rules[1].Name != "c" {
		t.Errorf("expected [a c] after removal, got %+v", rules)
	}

	if err := e.RemoveRule(5); !errors.Is(err, domain.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound for out of range, got %v", err)
	}
	if err := e.RemoveRule(-1); !errors.Is(err, domain.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound for negative index, got %v", err)
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("expected missing file tolerated, got %v", err)
	}
	if rules != nil {
		t.Errorf("expected nil rules, got %+v", rules)
	}
}

func TestLoadSaveRulesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	in := []Rule{{
		Name:       "greeting",
		Conditions: Conditions{Channel: "telegram", Keywords: []string{"привет", "hello"}},
		Action:     Action{Type: ActionAutoReply, Reply: "Здравствуйте!"},
	}}

	if err := SaveRules(path, in); err != nil {
		t.Fatalf("SaveRules failed: %v", err)
	}

	out, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(out))
	}
	if out[0].Name != "greeting" || out[0].Action.Reply != "Здравствуйте!" {
		t.Errorf("round trip mismatch: %+v", out[0])
	}
	if len(out[0].Conditions.Keywords) != 2 {
		t.Errorf("expected keywords preserved, got %v", out[0].Conditions.Keywords)
	}
	if out[0].ID == "" {
		t.Error("expected id assigned on load")
	}
}

func TestLoadRulesBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: [not closed"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Error("expected parse error")
	}
}
