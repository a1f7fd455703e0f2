package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

func newTestWazzup(t *testing.T, apiBase string) *Wazzup {
	t.Helper()
	w := NewWazzup(WazzupConfig{
		APIKey:    "test-key",
		APIBase:   apiBase,
		ChannelID: "chan-1",
		Logger:    testLogger(),
	})
	if !w.Initialize() {
		t.Fatal("Initialize failed with api key set")
	}
	return w
}

func TestWazzupSendMessage(t *testing.T) {
	var gotAuth string
	var gotReq wzSendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/message" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"messageId": "wz-100"}`))
	}))
	defer srv.Close()

	w := newTestWazzup(t, srv.URL)
	res, err := w.SendMessage(context.Background(), "77001234567", "Добрый день!", domain.SendOptions{})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.ExternalMessageID != "wz-100" {
		t.Errorf("expected wz-100, got %s", res.ExternalMessageID)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq.ChannelID != "chan-1" || gotReq.ChatType != "whatsapp" {
		t.Errorf("unexpected routing: %+v", gotReq)
	}
	if gotReq.ChatID != "77001234567" || gotReq.Text != "Добрый день!" {
		t.Errorf("unexpected payload: %+v", gotReq)
	}
}

func TestWazzupSendMessageProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
		rw.Write([]byte(`{"error": "CHANNEL_BLOCKED"}`))
	}))
	defer srv.Close()

	w := newTestWazzup(t, srv.URL)
	_, err := w.SendMessage(context.Background(), "77001234567", "hi", domain.SendOptions{})
	if err == nil {
		t.Fatal("expected provider error")
	}

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
	if pe.Status != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", pe.Status)
	}
	if pe.Channel != "wazzup" {
		t.Errorf("expected channel wazzup, got %s", pe.Channel)
	}

	if st := w.Status(); st.LastError == "" {
		t.Error("expected last error recorded in status")
	}
}

func TestWazzupSendMessageNotConfigured(t *testing.T) {
	t.Setenv("WAZZUP_API_KEY", "")
	t.Setenv("WAZZUP_CHANNEL_ID", "")
	t.Setenv("WAZZUP_WEBHOOK_SECRET", "")

	w := NewWazzup(WazzupConfig{Logger: testLogger()})
	if w.Initialize() {
		t.Fatal("expected Initialize to fail without api key")
	}

	_, err := w.SendMessage(context.Background(), "77001234567", "hi", domain.SendOptions{})
	if !errors.Is(err, domain.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestWazzupConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/channels" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`[{"channelId": "ch-active", "transport": "whatsapp", "state": "active"}]`))
	}))
	defer srv.Close()

	w := NewWazzup(WazzupConfig{APIKey: "test-key", APIBase: srv.URL, Logger: testLogger()})
	if !w.Initialize() {
		t.Fatal("Initialize failed")
	}

	identity, err := w.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if identity != "ch-active" {
		t.Errorf("expected active channel as identity, got %q", identity)
	}
	if st := w.Status(); !st.Connected {
		t.Error("expected connected status")
	}
}

func TestWazzupConnectBadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	w := newTestWazzup(t, srv.URL)
	if _, err := w.Connect(context.Background()); err == nil {
		t.Error("expected error on 401")
	}
	if st := w.Status(); st.Connected {
		t.Error("expected not connected after failure")
	}
}

func TestWazzupHandleWebhookBatch(t *testing.T) {
	w := newTestWazzup(t, "http://unused")
	body := []byte(`{"messages": [
		{"messageId": "m1", "chatId": "77001", "chatType": "whatsapp", "type": "text", "text": "first"},
		{"messageId": "m2", "chatId": "77002", "chatType": "whatsapp", "type": "text", "text": "second"}
	]}`)

	batch, err := w.HandleWebhook(body, "")
	if err != nil {
		t.Fatalf("HandleWebhook failed: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 items, got %d", len(batch))
	}
}

func TestWazzupHandleWebhookTestPing(t *testing.T) {
	w := newTestWazzup(t, "http://unused")

	batch, err := w.HandleWebhook([]byte(`{"test": true}`), "")
	if err != nil {
		t.Fatalf("expected test ping to be accepted: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("expected empty batch, got %d", len(batch))
	}
}

func TestWazzupHandleWebhookStatusesOnly(t *testing.T) {
	w := newTestWazzup(t, "http://unused")
	body := []byte(`{"statuses": [{"messageId": "m1", "status": "delivered"}]}`)

	batch, err := w.HandleWebhook(body, "")
	if err != nil {
		t.Fatalf("expected statuses envelope to be accepted: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("expected empty batch for delivery receipts, got %d", len(batch))
	}
}

func TestWazzupHandleWebhookSecret(t *testing.T) {
	w := NewWazzup(WazzupConfig{APIKey: "k", WebhookSecret: "hook-secret", Logger: testLogger()})
	w.Initialize()
	body := []byte(`{"messages": []}`)

	if _, err := w.HandleWebhook(body, "wrong"); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
	if _, err := w.HandleWebhook(body, "hook-secret"); err != nil {
		t.Errorf("raw secret rejected: %v", err)
	}
	if _, err := w.HandleWebhook(body, "Bearer hook-secret"); err != nil {
		t.Errorf("bearer secret rejected: %v", err)
	}
}

func TestWazzupHandleWebhookBadBody(t *testing.T) {
	w := newTestWazzup(t, "http://unused")

	if _, err := w.HandleWebhook([]byte(`not json`), ""); err == nil {
		t.Error("expected error for undecodable body")
	}
}

func TestWazzupNormalizeText(t *testing.T) {
	w := newTestWazzup(t, "http://unused")
	payload := []byte(`{
		"messageId": "m1",
		"channelId": "chan-1",
		"chatType": "whatsapp",
		"chatId": "77001234567",
		"type": "text",
		"text": "Сколько стоит тур?",
		"contact": {"name": "Aigerim", "phone": "77001234567"},
		"dateTime": "2025-01-15T10:30:00Z"
	}`)

	m := w.Normalize(payload)
	if m == nil {
		t.Fatal("expected message, got nil")
	}
	if m.Channel != "wazzup" {
		t.Errorf("expected channel wazzup, got %s", m.Channel)
	}
	if m.ExternalChatID != "77001234567" {
		t.Errorf("unexpected chat id %s", m.ExternalChatID)
	}
	if m.Content != "Сколько стоит тур?" {
		t.Errorf("unexpected content %q", m.Content)
	}
	if m.SenderName != "Aigerim" || m.SenderPhone != "77001234567" {
		t.Errorf("unexpected sender %q %q", m.SenderName, m.SenderPhone)
	}
	if m.Timestamp.Year() != 2025 {
		t.Errorf("expected parsed dateTime, got %v", m.Timestamp)
	}
	if m.Metadata["chat_type"] != "whatsapp" {
		t.Errorf("expected chat type in metadata, got %v", m.Metadata["chat_type"])
	}
}

func TestWazzupNormalizeImage(t *testing.T) {
	w := newTestWazzup(t, "http://unused")
	payload := []byte(`{
		"messageId": "m2",
		"chatId": "77001234567",
		"chatType": "whatsapp",
		"type": "image",
		"contentUri": "https://store.wazzup24.com/abc.jpg"
	}`)

	m := w.Normalize(payload)
	if m == nil {
		t.Fatal("expected message, got nil")
	}
	if m.MessageType != domain.TypePhoto {
		t.Errorf("expected photo, got %s", m.MessageType)
	}
	if m.MediaURL != "https://store.wazzup24.com/abc.jpg" {
		t.Errorf("unexpected media url %q", m.MediaURL)
	}
}

func TestWazzupNormalizeGeo(t *testing.T) {
	w := newTestWazzup(t, "http://unused")
	payload := []byte(`{
		"messageId": "m3",
		"chatId": "77001234567",
		"type": "geo",
		"geo": {"latitude": 36.884804, "longitude": 30.704044, "address": "Antalya"}
	}`)

	m := w.Normalize(payload)
	if m == nil {
		t.Fatal("expected message, got nil")
	}
	if m.MessageType != domain.TypeLocation {
		t.Errorf("expected location, got %s", m.MessageType)
	}
	if m.Content != "36.884804, 30.704044" {
		t.Errorf("unexpected content %q", m.Content)
	}
	if m.Metadata["address"] != "Antalya" {
		t.Errorf("expected address in metadata, got %v", m.Metadata["address"])
	}
}

func TestWazzupNormalizeSkipsEcho(t *testing.T) {
	w := newTestWazzup(t, "http://unused")
	payload := []byte(`{"messageId": "m4", "chatId": "77001", "type": "text", "text": "our reply", "isEcho": true}`)

	if m := w.Normalize(payload); m != nil {
		t.Errorf("expected echo to be skipped, got %+v", m)
	}
}

func TestWazzupNormalizeSkipsGarbage(t *testing.T) {
	w := newTestWazzup(t, "http://unused")

	if m := w.Normalize([]byte(`not json`)); m != nil {
		t.Errorf("expected nil for invalid json, got %+v", m)
	}
	if m := w.Normalize([]byte(`{}`)); m != nil {
		t.Errorf("expected nil for empty object, got %+v", m)
	}
}

func TestWazzupUnknownTypeDegradesToText(t *testing.T) {
	w := newTestWazzup(t, "http://unused")
	payload := []byte(`{"messageId": "m5", "chatId": "77001", "type": "missed_call", "text": "missed call"}`)

	m := w.Normalize(payload)
	if m == nil {
		t.Fatal("expected message, got nil")
	}
	if m.MessageType != domain.TypeText {
		t.Errorf("expected text fallback, got %s", m.MessageType)
	}
}
