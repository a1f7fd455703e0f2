package lead

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewService(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateLead(t *testing.T) {
	s := newTestService(t)

	lead, err := s.CreateLead(context.Background(), domain.LeadRequest{
		CustomerName:  "Aigerim",
		CustomerPhone: "77001234567",
		Source:        "wazzup",
		Interest:      "Хочу тур в Турцию на двоих",
	})
	if err != nil {
		t.Fatalf("CreateLead failed: %v", err)
	}
	if lead.ID == "" {
		t.Error("expected generated id")
	}
	if lead.Status != domain.LeadStatusNew {
		t.Errorf("expected status new, got %s", lead.Status)
	}
	if lead.Source != "wazzup" {
		t.Errorf("expected source wazzup, got %s", lead.Source)
	}
}

func TestCreateLeadDefaultSource(t *testing.T) {
	s := newTestService(t)

	lead, err := s.CreateLead(context.Background(), domain.LeadRequest{CustomerName: "Ivan"})
	if err != nil {
		t.Fatalf("CreateLead failed: %v", err)
	}
	if lead.Source != "manual" {
		t.Errorf("expected manual source fallback, got %s", lead.Source)
	}
}

func TestLeadsNewestFirst(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		if _, err := s.CreateLead(ctx, domain.LeadRequest{CustomerName: name, Source: "telegram"}); err != nil {
			t.Fatalf("CreateLead failed: %v", err)
		}
	}

	leads, err := s.Leads(ctx, 2)
	if err != nil {
		t.Fatalf("Leads failed: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("expected limit applied, got %d", len(leads))
	}
}
