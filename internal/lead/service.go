package lead

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

// Service implements domain.LeadService on SQLite. It shares the database
// file with the conversation store; WAL mode keeps the two handles from
// blocking each other.
type Service struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewService(dbPath string, logger *slog.Logger) (*Service, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	svc := &Service{db: db, logger: logger}
	if err := svc.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("lead migration failed: %w", err)
	}
	return svc, nil
}

func (s *Service) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leads (
		id             TEXT PRIMARY KEY,
		customer_name  TEXT DEFAULT '',
		customer_phone TEXT DEFAULT '',
		source         TEXT NOT NULL,
		interest       TEXT DEFAULT '',
		notes          TEXT DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'new',
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateLead stores a new lead with status "new".
func (s *Service) CreateLead(ctx context.Context, req domain.LeadRequest) (*domain.Lead, error) {
	now := time.Now().UTC()
	source := req.Source
	if source == "" {
		source = "manual"
	}

	lead := &domain.Lead{
		ID:            uuid.NewString(),
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Source:        source,
		Interest:      req.Interest,
		Notes:         req.Notes,
		Status:        domain.LeadStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, customer_name, customer_phone, source, interest, notes, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.CustomerName, lead.CustomerPhone, lead.Source,
		lead.Interest, lead.Notes, lead.Status, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("lead insert: %w", err)
	}

	s.logger.Info("lead created",
		"id", lead.ID,
		"source", lead.Source,
		"customer", lead.CustomerName,
	)
	return lead, nil
}

// Leads lists recent leads, newest first.
func (s *Service) Leads(ctx context.Context, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_name, customer_phone, source, interest, notes, status, created_at, updated_at
		 FROM leads ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []domain.Lead
	for rows.Next() {
		var l domain.Lead
		if err := rows.Scan(&l.ID, &l.CustomerName, &l.CustomerPhone, &l.Source,
			&l.Interest, &l.Notes, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (s *Service) Close() error {
	return s.db.Close()
}
