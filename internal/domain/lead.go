package domain

import (
	"context"
	"time"
)

// LeadRequest is the input for creating a sales lead from a conversation.
type LeadRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Source        string `json:"source"`
	Interest      string `json:"interest"`
	Notes         string `json:"notes,omitempty"`
}

// Lead statuses.
const (
	LeadStatusNew = "new"
)

// Lead is a sales lead captured from an incoming conversation.
type Lead struct {
	ID            string    `json:"id"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	Source        string    `json:"source"`
	Interest      string    `json:"interest"`
	Notes         string    `json:"notes,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LeadService creates and lists leads in the CRM.
type LeadService interface {
	CreateLead(ctx context.Context, req LeadRequest) (*Lead, error)
	Leads(ctx context.Context, limit int) ([]Lead, error)
}
