package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. All are request-scoped: handlers
// map them to a response and the process keeps running.
var (
	ErrUnknownChannel       = errors.New("unknown channel")
	ErrNotConfigured        = errors.New("channel not configured")
	ErrNotConnected         = errors.New("channel not connected")
	ErrBadSignature         = errors.New("webhook signature mismatch")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrRuleNotFound         = errors.New("automation rule not found")
	ErrUnknownAction        = errors.New("unknown automation action")
)

// ProviderError reports a non-2xx reply from a channel provider API.
type ProviderError struct {
	Channel string
	Status  int
	Body    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API %d: %s", e.Channel, e.Status, e.Body)
}
