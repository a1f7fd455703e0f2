package domain

import "time"

// Direction tells whether a message entered the system from a customer or
// left it towards a provider.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
)

// MessageType is the canonical content classification shared by all channels.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypePhoto    MessageType = "photo"
	TypeDocument MessageType = "document"
	TypeVoice    MessageType = "voice"
	TypeVideo    MessageType = "video"
	TypeSticker  MessageType = "sticker"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
)

// Message delivery/read states.
const (
	StatusReceived = "received"
	StatusSent     = "sent"
	StatusRead     = "read"
)

// Conversation states.
const (
	ConversationOpen   = "open"
	ConversationClosed = "closed"
)

// Message is the canonical, channel-agnostic form every connector normalizes
// provider payloads into. External identifiers are always strings, whatever
// type the provider uses natively.
type Message struct {
	ExternalMessageID string         `json:"external_message_id"`
	ExternalChatID    string         `json:"external_chat_id"`
	Channel           string         `json:"channel"`
	Direction         Direction      `json:"direction"`
	SenderType        SenderType     `json:"sender_type"`
	SenderID          string         `json:"sender_id,omitempty"`
	SenderName        string         `json:"sender_name,omitempty"`
	SenderUsername    string         `json:"sender_username,omitempty"`
	SenderPhone       string         `json:"sender_phone,omitempty"`
	MessageType       MessageType    `json:"message_type"`
	Content           string         `json:"content"`
	MediaURL          string         `json:"media_url,omitempty"`
	MediaType         string         `json:"media_type,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// SendOptions carries optional delivery hints. Connectors ignore the keys
// they do not support.
type SendOptions struct {
	ParseMode        string
	ReplyMarkup      any    // provider keyboard/markup object, Telegram only
	ReplyToMessageID string
	MessageType      string // recorded type for the outbound message, defaults to text
	ChatType         string // provider sub-channel, e.g. wazzup "whatsapp" vs "telegram"
	CustomerName     string
	CustomerPhone    string
	AgentID          string
	AgentName        string
}

// SendResult is what a connector reports after a successful provider call.
type SendResult struct {
	ExternalMessageID string
	Raw               []byte
}

// Conversation groups all messages exchanged with one customer on one
// channel. The (Channel, ExternalChatID) pair is unique.
type Conversation struct {
	ID               string    `json:"id"`
	Channel          string    `json:"channel"`
	ExternalChatID   string    `json:"external_chat_id"`
	CustomerName     string    `json:"customer_name,omitempty"`
	CustomerPhone    string    `json:"customer_phone,omitempty"`
	CustomerUsername string    `json:"customer_username,omitempty"`
	AssignedAgent    string    `json:"assigned_agent,omitempty"`
	LeadID           string    `json:"lead_id,omitempty"`
	Status           string    `json:"status"`
	LastMessageAt    time.Time `json:"last_message_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// MessageRecord is a canonical message persisted against a conversation.
type MessageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Message
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
