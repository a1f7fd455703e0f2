package domain

import "context"

// ConversationFilter narrows conversation queries. Zero values mean "any".
type ConversationFilter struct {
	Channel string
	Status  string
	Limit   int
	Offset  int
}

// MessageFilter narrows message queries. Zero values mean "any".
type MessageFilter struct {
	ConversationID string
	Channel        string
	Direction      Direction
	Limit          int
	Offset         int
}

// ChannelStat summarizes traffic for one channel.
type ChannelStat struct {
	Channel       string `json:"channel"`
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
	Unread        int    `json:"unread"`
}

// ConversationStore persists conversations and canonical messages.
type ConversationStore interface {
	FindConversation(ctx context.Context, channel, externalChatID string) (*Conversation, error)

	// FindOrCreateConversation returns the conversation keyed by
	// (conv.Channel, conv.ExternalChatID), creating it atomically when
	// absent. The second return reports whether a new row was created.
	FindOrCreateConversation(ctx context.Context, conv *Conversation) (*Conversation, bool, error)

	// CreateMessage persists the record, filling ID, timestamps and status
	// in place when they are unset.
	CreateMessage(ctx context.Context, rec *MessageRecord) error
	Conversations(ctx context.Context, f ConversationFilter) ([]Conversation, error)
	Messages(ctx context.Context, f MessageFilter) ([]MessageRecord, error)
	MarkRead(ctx context.Context, messageID string) error
	UnreadCount(ctx context.Context) (int, error)
	ChannelStats(ctx context.Context) ([]ChannelStat, error)
	AssignAgent(ctx context.Context, conversationID, agentID string) error
	AttachLead(ctx context.Context, conversationID, leadID string) error
}
