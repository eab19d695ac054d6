// Package types holds the wire and state types shared by the SDK and the
// gateway: chat messages, stream events, and the realtime voice vocabulary.
package types

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus is the lifecycle of a single chat turn.
//
// sending -> streaming -> complete | error
type MessageStatus string

const (
	MessageSending   MessageStatus = "sending"
	MessageStreaming MessageStatus = "streaming"
	MessageComplete  MessageStatus = "complete"
	MessageError     MessageStatus = "error"
)

// MessageMetadata carries optional per-message annotations.
type MessageMetadata struct {
	Model        string   `json:"model,omitempty"`
	InputTokens  int      `json:"input_tokens,omitempty"`
	OutputTokens int      `json:"output_tokens,omitempty"`
	Citations    []string `json:"citations,omitempty"`
	ForcedTool   string   `json:"forced_tool,omitempty"`
}

// Message is one turn in a conversation. Content only ever grows by append
// while the message is streaming.
type Message struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Status    MessageStatus    `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// ChatRequest is the body of POST /chat and POST /chat/stream.
// ConversationID is null on the first turn of a conversation.
type ChatRequest struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
	ForceTool      string  `json:"force_tool,omitempty"`
}

// ChatReply is the non-streaming fallback response.
type ChatReply struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversation_id"`
}
