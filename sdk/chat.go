package foreman

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitedesk/foreman/pkg/core/types"
)

const (
	genericErrorText = "Sorry, something went wrong. Please try again."
	noResponseText   = "No response received. Please try again."
)

// ChatCallbacks notify the caller about turn outcomes. Nil fields are
// skipped. Callbacks run on the goroutine driving SendMessage.
type ChatCallbacks struct {
	OnMessageComplete func(msg types.Message)
	OnError           func(err error)
}

// Chat owns one conversation: the message history, the conversation id, and
// the single in-flight turn. All methods are safe for concurrent use.
type Chat struct {
	streamer  Streamer
	callbacks ChatCallbacks
	logger    *slog.Logger

	mu              sync.Mutex
	messages        []*types.Message
	conversationID  string
	lastUserMessage string
	lastErr         error
	inFlight        bool
	aborted         bool
	active          EventSource
}

// NewChat builds a conversation driven through the client's chat service.
func (c *Client) NewChat(callbacks ChatCallbacks) *Chat {
	return &Chat{
		streamer:  c.Chat,
		callbacks: callbacks,
		logger:    c.logger,
	}
}

// SendMessage issues one turn and blocks until it resolves. Empty or
// whitespace-only content is a no-op, as is a send while another turn is in
// flight. All failures surface through message state and OnError, never as a
// panic or a return value.
func (c *Chat) SendMessage(ctx context.Context, content string) {
	c.sendTurn(ctx, content, "")
}

// SendMessageWithTool is SendMessage with a forced tool selection for the
// backend.
func (c *Chat) SendMessageWithTool(ctx context.Context, content, forceTool string) {
	c.sendTurn(ctx, content, forceTool)
}

func (c *Chat) sendTurn(ctx context.Context, content, forceTool string) {
	trimmed := strings.TrimSpace(content)

	c.mu.Lock()
	if trimmed == "" || c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.aborted = false
	c.lastErr = nil
	c.lastUserMessage = trimmed

	now := time.Now()
	userMsg := &types.Message{
		ID:        newMessageID(),
		Role:      types.RoleUser,
		Content:   trimmed,
		Status:    types.MessageComplete,
		CreatedAt: now,
	}
	assistant := &types.Message{
		ID:        newMessageID(),
		Role:      types.RoleAssistant,
		Status:    types.MessageStreaming,
		CreatedAt: now,
	}
	if forceTool != "" {
		assistant.Metadata = &types.MessageMetadata{ForcedTool: forceTool}
	}
	// Both appended before the first network byte so the history never
	// shows a user turn without its pending reply.
	c.messages = append(c.messages, userMsg, assistant)
	conversationID := c.conversationID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.active = nil
		c.mu.Unlock()
	}()

	stream, err := c.streamer.Stream(ctx, trimmed, conversationID, forceTool)
	if err != nil {
		c.failTurn(assistant.ID, err, genericErrorText)
		return
	}

	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		stream.Stop()
		return
	}
	c.active = stream
	c.mu.Unlock()

	receivedDone := false
	hadError := false

	for event := range stream.Events() {
		c.mu.Lock()
		halted := c.aborted
		c.mu.Unlock()
		if halted {
			break
		}

		switch event.Type {
		case types.StreamDelta:
			if event.Delta == "" {
				continue
			}
			c.mu.Lock()
			if msg := c.findMessage(assistant.ID); msg != nil {
				msg.Content += event.Delta
				msg.Status = types.MessageStreaming
			}
			c.mu.Unlock()

		case types.StreamDone:
			receivedDone = true
			var completed types.Message
			c.mu.Lock()
			if event.ConversationID != "" {
				c.conversationID = event.ConversationID
			}
			if msg := c.findMessage(assistant.ID); msg != nil {
				msg.Status = types.MessageComplete
				completed = *msg
			}
			c.mu.Unlock()
			if c.callbacks.OnMessageComplete != nil && completed.ID != "" {
				c.callbacks.OnMessageComplete(completed)
			}

		case types.StreamError:
			hadError = true
			text := event.Message
			if text == "" {
				text = genericErrorText
			}
			c.failTurn(assistant.ID, errors.New(text), text)
		}
	}

	if receivedDone || hadError {
		return
	}

	// The stream ended without a terminal frame; a message must never stay
	// in streaming forever.
	c.mu.Lock()
	if msg := c.findMessage(assistant.ID); msg != nil && msg.Status == types.MessageStreaming {
		if msg.Content != "" {
			msg.Status = types.MessageComplete
		} else {
			msg.Content = noResponseText
			msg.Status = types.MessageError
		}
	}
	c.mu.Unlock()
}

// StopGeneration aborts the active stream and forces any still-streaming
// message to complete. Stopping is a user choice, not a failure.
func (c *Chat) StopGeneration() {
	c.mu.Lock()
	c.aborted = true
	active := c.active
	for _, m := range c.messages {
		if m.Status == types.MessageStreaming {
			m.Status = types.MessageComplete
		}
	}
	c.mu.Unlock()

	if active != nil {
		active.Stop()
	}
}

// RegenerateLastMessage drops the most recent assistant and user messages and
// re-issues the same user content. No-op without a prior user message or with
// a turn in flight.
func (c *Chat) RegenerateLastMessage(ctx context.Context) {
	c.mu.Lock()
	if c.lastUserMessage == "" || c.inFlight {
		c.mu.Unlock()
		return
	}
	content := c.lastUserMessage
	c.truncateFromLast(types.RoleAssistant)
	c.truncateFromLast(types.RoleUser)
	c.mu.Unlock()

	c.sendTurn(ctx, content, "")
}

// ClearMessages resets the history, conversation id, and error state for a
// fresh conversation.
func (c *Chat) ClearMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.conversationID = ""
	c.lastUserMessage = ""
	c.lastErr = nil
}

// Messages returns a snapshot of the history.
func (c *Chat) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = *m
	}
	return out
}

// ConversationID returns the id adopted from the first completed turn, empty
// for a fresh conversation.
func (c *Chat) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Busy reports whether a turn is in flight.
func (c *Chat) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Err returns the error from the most recent turn, nil after a clean one.
func (c *Chat) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Chat) failTurn(messageID string, err error, text string) {
	c.mu.Lock()
	c.lastErr = err
	if msg := c.findMessage(messageID); msg != nil {
		msg.Content = text
		msg.Status = types.MessageError
	}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Error("chat turn failed", "error", err)
	}
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

// findMessage must be called with c.mu held.
func (c *Chat) findMessage(id string) *types.Message {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return c.messages[i]
		}
	}
	return nil
}

// truncateFromLast removes the most recent message with the given role and
// everything after it. Must be called with c.mu held.
func (c *Chat) truncateFromLast(role types.Role) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == role {
			c.messages = c.messages[:i]
			return
		}
	}
}

func newMessageID() string {
	return "msg_" + uuid.NewString()
}
