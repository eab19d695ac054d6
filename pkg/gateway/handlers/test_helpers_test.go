package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sitedesk/foreman/pkg/gateway/billing"
	"github.com/sitedesk/foreman/pkg/gateway/config"
	"github.com/sitedesk/foreman/pkg/gateway/store"
	"github.com/sitedesk/foreman/pkg/gateway/upstream"
)

func testConfig() config.Config {
	return config.Config{
		MaxBodyBytes:       1 << 20,
		MaxMessageChars:    4000,
		MaxHistoryMessages: 50,
		MaxToolIterations:  5,
		UpstreamTimeout:    5 * time.Second,
		VoiceRatePerMinute: 0.30,
		RealtimeVoice:      "echo",
		ReadHeaderTimeout:  time.Second,
		ReadTimeout:        time.Second,
		AuthMode:           config.AuthModeDisabled,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// memStore is an in-memory ChatStore and VoiceStore.
type memStore struct {
	mu       sync.Mutex
	messages []store.ChatMessage
	nextID   int64

	sessions map[int64]string // id -> status
	nextSess int64

	appendErr error
	endErr    error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[int64]string)}
}

func (m *memStore) AppendMessage(_ context.Context, conversationID, userID, role, content string) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.messages = append(m.messages, store.ChatMessage{
		ID:             m.nextID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	})
	return nil
}

func (m *memStore) History(_ context.Context, conversationID string, limit int) ([]store.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ChatMessage
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) CreateVoiceSession(_ context.Context, userID, model, voice string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSess++
	m.sessions[m.nextSess] = "active"
	return m.nextSess, nil
}

func (m *memStore) EndVoiceSession(_ context.Context, id int64, ratePerMinute float64) (store.VoiceSessionSummary, error) {
	if m.endErr != nil {
		return store.VoiceSessionSummary{}, m.endErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] != "active" {
		return store.VoiceSessionSummary{}, store.ErrNotFound
	}
	m.sessions[id] = "completed"
	return store.VoiceSessionSummary{DurationSeconds: 90, DurationMinutes: 1.5, EstimatedCost: 0.45}, nil
}

func (m *memStore) roleContents(conversationID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg.Role+": "+msg.Content)
		}
	}
	return out
}

// scriptedBackend returns its replies in order, emitting each reply's deltas
// first. Calls beyond the script fail.
type scriptedBackend struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []upstream.ReplyRequest
}

type scriptedReply struct {
	deltas []string
	reply  upstream.Reply
	err    error
}

func (b *scriptedBackend) StreamReply(_ context.Context, req upstream.ReplyRequest, emit func(string)) (upstream.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if len(b.replies) == 0 {
		return upstream.Reply{}, fmt.Errorf("no scripted reply left")
	}
	next := b.replies[0]
	b.replies = b.replies[1:]
	if next.err != nil {
		return upstream.Reply{}, next.err
	}
	for _, d := range next.deltas {
		if emit != nil {
			emit(d)
		}
	}
	return next.reply, nil
}

// recordingReporter captures usage events.
type recordingReporter struct {
	mu     sync.Mutex
	events []billing.UsageEvent
}

func (r *recordingReporter) ReportVoiceUsage(_ context.Context, ev billing.UsageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// staticMinter returns a fixed minted session or an error.
type staticMinter struct {
	session upstream.MintedSession
	err     error
	voices  []string
}

func (m *staticMinter) Mint(_ context.Context, voice string) (upstream.MintedSession, error) {
	m.voices = append(m.voices, voice)
	if m.err != nil {
		return upstream.MintedSession{}, m.err
	}
	out := m.session
	out.Voice = voice
	return out, nil
}
