package foreman

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sitedesk/foreman/pkg/core/types"
)

// scriptedStream plays back a fixed event sequence as an EventSource. A
// holding stream stays open after its last event until Stop is called, which
// is how tests exercise mid-stream cancellation.
type scriptedStream struct {
	events []types.StreamEvent
	hold   bool

	once     sync.Once
	ch       chan types.StreamEvent
	stopCh   chan struct{}
	stopOnce sync.Once
	stopMu   sync.Mutex
	stopped  bool
}

func newScriptedStream(events ...types.StreamEvent) *scriptedStream {
	return &scriptedStream{events: events, stopCh: make(chan struct{})}
}

func newHoldingStream(events ...types.StreamEvent) *scriptedStream {
	s := newScriptedStream(events...)
	s.hold = true
	return s
}

func (s *scriptedStream) Events() <-chan types.StreamEvent {
	s.once.Do(func() {
		s.ch = make(chan types.StreamEvent)
		go func() {
			defer close(s.ch)
			for _, ev := range s.events {
				select {
				case s.ch <- ev:
				case <-s.stopCh:
					return
				}
			}
			if s.hold {
				<-s.stopCh
			}
		}()
	})
	return s.ch
}

func (s *scriptedStream) Stop() {
	s.stopMu.Lock()
	s.stopped = true
	s.stopMu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *scriptedStream) wasStopped() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stopped
}

// scriptedStreamer hands out one scripted stream per Stream call and records
// the requests it saw.
type scriptedStreamer struct {
	mu      sync.Mutex
	streams []*scriptedStream
	err     error

	calls []streamCall
}

type streamCall struct {
	message        string
	conversationID string
	forceTool      string
}

func (f *scriptedStreamer) Stream(_ context.Context, message, conversationID, forceTool string) (EventSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, streamCall{message: message, conversationID: conversationID, forceTool: forceTool})
	if f.err != nil {
		return nil, f.err
	}
	if len(f.streams) == 0 {
		return newScriptedStream(), nil
	}
	stream := f.streams[0]
	f.streams = f.streams[1:]
	return stream, nil
}

func newTestChat(streamer Streamer, callbacks ChatCallbacks) *Chat {
	return &Chat{
		streamer:  streamer,
		callbacks: callbacks,
		logger:    slog.New(slog.DiscardHandler),
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// recordingChannel captures everything sent over a control channel.
type recordingChannel struct {
	mu     sync.Mutex
	sent   []any
	sendCh chan any
	err    error
	closed bool
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{sendCh: make(chan any, 16)}
}

func (ch *recordingChannel) Send(v any) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.err != nil {
		return ch.err
	}
	ch.sent = append(ch.sent, v)
	ch.sendCh <- v
	return nil
}

func (ch *recordingChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}

func (ch *recordingChannel) sentMessages() []any {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]any(nil), ch.sent...)
}

// funcExecutor scripts the tool executor used by the bridge.
type funcExecutor struct {
	fn func(ctx context.Context, req types.VoiceToolRequest) (types.VoiceToolResponse, error)
}

func (e *funcExecutor) Execute(ctx context.Context, req types.VoiceToolRequest) (types.VoiceToolResponse, error) {
	return e.fn(ctx, req)
}

// newTestCall wires a VoiceCall with a recording channel, a scripted
// executor, and a quiet logger, already in the given status.
func newTestCall(status types.VoiceStatus, callbacks VoiceCallbacks, executor ToolExecutor) (*VoiceCall, *recordingChannel) {
	client := NewClient(WithLogger(slog.New(slog.DiscardHandler)))
	channel := newRecordingChannel()
	call := client.Voice.NewCall(callbacks)
	if executor != nil {
		call.executor = executor
	}
	call.status = status
	call.channel = channel
	return call, channel
}
