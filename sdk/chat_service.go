package foreman

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sitedesk/foreman/pkg/core"
	"github.com/sitedesk/foreman/pkg/core/types"
)

// EventSource is a cancellable, strictly ordered sequence of stream events.
type EventSource interface {
	// Events yields decoded stream events in arrival order. The channel is
	// closed when the stream ends for any reason.
	Events() <-chan types.StreamEvent

	// Stop aborts the underlying transport. A stream aborted this way
	// terminates silently, without a terminal error event.
	Stop()
}

// Streamer issues one chat turn as a cancellable event sequence.
type Streamer interface {
	Stream(ctx context.Context, message, conversationID, forceTool string) (EventSource, error)
}

// ChatService talks to the gateway chat endpoints.
type ChatService struct {
	client *Client
}

// Stream opens POST /chat/stream and returns the decoded event sequence.
// Request-time failures (bad URL, connection refused, non-2xx status) are
// returned as errors; failures after the stream is established surface as a
// single terminal error event.
func (s *ChatService) Stream(ctx context.Context, message, conversationID, forceTool string) (EventSource, error) {
	endpoint, err := s.client.endpoint("/chat/stream")
	if err != nil {
		return nil, err
	}

	body := types.ChatRequest{
		Message:        message,
		ConversationID: nullableID(conversationID),
		ForceTool:      forceTool,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to marshal chat request")
	}

	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	s.client.authorize(req)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		return nil, decodeErrorResponse(resp, endpoint)
	}

	stream := &ChatStream{
		reader: newSSEReader(resp.Body),
		cancel: cancel,
		events: make(chan types.StreamEvent),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go stream.readLoop()
	return stream, nil
}

// Send is the non-streaming fallback: one POST /chat returning the full reply
// and conversation id atomically.
func (s *ChatService) Send(ctx context.Context, message, conversationID string) (types.ChatReply, error) {
	endpoint, err := s.client.endpoint("/chat")
	if err != nil {
		return types.ChatReply{}, err
	}

	payload, err := json.Marshal(types.ChatRequest{
		Message:        message,
		ConversationID: nullableID(conversationID),
	})
	if err != nil {
		return types.ChatReply{}, core.NewInvalidRequestError("failed to marshal chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.ChatReply{}, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	s.client.authorize(req)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return types.ChatReply{}, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.ChatReply{}, decodeErrorResponse(resp, endpoint)
	}

	var reply types.ChatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return types.ChatReply{}, core.NewAPIError("failed to decode chat reply")
	}
	return reply, nil
}

// ChatStream reads SSE frames off one in-flight chat response.
type ChatStream struct {
	reader *sseReader
	cancel context.CancelFunc

	events   chan types.StreamEvent
	done     chan struct{}
	stop     chan struct{}
	stopped  atomic.Bool
	stopOnce sync.Once
}

// Events implements EventSource.
func (s *ChatStream) Events() <-chan types.StreamEvent {
	return s.events
}

// Stop implements EventSource. Stopping an already finished stream is a
// no-op.
func (s *ChatStream) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stop)
		s.cancel()
		_ = s.reader.Close()
	})
}

func (s *ChatStream) readLoop() {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()
	defer s.reader.Close()

	for {
		eventName, data, err := s.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			// A user-initiated stop aborts the transport mid-read; that is
			// not a failure and must not surface as one.
			if s.stopped.Load() || errors.Is(err, context.Canceled) {
				return
			}
			s.send(types.StreamEvent{
				Type:    types.StreamError,
				Message: "connection lost while receiving the response",
			})
			return
		}

		event := classifyFrame(eventName, data)
		if event == nil {
			continue
		}
		if !s.send(*event) {
			return
		}

		if event.Type == types.StreamDone || event.Type == types.StreamError {
			return
		}
	}
}

// send delivers one event unless the stream was stopped. A consumer that
// stopped mid-stream may never receive again; blocking here would leak the
// read goroutine along with the response body.
func (s *ChatStream) send(ev types.StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	}
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// decodeErrorResponse maps a non-2xx gateway response onto the canonical
// error shape, falling back to a status-derived message.
func decodeErrorResponse(resp *http.Response, endpoint string) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}

	var env struct {
		Error   *core.Error `json:"error"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != nil && env.Error.Message != "" {
			return env.Error
		}
		if env.Message != "" {
			return &core.Error{Type: inferErrorType(resp.StatusCode), Message: env.Message}
		}
	}
	return &core.Error{
		Type:    inferErrorType(resp.StatusCode),
		Message: "request failed with status " + http.StatusText(resp.StatusCode),
	}
}

func inferErrorType(statusCode int) core.ErrorType {
	switch statusCode {
	case http.StatusBadRequest:
		return core.ErrInvalidRequest
	case http.StatusUnauthorized:
		return core.ErrAuthentication
	case http.StatusForbidden:
		return core.ErrPermission
	case http.StatusNotFound:
		return core.ErrNotFound
	case http.StatusTooManyRequests:
		return core.ErrRateLimit
	default:
		return core.ErrAPI
	}
}
