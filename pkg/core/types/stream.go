package types

// StreamEventType discriminates StreamEvent.
type StreamEventType string

const (
	StreamDelta StreamEventType = "delta"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent is one decoded frame from the chat SSE stream. It is ephemeral
// and never persisted.
type StreamEvent struct {
	Type StreamEventType

	// Delta is set for StreamDelta events.
	Delta string

	// ConversationID is set for StreamDone events when the server assigned
	// (or confirmed) a conversation id.
	ConversationID string

	// Message is the human-readable error text for StreamError events.
	Message string
}

// DeltaPayload is the JSON body of an unnamed delta frame.
type DeltaPayload struct {
	Delta string `json:"delta"`
}

// DonePayload is the JSON body of a "done" frame.
type DonePayload struct {
	ConversationID string `json:"conversation_id"`
}

// ErrorPayload is the JSON body of an unnamed error frame.
type ErrorPayload struct {
	Error string `json:"error"`
}
