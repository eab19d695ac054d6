package types

// Control-channel event vocabulary spoken by the realtime backend. The set is
// expected to grow over time; consumers ignore types they do not recognize.
const (
	RealtimeSessionCreated          = "session.created"
	RealtimeSessionUpdated          = "session.updated"
	RealtimeSpeechStarted           = "input_audio_buffer.speech_started"
	RealtimeSpeechStopped           = "input_audio_buffer.speech_stopped"
	RealtimeInputTranscriptDone     = "conversation.item.input_audio_transcription.completed"
	RealtimeResponseTranscriptDelta = "response.audio_transcript.delta"
	RealtimeResponseTranscriptDone  = "response.audio_transcript.done"
	RealtimeToolArgumentsDone       = "response.function_call_arguments.done"
	RealtimeResponseDone            = "response.done"
	RealtimeError                   = "error"
)

// RealtimeEvent is one decoded inbound control-channel event. Only the fields
// relevant to the event's type are populated.
type RealtimeEvent struct {
	Type       string             `json:"type"`
	Transcript string             `json:"transcript,omitempty"`
	Delta      string             `json:"delta,omitempty"`
	CallID     string             `json:"call_id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Arguments  string             `json:"arguments,omitempty"`
	Error      *RealtimeErrorBody `json:"error,omitempty"`
}

// RealtimeErrorBody is the error detail attached to an "error" event.
type RealtimeErrorBody struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ConversationItemCreate is the outbound message that feeds a tool result
// back into the realtime session.
type ConversationItemCreate struct {
	Type string             `json:"type"`
	Item FunctionCallOutput `json:"item"`
}

// FunctionCallOutput pairs an opaque tool output with its originating call id.
type FunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// ResponseCreate asks the realtime backend to (re)start response generation.
type ResponseCreate struct {
	Type     string          `json:"type"`
	Response *ResponseConfig `json:"response,omitempty"`
}

// ResponseConfig customizes a requested response.
type ResponseConfig struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// NewToolResultItem builds the function_call_output item for a completed tool
// call.
func NewToolResultItem(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: "conversation.item.create",
		Item: FunctionCallOutput{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}
