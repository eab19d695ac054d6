package types

import "encoding/json"

// VoiceStatus is the state machine of a realtime voice call.
//
// idle -> connecting -> connected -> listening <-> speaking <-> processing
// and from any live state to error or disconnected.
type VoiceStatus string

const (
	VoiceIdle         VoiceStatus = "idle"
	VoiceConnecting   VoiceStatus = "connecting"
	VoiceConnected    VoiceStatus = "connected"
	VoiceListening    VoiceStatus = "listening"
	VoiceSpeaking     VoiceStatus = "speaking"
	VoiceProcessing   VoiceStatus = "processing"
	VoiceError        VoiceStatus = "error"
	VoiceDisconnected VoiceStatus = "disconnected"
)

// Live reports whether the status belongs to an established call.
func (s VoiceStatus) Live() bool {
	switch s {
	case VoiceConnected, VoiceListening, VoiceSpeaking, VoiceProcessing:
		return true
	default:
		return false
	}
}

// CallDuration is the end-of-call accounting computed server side.
type CallDuration struct {
	DurationSeconds int64   `json:"duration_seconds"`
	DurationMinutes float64 `json:"duration_minutes"`
	EstimatedCost   float64 `json:"estimated_cost"`
}

// VoiceSessionResponse is the body of POST /voice/session: an ephemeral
// realtime credential plus the portal-side session id used for accounting.
type VoiceSessionResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
	VoiceSessionID int64 `json:"voice_session_id"`
}

// VoiceSessionEndRequest is the body of POST /voice/session/end.
type VoiceSessionEndRequest struct {
	VoiceSessionID int64 `json:"voice_session_id"`
}

// VoiceToolRequest asks the gateway to execute a named tool on behalf of the
// realtime model.
type VoiceToolRequest struct {
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	CallID    string          `json:"call_id"`
}

// VoiceToolResponse carries the opaque tool output keyed by the call id.
type VoiceToolResponse struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}
