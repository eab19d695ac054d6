package foreman

import (
	"encoding/json"
	"errors"

	"github.com/sitedesk/foreman/pkg/core/types"
)

// handleControlMessage routes one inbound control-channel event. Unknown
// event types are ignored so new backend vocabulary never breaks a deployed
// client; undecodable payloads are logged and dropped.
func (c *VoiceCall) handleControlMessage(data []byte) {
	var event types.RealtimeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.client.logger.Warn("dropping undecodable control event", "error", err)
		return
	}

	switch event.Type {
	case types.RealtimeSessionCreated, types.RealtimeSessionUpdated:
		c.client.logger.Debug("realtime session event", "type", event.Type)

	case types.RealtimeSpeechStarted:
		c.setStatus(types.VoiceSpeaking)

	case types.RealtimeSpeechStopped:
		c.setStatus(types.VoiceProcessing)

	case types.RealtimeInputTranscriptDone:
		c.mu.Lock()
		c.userTranscript = event.Transcript
		c.mu.Unlock()
		if c.callbacks.OnTranscript != nil {
			c.callbacks.OnTranscript(event.Transcript, true)
		}

	case types.RealtimeResponseTranscriptDelta:
		c.mu.Lock()
		c.assistantTranscript += event.Delta
		c.mu.Unlock()
		c.setStatus(types.VoiceProcessing)

	case types.RealtimeResponseTranscriptDone:
		c.mu.Lock()
		c.assistantTranscript = event.Transcript
		c.mu.Unlock()
		if c.callbacks.OnResponse != nil {
			c.callbacks.OnResponse(event.Transcript)
		}

	case types.RealtimeToolArgumentsDone:
		args := json.RawMessage(event.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		if c.callbacks.OnToolCall != nil {
			c.callbacks.OnToolCall(event.Name, args)
		}
		c.runToolCall(event.CallID, event.Name, args)

	case types.RealtimeResponseDone:
		c.mu.Lock()
		c.assistantTranscript = ""
		c.mu.Unlock()
		c.setStatus(types.VoiceListening)

	case types.RealtimeError:
		message := "unknown realtime error"
		if event.Error != nil && event.Error.Message != "" {
			message = event.Error.Message
		}
		c.client.logger.Error("realtime session error", "message", message)
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(errors.New(message))
		}
		c.setStatus(types.VoiceError)
	}
}
