package foreman

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sitedesk/foreman/pkg/core/types"
)

func TestVoiceCall_SpeechTransitions(t *testing.T) {
	var mu sync.Mutex
	var statuses []types.VoiceStatus
	call, _ := newTestCall(types.VoiceListening, VoiceCallbacks{
		OnStatusChange: func(s types.VoiceStatus) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	}, nil)

	call.handleControlMessage([]byte(`{"type":"input_audio_buffer.speech_started"}`))
	call.handleControlMessage([]byte(`{"type":"input_audio_buffer.speech_stopped"}`))

	mu.Lock()
	defer mu.Unlock()
	want := []types.VoiceStatus{types.VoiceSpeaking, types.VoiceProcessing}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses[%d] = %q, want %q", i, statuses[i], want[i])
		}
	}
}

func TestVoiceCall_InputTranscript(t *testing.T) {
	var gotText string
	var gotFinal bool
	call, _ := newTestCall(types.VoiceProcessing, VoiceCallbacks{
		OnTranscript: func(text string, final bool) {
			gotText = text
			gotFinal = final
		},
	}, nil)

	call.handleControlMessage([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"order more rebar"}`))

	if gotText != "order more rebar" || !gotFinal {
		t.Fatalf("transcript callback = (%q, %v), want final transcript", gotText, gotFinal)
	}
	if got := call.UserTranscript(); got != "order more rebar" {
		t.Fatalf("UserTranscript() = %q", got)
	}
	if got := call.Status(); got != types.VoiceProcessing {
		t.Fatalf("status = %q, want unchanged processing", got)
	}
}

func TestVoiceCall_AssistantTranscriptDeltaAndDone(t *testing.T) {
	var responses []string
	call, _ := newTestCall(types.VoiceListening, VoiceCallbacks{
		OnResponse: func(text string) { responses = append(responses, text) },
	}, nil)

	call.handleControlMessage([]byte(`{"type":"response.audio_transcript.delta","delta":"The delivery "}`))
	call.handleControlMessage([]byte(`{"type":"response.audio_transcript.delta","delta":"arrives Monday."}`))

	if got := call.AssistantTranscript(); got != "The delivery arrives Monday." {
		t.Fatalf("accumulated transcript = %q", got)
	}
	if got := call.Status(); got != types.VoiceProcessing {
		t.Fatalf("status = %q, want processing while assistant speaks", got)
	}

	call.handleControlMessage([]byte(`{"type":"response.audio_transcript.done","transcript":"The delivery arrives Monday."}`))
	if len(responses) != 1 || responses[0] != "The delivery arrives Monday." {
		t.Fatalf("responses = %v", responses)
	}

	call.handleControlMessage([]byte(`{"type":"response.done"}`))
	if got := call.Status(); got != types.VoiceListening {
		t.Fatalf("status = %q, want listening after response done", got)
	}
	if got := call.AssistantTranscript(); got != "" {
		t.Fatalf("transcript buffer = %q, want cleared", got)
	}
}

func TestVoiceCall_ErrorEvent(t *testing.T) {
	var gotErr error
	call, _ := newTestCall(types.VoiceListening, VoiceCallbacks{
		OnError: func(err error) { gotErr = err },
	}, nil)

	call.handleControlMessage([]byte(`{"type":"error","error":{"message":"session expired"}}`))

	if gotErr == nil || gotErr.Error() != "session expired" {
		t.Fatalf("error callback = %v, want session expired", gotErr)
	}
	if got := call.Status(); got != types.VoiceError {
		t.Fatalf("status = %q, want error", got)
	}
}

func TestVoiceCall_UnknownAndMalformedEventsIgnored(t *testing.T) {
	call, channel := newTestCall(types.VoiceListening, VoiceCallbacks{}, nil)

	call.handleControlMessage([]byte(`{"type":"response.audio.delta","delta":"..."}`))
	call.handleControlMessage([]byte(`{"type":"some.future.event"}`))
	call.handleControlMessage([]byte(`not json at all`))

	if got := call.Status(); got != types.VoiceListening {
		t.Fatalf("status = %q, want untouched listening", got)
	}
	if got := len(channel.sentMessages()); got != 0 {
		t.Fatalf("sent messages = %d, want 0", got)
	}
}

func TestVoiceCall_ToolCallBridgesResultThenResume(t *testing.T) {
	executor := &funcExecutor{fn: func(_ context.Context, req types.VoiceToolRequest) (types.VoiceToolResponse, error) {
		if req.ToolName != "supplier_lookup" || req.CallID != "call_1" {
			t.Errorf("tool request = %+v", req)
		}
		return types.VoiceToolResponse{CallID: req.CallID, Output: `{"suppliers":[]}`}, nil
	}}

	var toolName string
	call, channel := newTestCall(types.VoiceProcessing, VoiceCallbacks{
		OnToolCall: func(name string, _ json.RawMessage) { toolName = name },
	}, executor)

	call.handleControlMessage([]byte(`{"type":"response.function_call_arguments.done","call_id":"call_1","name":"supplier_lookup","arguments":"{\"query\":\"rebar\"}"}`))

	// The bridge runs on its own goroutine; wait for both sends.
	<-channel.sendCh
	<-channel.sendCh

	sent := channel.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("sent messages = %d, want result then resume", len(sent))
	}
	item, ok := sent[0].(types.ConversationItemCreate)
	if !ok {
		t.Fatalf("first send = %T, want ConversationItemCreate", sent[0])
	}
	if item.Item.CallID != "call_1" || item.Item.Output != `{"suppliers":[]}` {
		t.Fatalf("tool result item = %+v", item)
	}
	resume, ok := sent[1].(types.ResponseCreate)
	if !ok || resume.Type != "response.create" {
		t.Fatalf("second send = %#v, want response.create", sent[1])
	}
	if toolName != "supplier_lookup" {
		t.Fatalf("OnToolCall name = %q", toolName)
	}
}

func TestVoiceCall_ToolCallFailureSendsNothing(t *testing.T) {
	executed := make(chan struct{})
	executor := &funcExecutor{fn: func(_ context.Context, _ types.VoiceToolRequest) (types.VoiceToolResponse, error) {
		close(executed)
		return types.VoiceToolResponse{}, errors.New("connection refused")
	}}
	call, channel := newTestCall(types.VoiceProcessing, VoiceCallbacks{}, executor)

	call.handleControlMessage([]byte(`{"type":"response.function_call_arguments.done","call_id":"call_2","name":"supplier_lookup","arguments":"{}"}`))

	<-executed
	// Give the bridge goroutine a moment to (incorrectly) send anything.
	time.Sleep(20 * time.Millisecond)

	if got := len(channel.sentMessages()); got != 0 {
		t.Fatalf("sent messages = %d, want 0 after a failed tool call", got)
	}
	if got := call.Status(); got != types.VoiceProcessing {
		t.Fatalf("status = %q, want unaffected by the tool failure", got)
	}
}

func TestVoiceCall_ToggleMuteWithoutTrack(t *testing.T) {
	call, _ := newTestCall(types.VoiceListening, VoiceCallbacks{}, nil)
	if got := call.ToggleMute(); got {
		t.Fatal("ToggleMute() without a track must stay unmuted")
	}
}

func TestVoiceCall_UnexpectedChannelCloseIsDisconnect(t *testing.T) {
	var statuses []types.VoiceStatus
	call, _ := newTestCall(types.VoiceListening, VoiceCallbacks{
		OnStatusChange: func(s types.VoiceStatus) { statuses = append(statuses, s) },
	}, nil)

	call.onChannelClosed()

	if got := call.Status(); got != types.VoiceDisconnected {
		t.Fatalf("status = %q, want disconnected", got)
	}
	if len(statuses) != 1 || statuses[0] != types.VoiceDisconnected {
		t.Fatalf("status callbacks = %v", statuses)
	}

	// A repeat close changes nothing.
	call.onChannelClosed()
	if len(statuses) != 1 {
		t.Fatalf("status callbacks after repeat close = %v", statuses)
	}
}
