package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sitedesk/foreman/pkg/core/types"
	"github.com/sitedesk/foreman/pkg/gateway/lifecycle"
	"github.com/sitedesk/foreman/pkg/gateway/tools"
	"github.com/sitedesk/foreman/pkg/gateway/upstream"
)

func chatReq(t *testing.T, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func plainExecutor(out string) tools.Executor {
	return tools.FuncExecutor(func(context.Context, string, map[string]any) (string, error) {
		return out, nil
	})
}

func TestChat_SimpleReply(t *testing.T) {
	st := newMemStore()
	backend := &scriptedBackend{replies: []scriptedReply{
		{deltas: []string{"G'day ", "mate"}, reply: upstream.Reply{Text: "G'day mate"}},
	}}
	h := ChatHandler{Config: testConfig(), Store: st, Backend: backend, Executor: plainExecutor(""), Logger: testLogger()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, chatReq(t, `{"message":"hello","conversation_id":null}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var reply types.ChatReply
	if err := json.Unmarshal(rr.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Reply != "G'day mate" {
		t.Fatalf("reply = %q", reply.Reply)
	}
	if reply.ConversationID == "" {
		t.Fatal("conversation id missing")
	}

	got := st.roleContents(reply.ConversationID)
	want := []string{"user: hello", "assistant: G'day mate"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("persisted = %v, want %v", got, want)
	}
}

func TestChat_ReusesConversationID(t *testing.T) {
	st := newMemStore()
	backend := &scriptedBackend{replies: []scriptedReply{
		{reply: upstream.Reply{Text: "first"}},
		{reply: upstream.Reply{Text: "second"}},
	}}
	h := ChatHandler{Config: testConfig(), Store: st, Backend: backend, Executor: plainExecutor(""), Logger: testLogger()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, chatReq(t, `{"message":"one","conversation_id":null}`))
	var first types.ChatReply
	_ = json.Unmarshal(rr.Body.Bytes(), &first)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, chatReq(t, fmt.Sprintf(`{"message":"two","conversation_id":%q}`, first.ConversationID)))
	var second types.ChatReply
	_ = json.Unmarshal(rr.Body.Bytes(), &second)

	if second.ConversationID != first.ConversationID {
		t.Fatalf("conversation id changed: %q -> %q", first.ConversationID, second.ConversationID)
	}

	// The second request's model call must carry the prior turns.
	lastReq := backend.requests[len(backend.requests)-1]
	if len(lastReq.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(lastReq.History))
	}
	if lastReq.History[0].Content != "one" || lastReq.History[1].Content != "first" {
		t.Fatalf("history = %+v", lastReq.History)
	}
}

func TestChat_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":"  ","conversation_id":null}`},
		{"message too long", fmt.Sprintf(`{"message":%q,"conversation_id":null}`, strings.Repeat("x", 4001))},
		{"conversation id too long", fmt.Sprintf(`{"message":"hi","conversation_id":%q}`, strings.Repeat("c", 37))},
		{"force tool too long", fmt.Sprintf(`{"message":"hi","conversation_id":null,"force_tool":%q}`, strings.Repeat("t", 51))},
		{"bad json", `{`},
	}

	h := ChatHandler{Config: testConfig(), Store: newMemStore(), Backend: &scriptedBackend{}, Executor: plainExecutor(""), Logger: testLogger()}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, chatReq(t, tc.body))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), "invalid_request_error") {
				t.Fatalf("body = %q", rr.Body.String())
			}
		})
	}
}

func TestChat_ToolLoop(t *testing.T) {
	st := newMemStore()
	backend := &scriptedBackend{replies: []scriptedReply{
		{reply: upstream.Reply{ToolCalls: []upstream.ToolCall{{Name: "get_requisition_stats", Arguments: map[string]any{}}}}},
		{reply: upstream.Reply{Text: "Three pending, mate."}},
	}}
	var executed []string
	exec := tools.FuncExecutor(func(_ context.Context, name string, _ map[string]any) (string, error) {
		executed = append(executed, name)
		return `{"pending":3}`, nil
	})
	h := ChatHandler{Config: testConfig(), Store: st, Backend: backend, Executor: exec, Logger: testLogger()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, chatReq(t, `{"message":"how many pending?","conversation_id":null}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if len(executed) != 1 || executed[0] != "get_requisition_stats" {
		t.Fatalf("executed = %v", executed)
	}

	// Second model call must include the function call and its output.
	second := backend.requests[1]
	last := second.History[len(second.History)-1]
	if last.Role != "tool" || len(last.ToolResults) != 1 || last.ToolResults[0].Output != `{"pending":3}` {
		t.Fatalf("tool turn = %+v", last)
	}
}

func TestChat_ForceToolOnlyFirstIteration(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{reply: upstream.Reply{ToolCalls: []upstream.ToolCall{{Name: "list_locations", Arguments: map[string]any{}}}}},
		{reply: upstream.Reply{Text: "done"}},
	}}
	h := ChatHandler{Config: testConfig(), Store: newMemStore(), Backend: backend, Executor: plainExecutor("[]"), Logger: testLogger()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, chatReq(t, `{"message":"locations","conversation_id":null,"force_tool":"list_locations"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if backend.requests[0].ForceTool != "list_locations" {
		t.Fatalf("first request force tool = %q", backend.requests[0].ForceTool)
	}
	if backend.requests[1].ForceTool != "" {
		t.Fatalf("second request force tool = %q, want empty", backend.requests[1].ForceTool)
	}
}

func TestChat_ToolIterationBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxToolIterations = 2
	backend := &scriptedBackend{replies: []scriptedReply{
		{reply: upstream.Reply{ToolCalls: []upstream.ToolCall{{Name: "list_locations"}}}},
		{reply: upstream.Reply{ToolCalls: []upstream.ToolCall{{Name: "list_locations"}}}},
		{reply: upstream.Reply{Text: "never reached"}},
	}}
	h := ChatHandler{Config: cfg, Store: newMemStore(), Backend: backend, Executor: plainExecutor("[]"), Logger: testLogger()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, chatReq(t, `{"message":"loop","conversation_id":null}`))

	if rr.Code == http.StatusOK {
		t.Fatalf("status=%d, want error", rr.Code)
	}
	if len(backend.requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(backend.requests))
	}
}

func TestChat_ToolFailureFedBackToModel(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{reply: upstream.Reply{ToolCalls: []upstream.ToolCall{{Name: "read_requisition", Arguments: map[string]any{"requisition_id": float64(99)}}}}},
		{reply: upstream.Reply{Text: "Couldn't find that one, mate."}},
	}}
	exec := tools.FuncExecutor(func(context.Context, string, map[string]any) (string, error) {
		return "", fmt.Errorf("requisition not found")
	})
	h := ChatHandler{Config: testConfig(), Store: newMemStore(), Backend: backend, Executor: exec, Logger: testLogger()}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, chatReq(t, `{"message":"read 99","conversation_id":null}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	second := backend.requests[1]
	last := second.History[len(second.History)-1]
	if !strings.Contains(last.ToolResults[0].Output, "requisition not found") {
		t.Fatalf("tool output = %q, want error payload", last.ToolResults[0].Output)
	}
}

func TestChatStream_FrameSequence(t *testing.T) {
	st := newMemStore()
	backend := &scriptedBackend{replies: []scriptedReply{
		{reply: upstream.Reply{ToolCalls: []upstream.ToolCall{{Name: "list_suppliers", Arguments: map[string]any{}}}}},
		{deltas: []string{"Here ", "you go"}, reply: upstream.Reply{Text: "Here you go"}},
	}}
	h := ChatStreamHandler{Config: testConfig(), Store: st, Backend: backend, Executor: plainExecutor("[]"), Logger: testLogger()}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"suppliers","conversation_id":null}`))
	h.ServeHTTP(rr, req)

	body := rr.Body.String()
	wantOrder := []string{
		`data: {"status":"calling_tools","tools":["list_suppliers"]}`,
		`data: {"delta":"Here "}`,
		`data: {"delta":"you go"}`,
		"event: done",
	}
	idx := 0
	for _, frag := range wantOrder {
		pos := strings.Index(body[idx:], frag)
		if pos < 0 {
			t.Fatalf("frame %q missing or out of order in %q", frag, body)
		}
		idx += pos
	}
	if rr.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("Content-Type = %q", rr.Header().Get("Content-Type"))
	}
}

func TestChatStream_BackendErrorEmitsErrorFrameAndDone(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{err: fmt.Errorf("upstream exploded")},
	}}
	h := ChatStreamHandler{Config: testConfig(), Store: newMemStore(), Backend: backend, Executor: plainExecutor(""), Logger: testLogger()}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"hi","conversation_id":null}`))
	h.ServeHTTP(rr, req)

	body := rr.Body.String()
	if !strings.Contains(body, `"error":"An error occurred: upstream exploded"`) {
		t.Fatalf("body = %q, want error frame", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Fatalf("body = %q, want done event after error", body)
	}
}

func TestChatStream_PersistsAssistantTurn(t *testing.T) {
	st := newMemStore()
	backend := &scriptedBackend{replies: []scriptedReply{
		{deltas: []string{"Too easy"}, reply: upstream.Reply{Text: "Too easy"}},
	}}
	h := ChatStreamHandler{Config: testConfig(), Store: st, Backend: backend, Executor: plainExecutor(""), Logger: testLogger()}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"hi","conversation_id":"conv-1"}`))
	h.ServeHTTP(rr, req)

	got := st.roleContents("conv-1")
	if len(got) != 2 || got[1] != "assistant: Too easy" {
		t.Fatalf("persisted = %v", got)
	}
}

func TestChatStream_RejectedWhileDraining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := ChatStreamHandler{Config: testConfig(), Store: newMemStore(), Backend: &scriptedBackend{}, Executor: plainExecutor(""), Logger: testLogger(), Lifecycle: lc}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, chatReq(t, `{"message":"hi"}`))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "gateway is draining") {
		t.Fatalf("body = %q", rr.Body.String())
	}
}
