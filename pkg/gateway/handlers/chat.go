package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sitedesk/foreman/pkg/core"
	"github.com/sitedesk/foreman/pkg/core/types"
	"github.com/sitedesk/foreman/pkg/gateway/apierror"
	"github.com/sitedesk/foreman/pkg/gateway/config"
	"github.com/sitedesk/foreman/pkg/gateway/lifecycle"
	"github.com/sitedesk/foreman/pkg/gateway/sse"
	"github.com/sitedesk/foreman/pkg/gateway/store"
	"github.com/sitedesk/foreman/pkg/gateway/tools"
	"github.com/sitedesk/foreman/pkg/gateway/upstream"
)

// chatInstructions primes the text model for portal questions and keeps it
// honest about when to reach for the database tools.
const chatInstructions = `You are SiteDesk AI, a helpful assistant for the SiteDesk Portal application.

## Tool Usage Priority
IMPORTANT: You have access to database tools that can query live data. Use these tools FIRST for any questions about:
- Requisitions, orders, or POs (use search_requisitions, read_requisition, get_requisition_stats)
- Materials, items, or pricing (use search_materials)
- Locations or projects (use list_locations)
- Suppliers or vendors (use list_suppliers)

When a user asks about specific data like "which items are in PO PO400015" or "how many orders today", ALWAYS use the database tools.

## Creating Requisitions
When creating requisitions, you can help users by:
1. First searching for materials to find the correct codes and prices
2. Creating the requisition with proper location-specific pricing

## Response Guidelines
- Provide accurate and concise information based on the user's queries
- If you do not know the answer, respond with "I am not sure about that."
- Do not make up answers
- Format your responses using markdown when appropriate for better readability`

// ChatStore is the slice of the store the chat handlers need.
type ChatStore interface {
	AppendMessage(ctx context.Context, conversationID, userID, role, content string) error
	History(ctx context.Context, conversationID string, limit int) ([]store.ChatMessage, error)
}

// ChatHandler serves POST /chat, the non-streaming fallback.
type ChatHandler struct {
	Config   config.Config
	Store    ChatStore
	Backend  upstream.ModelBackend
	Executor tools.Executor
	Logger   *slog.Logger
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, core.NewInvalidRequestError("method not allowed"))
		return
	}

	req, conversationID, err := h.decodeAndPersist(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	history, err := h.loadHistory(r.Context(), conversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	text, err := h.runModelLoop(r.Context(), history, req.ForceTool, nil, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.persistAssistant(r.Context(), conversationID, userIDFrom(r), text)
	writeJSON(w, http.StatusOK, types.ChatReply{Reply: text, ConversationID: conversationID})
}

// ChatStreamHandler serves POST /chat/stream. Deltas and status updates go
// out as unnamed data frames; the terminal frame is a named done event.
type ChatStreamHandler struct {
	Config    config.Config
	Store     ChatStore
	Backend   upstream.ModelBackend
	Executor  tools.Executor
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
}

func (h ChatStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, core.NewInvalidRequestError("method not allowed"))
		return
	}
	if h.Lifecycle.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, apierror.Envelope{Error: &core.Error{
			Type:    core.ErrAPI,
			Message: "gateway is draining",
		}})
		return
	}

	inner := ChatHandler{
		Config:   h.Config,
		Store:    h.Store,
		Backend:  h.Backend,
		Executor: h.Executor,
		Logger:   h.Logger,
	}
	req, conversationID, err := inner.decodeAndPersist(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	history, err := inner.loadHistory(r.Context(), conversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sw, err := sse.New(w)
	if err != nil {
		writeError(w, r, core.NewAPIError("streaming unsupported"))
		return
	}

	emit := func(delta string) {
		_ = sw.SendData(map[string]string{"delta": delta})
	}
	notifyTools := func(names []string) {
		_ = sw.SendData(map[string]any{"status": "calling_tools", "tools": names})
	}

	text, err := inner.runModelLoop(r.Context(), history, req.ForceTool, emit, notifyTools)
	if err != nil {
		h.Logger.Error("chat stream failed", "conversation_id", conversationID, "error", err)
		_ = sw.SendData(map[string]string{"error": "An error occurred: " + err.Error()})
	}

	inner.persistAssistant(r.Context(), conversationID, userIDFrom(r), text)
	_ = sw.Send("done", map[string]string{"conversation_id": conversationID})
}

func (h ChatHandler) decodeAndPersist(w http.ResponseWriter, r *http.Request) (types.ChatRequest, string, error) {
	var req types.ChatRequest
	body := http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return req, "", core.NewInvalidRequestError("invalid request body")
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return req, "", &core.Error{Type: core.ErrInvalidRequest, Message: "message is required", Param: "message"}
	}
	if len(req.Message) > h.Config.MaxMessageChars {
		return req, "", &core.Error{Type: core.ErrInvalidRequest, Message: "message is too long", Param: "message"}
	}
	if req.ConversationID != nil && len(*req.ConversationID) > 36 {
		return req, "", &core.Error{Type: core.ErrInvalidRequest, Message: "conversation_id is too long", Param: "conversation_id"}
	}
	if len(req.ForceTool) > 50 {
		return req, "", &core.Error{Type: core.ErrInvalidRequest, Message: "force_tool is too long", Param: "force_tool"}
	}

	conversationID := ""
	if req.ConversationID != nil {
		conversationID = strings.TrimSpace(*req.ConversationID)
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if err := h.Store.AppendMessage(r.Context(), conversationID, userIDFrom(r), "user", req.Message); err != nil {
		return req, "", fmt.Errorf("persist user message: %w", err)
	}
	return req, conversationID, nil
}

func (h ChatHandler) loadHistory(ctx context.Context, conversationID string) ([]upstream.Turn, error) {
	msgs, err := h.Store.History(ctx, conversationID, h.Config.MaxHistoryMessages)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]upstream.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, upstream.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

// runModelLoop streams replies until the model stops asking for tools or the
// iteration budget runs out. ForceTool only applies to the first request so a
// forced call cannot loop forever.
func (h ChatHandler) runModelLoop(ctx context.Context, history []upstream.Turn, forceTool string, emit func(string), notifyTools func([]string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.Config.UpstreamTimeout)
	defer cancel()

	var full strings.Builder
	wrappedEmit := func(delta string) {
		full.WriteString(delta)
		if emit != nil {
			emit(delta)
		}
	}

	decls := tools.Declarations()
	for iteration := 0; iteration < h.Config.MaxToolIterations; iteration++ {
		req := upstream.ReplyRequest{
			System:  chatInstructions,
			History: history,
			Tools:   decls,
		}
		if iteration == 0 {
			req.ForceTool = forceTool
		}

		reply, err := h.Backend.StreamReply(ctx, req, wrappedEmit)
		if err != nil {
			return full.String(), err
		}
		if len(reply.ToolCalls) == 0 {
			return full.String(), nil
		}

		names := make([]string, len(reply.ToolCalls))
		for i, tc := range reply.ToolCalls {
			names[i] = tc.Name
		}
		h.Logger.Info("executing tool calls", "tools", names)
		if notifyTools != nil {
			notifyTools(names)
		}

		results := make([]upstream.ToolResult, 0, len(reply.ToolCalls))
		for _, tc := range reply.ToolCalls {
			out, err := h.Executor.Execute(ctx, tc.Name, tc.Arguments)
			if err != nil {
				// The model gets the failure as tool output and can recover.
				out = toolErrorOutput(err)
			}
			results = append(results, upstream.ToolResult{Name: tc.Name, Output: out})
		}

		history = append(history,
			upstream.Turn{Role: "assistant", Content: reply.Text, ToolCalls: reply.ToolCalls},
			upstream.Turn{Role: "tool", ToolResults: results},
		)
	}

	return full.String(), fmt.Errorf("tool iteration budget exhausted")
}

func (h ChatHandler) persistAssistant(ctx context.Context, conversationID, userID, text string) {
	if text == "" {
		return
	}
	if err := h.Store.AppendMessage(ctx, conversationID, userID, "assistant", text); err != nil {
		h.Logger.Error("persist assistant message failed", "conversation_id", conversationID, "error", err)
	}
}

func toolErrorOutput(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
