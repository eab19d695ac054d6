package foreman

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sitedesk/foreman/pkg/core"
	"github.com/sitedesk/foreman/pkg/core/types"
)

// toolCallTimeout bounds one portal tool execution during a voice call.
const toolCallTimeout = 30 * time.Second

// ToolExecutor executes one named tool call on behalf of the realtime model.
type ToolExecutor interface {
	Execute(ctx context.Context, req types.VoiceToolRequest) (types.VoiceToolResponse, error)
}

// runToolCall bridges one tool call: execute it, then feed the result back
// into the realtime session tagged with the originating call id, then ask the
// backend to resume response generation. It runs on its own goroutine so the
// router keeps draining events while the tool works. Failures anywhere are
// logged and nothing is sent; the session keeps running without the result.
func (c *VoiceCall) runToolCall(callID, name string, args json.RawMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), toolCallTimeout)
		defer cancel()

		result, err := c.executor.Execute(ctx, types.VoiceToolRequest{
			ToolName:  name,
			Arguments: args,
			CallID:    callID,
		})
		if err != nil {
			c.client.logger.Error("tool execution failed", "tool", name, "call_id", callID, "error", err)
			return
		}

		c.mu.Lock()
		channel := c.channel
		c.mu.Unlock()
		if channel == nil {
			return
		}

		// Result first, then the resume request; reversing the order would
		// start a response that cannot see the tool output.
		if err := channel.Send(types.NewToolResultItem(callID, result.Output)); err != nil {
			c.client.logger.Error("failed to send tool result", "tool", name, "call_id", callID, "error", err)
			return
		}
		if err := channel.Send(types.ResponseCreate{Type: "response.create"}); err != nil {
			c.client.logger.Error("failed to resume response generation", "tool", name, "call_id", callID, "error", err)
		}
	}()
}

// httpToolExecutor is the default executor: the gateway's /voice/tool
// endpoint owns the business logic.
type httpToolExecutor struct {
	client *Client
}

func (e *httpToolExecutor) Execute(ctx context.Context, toolReq types.VoiceToolRequest) (types.VoiceToolResponse, error) {
	endpoint, err := e.client.endpoint("/voice/tool")
	if err != nil {
		return types.VoiceToolResponse{}, err
	}

	payload, err := json.Marshal(toolReq)
	if err != nil {
		return types.VoiceToolResponse{}, core.NewInvalidRequestError("failed to marshal tool request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.VoiceToolResponse{}, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	e.client.authorize(req)

	resp, err := e.client.httpClient.Do(req)
	if err != nil {
		return types.VoiceToolResponse{}, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.VoiceToolResponse{}, decodeErrorResponse(resp, endpoint)
	}

	var result types.VoiceToolResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.VoiceToolResponse{}, core.NewAPIError("failed to decode tool response")
	}
	return result, nil
}
