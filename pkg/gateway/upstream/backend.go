// Package upstream talks to the model providers: the streaming text backend
// and the realtime voice session mint.
package upstream

import (
	"context"

	"github.com/sitedesk/foreman/pkg/gateway/tools"
)

// Turn is one entry in the conversation sent to the model. Role is "user",
// "assistant", or "tool". An assistant turn may carry the function calls the
// model made; a tool turn carries their results.
type Turn struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

type ToolCall struct {
	Name      string
	Arguments map[string]any
}

type ToolResult struct {
	Name   string
	Output string
}

// Reply is the model's answer to one request. When ToolCalls is non-empty the
// caller is expected to execute them and send a follow-up request with the
// results appended to the history.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

type ReplyRequest struct {
	System  string
	History []Turn
	Tools   []tools.Declaration

	// ForceTool, when set, requires the model to call exactly this tool.
	ForceTool string
}

// ModelBackend streams a reply, invoking emit for each text delta as it
// arrives. The returned Reply carries the full text and any function calls.
type ModelBackend interface {
	StreamReply(ctx context.Context, req ReplyRequest, emit func(delta string)) (Reply, error)
}
