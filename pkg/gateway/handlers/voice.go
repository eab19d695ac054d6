package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sitedesk/foreman/pkg/core"
	"github.com/sitedesk/foreman/pkg/core/types"
	"github.com/sitedesk/foreman/pkg/gateway/auth"
	"github.com/sitedesk/foreman/pkg/gateway/billing"
	"github.com/sitedesk/foreman/pkg/gateway/config"
	"github.com/sitedesk/foreman/pkg/gateway/store"
	"github.com/sitedesk/foreman/pkg/gateway/tools"
	"github.com/sitedesk/foreman/pkg/gateway/upstream"
)

// VoiceStore is the slice of the store the voice handlers need.
type VoiceStore interface {
	CreateVoiceSession(ctx context.Context, userID, model, voice string) (int64, error)
	EndVoiceSession(ctx context.Context, id int64, ratePerMinute float64) (store.VoiceSessionSummary, error)
}

// SessionMinter creates ephemeral realtime credentials.
type SessionMinter interface {
	Mint(ctx context.Context, voice string) (upstream.MintedSession, error)
}

// VoiceSessionHandler serves POST /voice/session: mint an ephemeral realtime
// credential and open an accounting row for the call.
type VoiceSessionHandler struct {
	Config config.Config
	Store  VoiceStore
	Minter SessionMinter
	Logger *slog.Logger
}

func (h VoiceSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, core.NewInvalidRequestError("method not allowed"))
		return
	}

	voice := h.Config.RealtimeVoice
	var req struct {
		Voice string `json:"voice"`
	}
	// Body is optional; a bare POST uses the configured default voice.
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)).Decode(&req); err == nil && req.Voice != "" {
		voice = req.Voice
	}

	minted, err := h.Minter.Mint(r.Context(), voice)
	if err != nil {
		h.Logger.Error("realtime session mint failed", "error", err)
		writeError(w, r, core.NewAPIError("failed to create voice session"))
		return
	}

	sessionID, err := h.Store.CreateVoiceSession(r.Context(), userIDFrom(r), minted.Model, voice)
	if err != nil {
		h.Logger.Error("voice session insert failed", "error", err)
		writeError(w, r, core.NewAPIError("failed to create voice session"))
		return
	}

	resp := types.VoiceSessionResponse{VoiceSessionID: sessionID}
	resp.ClientSecret.Value = minted.ClientSecret
	writeJSON(w, http.StatusOK, struct {
		types.VoiceSessionResponse
		SessionID string `json:"session_id,omitempty"`
		ExpiresAt int64  `json:"expires_at,omitempty"`
	}{
		VoiceSessionResponse: resp,
		SessionID:            minted.SessionID,
		ExpiresAt:            minted.ExpiresAt,
	})
}

// VoiceSessionEndHandler serves POST /voice/session/end: close the accounting
// row, compute the cost, and report usage.
type VoiceSessionEndHandler struct {
	Config   config.Config
	Store    VoiceStore
	Reporter billing.Reporter
	Logger   *slog.Logger
}

func (h VoiceSessionEndHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, core.NewInvalidRequestError("method not allowed"))
		return
	}

	var req types.VoiceSessionEndRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, core.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.VoiceSessionID <= 0 {
		writeError(w, r, &core.Error{Type: core.ErrInvalidRequest, Message: "voice_session_id is required", Param: "voice_session_id"})
		return
	}

	sum, err := h.Store.EndVoiceSession(r.Context(), req.VoiceSessionID, h.Config.VoiceRatePerMinute)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Logger.Info("voice session ended",
		"session_id", req.VoiceSessionID,
		"duration_seconds", sum.DurationSeconds,
		"estimated_cost", sum.EstimatedCost,
	)
	if h.Reporter != nil {
		h.Reporter.ReportVoiceUsage(r.Context(), billing.UsageEvent{
			UserID:          userIDFrom(r),
			SessionID:       req.VoiceSessionID,
			DurationMinutes: sum.DurationMinutes,
			EstimatedCost:   sum.EstimatedCost,
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		types.CallDuration
	}{
		Success: true,
		CallDuration: types.CallDuration{
			DurationSeconds: int64(sum.DurationSeconds),
			DurationMinutes: sum.DurationMinutes,
			EstimatedCost:   sum.EstimatedCost,
		},
	})
}

// VoiceToolHandler serves POST /voice/tool: execute a portal tool on behalf of
// the realtime model. Execution failures come back as a JSON error payload in
// the output so the model can recover mid-call.
type VoiceToolHandler struct {
	Config   config.Config
	Executor tools.Executor
	Logger   *slog.Logger
}

func (h VoiceToolHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, core.NewInvalidRequestError("method not allowed"))
		return
	}

	var req types.VoiceToolRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, core.NewInvalidRequestError("invalid request body"))
		return
	}
	if req.ToolName == "" {
		writeError(w, r, &core.Error{Type: core.ErrInvalidRequest, Message: "tool_name is required", Param: "tool_name"})
		return
	}
	if req.CallID == "" {
		writeError(w, r, &core.Error{Type: core.ErrInvalidRequest, Message: "call_id is required", Param: "call_id"})
		return
	}

	var args map[string]any
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			writeError(w, r, &core.Error{Type: core.ErrInvalidRequest, Message: "arguments must be a JSON object", Param: "arguments"})
			return
		}
	}

	out, err := h.Executor.Execute(r.Context(), req.ToolName, args)
	if err != nil {
		h.Logger.Error("voice tool failed", "tool", req.ToolName, "error", err)
		out = toolErrorOutput(err)
	}

	writeJSON(w, http.StatusOK, types.VoiceToolResponse{CallID: req.CallID, Output: out})
}

func userIDFrom(r *http.Request) string {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return ""
	}
	if p.UserID != "" {
		return p.UserID
	}
	return p.APIKey
}
