// Package foreman provides the client engine for the SiteDesk assistant:
// streaming text chat over server-sent events and realtime voice calls over a
// peer media/data session. Rendering, persistence, and the model backend are
// external collaborators; this package owns the conversation and call state
// machines and the wire plumbing underneath them.
package foreman

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/sitedesk/foreman/pkg/core"
)

const (
	defaultRealtimeURL   = "https://api.openai.com/v1/realtime"
	defaultRealtimeModel = "gpt-4o-mini-realtime-preview-2024-12-17"
)

// Client is the main entry point for the SDK.
type Client struct {
	Chat  *ChatService
	Voice *VoiceService

	baseURL       string
	sessionToken  string
	realtimeURL   string
	realtimeModel string

	httpClient   *http.Client
	logger       *slog.Logger
	tracer       trace.Tracer
	audioDevice  AudioDevice
	audioSink    AudioSink
	toolExecutor ToolExecutor
}

// NewClient creates a new client for a portal gateway at the given base URL.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		realtimeURL:   defaultRealtimeURL,
		realtimeModel: defaultRealtimeModel,
		httpClient:    newDefaultHTTPClient(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Chat = &ChatService{client: c}
	c.Voice = &VoiceService{client: c}
	return c
}

// endpoint resolves a gateway path against the configured base URL.
func (c *Client) endpoint(path string) (string, error) {
	rawBaseURL := strings.TrimSpace(c.baseURL)
	if rawBaseURL == "" {
		return "", core.NewInvalidRequestError("base URL is not configured (set WithBaseURL)")
	}

	base, err := url.Parse(rawBaseURL)
	if err != nil || strings.TrimSpace(base.Scheme) == "" || strings.TrimSpace(base.Host) == "" {
		return "", core.NewInvalidRequestError("invalid base URL")
	}
	if base.User != nil {
		return "", core.NewInvalidRequestError("base URL must not include credentials")
	}

	base.RawQuery = ""
	base.Fragment = ""

	cleanPath := "/" + strings.TrimLeft(path, "/")
	basePath := strings.TrimSuffix(base.Path, "/")
	if basePath == "" || basePath == "/" {
		base.Path = cleanPath
	} else {
		base.Path = basePath + cleanPath
	}
	base.RawPath = ""

	return base.String(), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	}
}
