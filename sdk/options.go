package foreman

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the portal gateway base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithSessionToken sets the caller's session token, sent as a bearer token on
// every gateway request. This is the caller's long-lived credential, distinct
// from the ephemeral realtime credential minted per voice call.
func WithSessionToken(token string) ClientOption {
	return func(c *Client) {
		c.sessionToken = token
	}
}

// WithRealtimeURL overrides the realtime backend signaling URL.
func WithRealtimeURL(url string) ClientOption {
	return func(c *Client) {
		c.realtimeURL = url
	}
}

// WithRealtimeModel overrides the realtime model identifier.
func WithRealtimeModel(model string) ClientOption {
	return func(c *Client) {
		c.realtimeModel = model
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracer sets the OpenTelemetry tracer for the client.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithAudioDevice sets the local audio capture device used by voice calls.
func WithAudioDevice(d AudioDevice) ClientOption {
	return func(c *Client) {
		c.audioDevice = d
	}
}

// WithAudioSink sets the playback sink for remote call audio.
func WithAudioSink(s AudioSink) ClientOption {
	return func(c *Client) {
		c.audioSink = s
	}
}

// WithToolExecutor overrides how voice tool calls are executed. The default
// posts them to the gateway's /voice/tool endpoint.
func WithToolExecutor(e ToolExecutor) ClientOption {
	return func(c *Client) {
		c.toolExecutor = e
	}
}
