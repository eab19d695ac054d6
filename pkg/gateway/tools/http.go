package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPExecutor runs tools against the portal API: POST {base}/tools/{name}
// with the arguments as the JSON body. The response body is returned verbatim
// as the tool output.
type HTTPExecutor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPExecutor(baseURL, apiKey string) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, name string, arguments map[string]any) (string, error) {
	if _, ok := ByName(Declarations())[name]; !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	body, err := json.Marshal(arguments)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tools/"+name, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("execute %s: status %d: %s", name, resp.StatusCode, truncate(string(out), 512))
	}
	return string(out), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Executor = (*HTTPExecutor)(nil)
