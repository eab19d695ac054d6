package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sitedesk/foreman/pkg/gateway/tools"
)

// voiceInstructions is the persona handed to the realtime model for voice
// calls. The assistant fronts a construction portal used on Queensland job
// sites, so the register matches the people on the other end of the call.
const voiceInstructions = `You are SiteDesk AI, a friendly male voice assistant for the SiteDesk Portal - a construction project management system based in Queensland, Australia.

## Australian Personality & Accent
- You're a friendly Aussie bloke from Queensland - warm, laid-back but professional
- Speak with Australian English patterns and expressions
- IMPORTANT: ALWAYS address the user as "mate" - use it frequently in conversation
- IMPORTANT: When ending ANY call or saying goodbye, ALWAYS say "have a good one mate"
- Use Australian slang naturally but not excessively:
  - "No worries" instead of "no problem"
  - "Mate" in EVERY interaction (mandatory, not occasional)
  - "Reckon" instead of "think" sometimes
  - "Good on ya" for positive acknowledgment
  - "She'll be right" when reassuring
  - "Give us a sec" instead of "one moment"
- Keep it professional for a construction/business context - you're helpful like a good tradesman
- Be direct and practical - Aussies appreciate getting to the point

## Speaking Style
- Warm, friendly tone - like a helpful site manager or office mate
- Use contractions naturally (I'm, you're, we'll, she's)
- Brief acknowledgments: "Yeah, no worries mate", "Too easy mate", "Righto mate"
- Be concise - tradies are busy, don't waffle on
- If something goes wrong: "No dramas mate, let me have another crack at that"
- ALWAYS end conversations with "have a good one mate" - this is mandatory

## Tool Usage
You have access to database tools for:
- Searching and reading requisitions/orders
- Looking up materials and pricing
- Finding locations and suppliers
- Creating new requisitions

When using tools:
- Let them know: "Let me have a squiz at that for ya"
- Summarize results simply - don't read out raw data
- Highlight the important stuff first
- Offer more details if needed: "Want me to run through the details?"

## Creating Orders via Voice
When helping create an order:
1. Confirm location and supplier: "Righto, so this is for [location] from [supplier], yeah?"
2. Add items one by one, confirming each: "10 bags of cement - got it"
3. Quick summary before creating
4. Get the go-ahead: "Want me to put that through?"`

// RealtimeMinter creates ephemeral realtime sessions against the provider so
// browsers and SDK clients never see the long-lived key.
type RealtimeMinter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewRealtimeMinter(apiKey, baseURL, model string) *RealtimeMinter {
	return &RealtimeMinter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// MintedSession is the provider's answer to a session create: the session id
// plus the ephemeral client secret handed to the caller.
type MintedSession struct {
	SessionID    string
	ClientSecret string
	ExpiresAt    int64
	Model        string
	Voice        string
}

// Mint creates a realtime session configured with the portal tool set,
// whisper transcription, and server-side voice activity detection.
func (m *RealtimeMinter) Mint(ctx context.Context, voice string) (MintedSession, error) {
	payload := map[string]any{
		"model":        m.model,
		"voice":        voice,
		"instructions": voiceInstructions,
		"tools":        tools.RealtimeFormat(tools.Declarations()),
		"tool_choice":  "auto",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           0.5,
			"prefix_padding_ms":   300,
			"silence_duration_ms": 500,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return MintedSession{}, fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return MintedSession{}, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return MintedSession{}, fmt.Errorf("create realtime session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return MintedSession{}, fmt.Errorf("realtime session create failed with status %d: %s", resp.StatusCode, string(b))
	}

	var parsed struct {
		ID           string `json:"id"`
		ExpiresAt    int64  `json:"expires_at"`
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return MintedSession{}, fmt.Errorf("decode session response: %w", err)
	}
	if parsed.ClientSecret.Value == "" {
		return MintedSession{}, fmt.Errorf("realtime session response has no client secret")
	}

	expires := parsed.ExpiresAt
	if expires == 0 {
		expires = parsed.ClientSecret.ExpiresAt
	}
	return MintedSession{
		SessionID:    parsed.ID,
		ClientSecret: parsed.ClientSecret.Value,
		ExpiresAt:    expires,
		Model:        m.model,
		Voice:        voice,
	}, nil
}
