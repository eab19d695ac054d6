package foreman

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/sitedesk/foreman/pkg/core"
	"github.com/sitedesk/foreman/pkg/core/types"
)

// greetDelay is how long after channel open the greeting instruction is sent.
// The realtime session needs a beat to finish configuring before it will
// accept a response request.
const greetDelay = 500 * time.Millisecond

const greetInstructions = "Greet the user briefly and ask how you can help them today."

// VoiceService creates realtime voice calls against the gateway.
type VoiceService struct {
	client *Client
}

// VoiceCallbacks notify the caller about call progress. Nil fields are
// skipped. Callbacks run on the control-channel goroutine and must not block.
type VoiceCallbacks struct {
	OnTranscript   func(text string, final bool)
	OnResponse     func(text string)
	OnToolCall     func(name string, args json.RawMessage)
	OnError        func(err error)
	OnStatusChange func(status types.VoiceStatus)
	OnCallEnded    func(duration types.CallDuration)
}

// VoiceCall drives one realtime voice call end to end: credential mint, peer
// session, control channel, event routing, and end-of-call accounting.
type VoiceCall struct {
	client    *Client
	callbacks VoiceCallbacks
	executor  ToolExecutor

	headless bool

	mu                  sync.Mutex
	status              types.VoiceStatus
	muted               bool
	userTranscript      string
	assistantTranscript string
	sessionID           int64

	pc      *webrtc.PeerConnection
	channel ControlChannel
	mic     LocalAudioTrack
	sink    AudioSink
	ending  bool
}

// NewCall builds an idle call. Each VoiceCall handles one call at a time;
// after EndCall returns it may be started again.
func (s *VoiceService) NewCall(callbacks VoiceCallbacks) *VoiceCall {
	executor := s.client.toolExecutor
	if executor == nil {
		executor = &httpToolExecutor{client: s.client}
	}
	return &VoiceCall{
		client:    s.client,
		callbacks: callbacks,
		executor:  executor,
		status:    types.VoiceIdle,
	}
}

// NewHeadlessCall builds a call that carries the control channel over a
// websocket instead of a peer media session. Headless clients get the same
// transcripts, tool bridging, and accounting; there is simply no audio.
func (s *VoiceService) NewHeadlessCall(callbacks VoiceCallbacks) *VoiceCall {
	call := s.NewCall(callbacks)
	call.headless = true
	return call
}

// StartCall mints an ephemeral realtime credential, opens the microphone,
// establishes the peer session with its control channel, and performs the
// offer/answer exchange. On any failure the call transitions to error,
// OnError fires, and every partially acquired resource is released.
func (c *VoiceCall) StartCall(ctx context.Context) error {
	c.mu.Lock()
	if c.status != types.VoiceIdle && c.status != types.VoiceError && c.status != types.VoiceDisconnected {
		c.mu.Unlock()
		return core.NewInvalidRequestError("a call is already in progress")
	}
	c.mu.Unlock()

	c.setStatus(types.VoiceConnecting)

	session, err := c.createVoiceSession(ctx)
	if err != nil {
		return c.failStart(ctx, err)
	}
	if session.ClientSecret.Value == "" {
		return c.failStart(ctx, core.NewAPIError("voice session has no client secret"))
	}
	c.mu.Lock()
	c.sessionID = session.VoiceSessionID
	c.mu.Unlock()

	if c.headless {
		return c.startControlOnly(ctx, session.ClientSecret.Value)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return c.failStart(ctx, err)
	}
	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()

	sink := c.client.audioSink
	if sink == nil {
		sink = newDiscardSink()
	}
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		sink.Play(track)
	})

	if c.client.audioDevice != nil {
		mic, err := c.client.audioDevice.Open(ctx, CaptureConfig{
			EchoCancellation: true,
			NoiseSuppression: true,
			SampleRate:       24000,
		})
		if err != nil {
			return c.failStart(ctx, err)
		}
		c.mu.Lock()
		c.mic = mic
		c.mu.Unlock()
		if _, err := pc.AddTrack(mic.Track()); err != nil {
			return c.failStart(ctx, err)
		}
	}

	channel, err := newDataChannel(pc, channelHandlers{
		onOpen:    c.onChannelOpen,
		onMessage: c.handleControlMessage,
		onClosed:  c.onChannelClosed,
	})
	if err != nil {
		return c.failStart(ctx, err)
	}
	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return c.failStart(ctx, err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return c.failStart(ctx, err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return c.failStart(ctx, ctx.Err())
	}

	answer, err := c.exchangeSDP(ctx, session.ClientSecret.Value, pc.LocalDescription().SDP)
	if err != nil {
		return c.failStart(ctx, err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return c.failStart(ctx, err)
	}

	c.setStatus(types.VoiceListening)
	return nil
}

// startControlOnly attaches the control channel over WSS. The channel is
// registered before it starts so the greet timer's staleness check sees it.
func (c *VoiceCall) startControlOnly(ctx context.Context, clientSecret string) error {
	channel, err := dialWebsocketChannel(ctx, c.client.realtimeURL, c.client.realtimeModel, clientSecret, channelHandlers{
		onOpen:    c.onChannelOpen,
		onMessage: c.handleControlMessage,
		onClosed:  c.onChannelClosed,
	})
	if err != nil {
		return c.failStart(ctx, err)
	}
	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()
	channel.start()

	c.setStatus(types.VoiceListening)
	return nil
}

// EndCall reports the session end for accounting first, fires OnCallEnded,
// then releases the channel, the peer connection, the microphone, and the
// sink, and resets the call to idle. Accounting failures are logged, never
// retried, and never block teardown.
func (c *VoiceCall) EndCall(ctx context.Context) {
	c.mu.Lock()
	c.ending = true
	sessionID := c.sessionID
	c.sessionID = 0
	c.mu.Unlock()

	if sessionID != 0 {
		duration, err := c.endVoiceSession(ctx, sessionID)
		if err != nil {
			c.client.logger.Error("failed to report voice session end", "voice_session_id", sessionID, "error", err)
		} else if c.callbacks.OnCallEnded != nil {
			c.callbacks.OnCallEnded(duration)
		}
	}

	c.release()

	c.mu.Lock()
	c.muted = false
	c.ending = false
	c.mu.Unlock()
	c.setStatus(types.VoiceIdle)
}

// ToggleMute flips the local track's enabled flag and returns the new muted
// state. Purely local, no network round trip.
func (c *VoiceCall) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic == nil {
		return c.muted
	}
	enabled := !c.mic.Enabled()
	c.mic.SetEnabled(enabled)
	c.muted = !enabled
	return c.muted
}

// Status returns the current call status.
func (c *VoiceCall) Status() types.VoiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connected reports whether the call is established.
func (c *VoiceCall) Connected() bool {
	return c.Status().Live()
}

// Muted reports the local mute state.
func (c *VoiceCall) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// UserTranscript returns the most recent transcription of the caller.
func (c *VoiceCall) UserTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userTranscript
}

// AssistantTranscript returns the assistant's transcript for the current
// turn, empty between turns.
func (c *VoiceCall) AssistantTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assistantTranscript
}

// onChannelOpen runs when the control channel comes up: the call is
// connected, the transcript buffers reset, and after a short delay the
// assistant is asked to greet the caller.
func (c *VoiceCall) onChannelOpen() {
	c.mu.Lock()
	c.userTranscript = ""
	c.assistantTranscript = ""
	channel := c.channel
	c.mu.Unlock()

	c.setStatus(types.VoiceConnected)

	time.AfterFunc(greetDelay, func() {
		c.mu.Lock()
		stale := c.channel != channel || c.ending
		c.mu.Unlock()
		if stale {
			return
		}
		err := channel.Send(types.ResponseCreate{
			Type: "response.create",
			Response: &types.ResponseConfig{
				Modalities:   []string{"text", "audio"},
				Instructions: greetInstructions,
			},
		})
		if err != nil {
			c.client.logger.Warn("failed to send greeting instruction", "error", err)
			return
		}
		c.setStatus(types.VoiceListening)
	})
}

// onChannelClosed marks a close the call did not initiate. The remote ended
// the session; that is a disconnect, not a failure.
func (c *VoiceCall) onChannelClosed() {
	c.mu.Lock()
	skip := c.ending || c.status == types.VoiceIdle || c.status == types.VoiceDisconnected
	c.mu.Unlock()
	if skip {
		return
	}
	c.setStatus(types.VoiceDisconnected)
}

// failStart resolves a StartCall failure: accounting is still attempted for
// an already minted session, resources are released, and the call lands in
// error rather than idle so the caller can see what happened.
func (c *VoiceCall) failStart(ctx context.Context, err error) error {
	c.client.logger.Error("voice call failed to start", "error", err)
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}

	c.mu.Lock()
	c.ending = true
	sessionID := c.sessionID
	c.sessionID = 0
	c.mu.Unlock()

	if sessionID != 0 {
		if _, endErr := c.endVoiceSession(ctx, sessionID); endErr != nil {
			c.client.logger.Error("failed to report voice session end", "voice_session_id", sessionID, "error", endErr)
		}
	}

	c.release()

	c.mu.Lock()
	c.muted = false
	c.ending = false
	c.mu.Unlock()
	c.setStatus(types.VoiceError)
	return err
}

// release closes whatever the call currently holds, in channel, peer,
// microphone, sink order.
func (c *VoiceCall) release() {
	c.mu.Lock()
	channel := c.channel
	pc := c.pc
	mic := c.mic
	sink := c.sink
	c.channel = nil
	c.pc = nil
	c.mic = nil
	c.sink = nil
	c.mu.Unlock()

	if channel != nil {
		_ = channel.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
	if mic != nil {
		_ = mic.Close()
	}
	if sink != nil {
		sink.Detach()
	}
}

func (c *VoiceCall) setStatus(status types.VoiceStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	if c.callbacks.OnStatusChange != nil {
		c.callbacks.OnStatusChange(status)
	}
}

func (c *VoiceCall) createVoiceSession(ctx context.Context) (types.VoiceSessionResponse, error) {
	endpoint, err := c.client.endpoint("/voice/session")
	if err != nil {
		return types.VoiceSessionResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return types.VoiceSessionResponse{}, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.client.authorize(req)

	resp, err := c.client.httpClient.Do(req)
	if err != nil {
		return types.VoiceSessionResponse{}, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.VoiceSessionResponse{}, decodeErrorResponse(resp, endpoint)
	}

	var session types.VoiceSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return types.VoiceSessionResponse{}, core.NewAPIError("failed to decode voice session response")
	}
	return session, nil
}

func (c *VoiceCall) endVoiceSession(ctx context.Context, sessionID int64) (types.CallDuration, error) {
	endpoint, err := c.client.endpoint("/voice/session/end")
	if err != nil {
		return types.CallDuration{}, err
	}

	payload, err := json.Marshal(types.VoiceSessionEndRequest{VoiceSessionID: sessionID})
	if err != nil {
		return types.CallDuration{}, core.NewInvalidRequestError("failed to marshal session end request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.CallDuration{}, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.client.authorize(req)

	resp, err := c.client.httpClient.Do(req)
	if err != nil {
		return types.CallDuration{}, &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.CallDuration{}, decodeErrorResponse(resp, endpoint)
	}

	var duration types.CallDuration
	if err := json.NewDecoder(resp.Body).Decode(&duration); err != nil {
		return types.CallDuration{}, core.NewAPIError("failed to decode call duration")
	}
	return duration, nil
}

// exchangeSDP posts the local offer to the realtime backend using the
// ephemeral credential and returns the answer SDP. The credential is used
// only here; the media and control session that follows carries no token.
func (c *VoiceCall) exchangeSDP(ctx context.Context, clientSecret, offerSDP string) (string, error) {
	endpoint := c.client.realtimeURL + "?model=" + c.client.realtimeModel

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(offerSDP)))
	if err != nil {
		return "", &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+clientSecret)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.client.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", core.NewAPIError("realtime backend rejected the session offer")
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	return string(answer), nil
}
