package foreman

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/sitedesk/foreman/pkg/core"
)

// controlChannelName is the label the realtime backend expects for its event
// channel.
const controlChannelName = "oai-events"

// ControlChannel is the bidirectional event channel of one realtime session.
// Implementations deliver inbound events and lifecycle transitions to the
// handlers they were constructed with, each from a single goroutine.
type ControlChannel interface {
	// Send marshals v as JSON and writes it to the channel. Safe for
	// concurrent use.
	Send(v any) error

	// Close tears the channel down. Closing twice is a no-op.
	Close() error
}

// channelHandlers receive the channel lifecycle. onClosed fires exactly once,
// whether the close was local or remote.
type channelHandlers struct {
	onOpen    func()
	onMessage func(data []byte)
	onClosed  func()
}

// dataChannel speaks the control protocol over a peer-session data channel.
type dataChannel struct {
	dc *webrtc.DataChannel

	closed    atomic.Bool
	closeOnce sync.Once
	closedCb  func()
}

func newDataChannel(pc *webrtc.PeerConnection, handlers channelHandlers) (*dataChannel, error) {
	dc, err := pc.CreateDataChannel(controlChannelName, nil)
	if err != nil {
		return nil, err
	}

	ch := &dataChannel{dc: dc, closedCb: handlers.onClosed}
	dc.OnOpen(func() {
		if handlers.onOpen != nil {
			handlers.onOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if handlers.onMessage != nil {
			handlers.onMessage(msg.Data)
		}
	})
	dc.OnClose(func() {
		ch.markClosed()
	})
	return ch, nil
}

func (ch *dataChannel) Send(v any) error {
	if ch.closed.Load() {
		return core.NewInvalidRequestError("control channel is closed")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return core.NewInvalidRequestError("failed to marshal control event")
	}
	return ch.dc.SendText(string(payload))
}

func (ch *dataChannel) Close() error {
	err := ch.dc.Close()
	ch.markClosed()
	return err
}

func (ch *dataChannel) markClosed() {
	ch.closeOnce.Do(func() {
		ch.closed.Store(true)
		if ch.closedCb != nil {
			ch.closedCb()
		}
	})
}

// websocketChannel speaks the same control protocol over WSS, for headless
// clients that do not carry a media session.
type websocketChannel struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
	handlers  channelHandlers
}

// dialWebsocketChannel connects to the realtime backend over WSS using the
// ephemeral credential as a bearer token. The returned channel is quiet until
// start is called, so the caller can register it before any handler fires.
func dialWebsocketChannel(ctx context.Context, realtimeURL, model, clientSecret string, handlers channelHandlers) (*websocketChannel, error) {
	u, err := url.Parse(realtimeURL)
	if err != nil {
		return nil, core.NewInvalidRequestError("invalid realtime URL")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+clientSecret)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &TransportError{Op: "DIAL", URL: u.String(), Err: err}
	}

	ch := &websocketChannel{
		conn:     conn,
		done:     make(chan struct{}),
		handlers: handlers,
	}
	return ch, nil
}

// start fires the open handler and begins delivering inbound events.
func (ch *websocketChannel) start() {
	ch.started.Store(true)
	if ch.handlers.onOpen != nil {
		ch.handlers.onOpen()
	}
	go ch.readLoop()
}

func (ch *websocketChannel) Send(v any) error {
	if ch.closed.Load() {
		return core.NewInvalidRequestError("control channel is closed")
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.WriteJSON(v)
}

func (ch *websocketChannel) Close() error {
	ch.closeOnce.Do(func() {
		ch.closed.Store(true)
		ch.writeMu.Lock()
		_ = ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		ch.writeMu.Unlock()
		_ = ch.conn.Close()
	})
	if ch.started.Load() {
		<-ch.done
	}
	return nil
}

func (ch *websocketChannel) readLoop() {
	defer close(ch.done)
	defer func() {
		ch.closed.Store(true)
		if ch.handlers.onClosed != nil {
			ch.handlers.onClosed()
		}
	}()

	for {
		messageType, data, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if ch.handlers.onMessage != nil {
			ch.handlers.onMessage(data)
		}
	}
}
