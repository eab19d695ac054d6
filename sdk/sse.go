package foreman

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/sitedesk/foreman/pkg/core/types"
)

// sseReader splits a streamed response body into SSE frames. Frames are
// delimited by a blank line; `event:` names the frame, `data:` carries the
// payload. A partial trailing frame is flushed once at end of stream.
type sseReader struct {
	reader *bufio.Reader
	body   io.Closer
}

func newSSEReader(body io.ReadCloser) *sseReader {
	return &sseReader{
		reader: bufio.NewReader(body),
		body:   body,
	}
}

func (s *sseReader) Next() (string, []byte, error) {
	var eventName string
	var data bytes.Buffer
	sawData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !sawData && eventName == "" {
				if err == io.EOF {
					return "", nil, io.EOF
				}
				continue
			}
			return eventName, frameData(sawData, data.Bytes()), nil
		}

		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if sawData {
				data.WriteByte('\n')
			}
			data.WriteString(chunk)
			sawData = true
		}

		if err == io.EOF {
			if !sawData && eventName == "" {
				return "", nil, io.EOF
			}
			return eventName, frameData(sawData, data.Bytes()), nil
		}
	}
}

func frameData(sawData bool, data []byte) []byte {
	if !sawData {
		return nil
	}
	return data
}

func (s *sseReader) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}

// classifyFrame turns one raw SSE frame into a stream event, or nil when the
// frame is not recognized. A frame with no data line, malformed JSON, or an
// unknown payload shape yields nil rather than an error so the wire
// vocabulary can evolve without breaking older clients.
func classifyFrame(eventName string, data []byte) *types.StreamEvent {
	if len(data) == 0 {
		return nil
	}

	if eventName == "done" {
		var payload types.DonePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil
		}
		return &types.StreamEvent{
			Type:           types.StreamDone,
			ConversationID: payload.ConversationID,
		}
	}

	var delta types.DeltaPayload
	if err := json.Unmarshal(data, &delta); err != nil {
		return nil
	}
	if delta.Delta != "" {
		return &types.StreamEvent{
			Type:  types.StreamDelta,
			Delta: delta.Delta,
		}
	}
	var fail types.ErrorPayload
	if err := json.Unmarshal(data, &fail); err != nil {
		return nil
	}
	if fail.Error != "" {
		return &types.StreamEvent{
			Type:    types.StreamError,
			Message: fail.Error,
		}
	}
	return nil
}
