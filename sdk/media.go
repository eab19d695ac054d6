package foreman

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/sitedesk/foreman/pkg/core"
)

// CaptureConfig describes the processing a call asks of the capture device.
// Devices that cannot honor a setting may ignore it.
type CaptureConfig struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
}

// LocalAudioTrack is an open microphone capture attached to a call. SetEnabled
// implements mute: a disabled track stays attached but carries no audio.
type LocalAudioTrack interface {
	Track() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}

// AudioDevice opens local audio capture for a voice call.
type AudioDevice interface {
	Open(ctx context.Context, cfg CaptureConfig) (LocalAudioTrack, error)
}

// AudioSink plays the remote side of a voice call. Detach stops playback and
// releases whatever the sink holds; it must be safe to call more than once.
type AudioSink interface {
	Play(track *webrtc.TrackRemote)
	Detach()
}

// SampleSource yields encoded audio samples from a capture backend. Next
// returns io.EOF when the source is exhausted.
type SampleSource interface {
	Next() (media.Sample, error)
	Close() error
}

// SampleSourceOpener builds a source for one call; called once per StartCall.
type SampleSourceOpener func(ctx context.Context, cfg CaptureConfig) (SampleSource, error)

// NewSampleAudioDevice adapts a sample-producing capture backend into an
// AudioDevice. The returned device writes Opus samples onto a static local
// track and gates them on the mute flag.
func NewSampleAudioDevice(open SampleSourceOpener) AudioDevice {
	return &sampleDevice{open: open}
}

type sampleDevice struct {
	open SampleSourceOpener
}

func (d *sampleDevice) Open(ctx context.Context, cfg CaptureConfig) (LocalAudioTrack, error) {
	if d.open == nil {
		return nil, core.NewInvalidRequestError("audio device has no capture source")
	}
	source, err := d.open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "foreman-mic",
	)
	if err != nil {
		_ = source.Close()
		return nil, err
	}

	t := &sampleTrack{track: track, source: source, done: make(chan struct{})}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

type sampleTrack struct {
	track  *webrtc.TrackLocalStaticSample
	source SampleSource

	enabled   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func (t *sampleTrack) Track() webrtc.TrackLocal { return t.track }

func (t *sampleTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *sampleTrack) Enabled() bool { return t.enabled.Load() }

func (t *sampleTrack) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.source.Close()
	})
	return err
}

func (t *sampleTrack) pump() {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		sample, err := t.source.Next()
		if err != nil {
			// io.EOF and backend errors both end the feed; the call keeps
			// running on whatever was already sent.
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.track.WriteSample(sample); err != nil {
			return
		}
	}
}

// discardSink drains remote audio without playing it. Reading keeps the
// transport's feedback loop alive for clients that only want transcripts.
type discardSink struct {
	mu   sync.Mutex
	stop chan struct{}
}

func newDiscardSink() *discardSink {
	return &discardSink{}
}

func (s *discardSink) Play(track *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}()
}

func (s *discardSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}
