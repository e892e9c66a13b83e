package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

// DeviceConfig points the capture device at pre-encoded media files. Video
// must be IVF-wrapped VP8, audio OGG-wrapped Opus.
type DeviceConfig struct {
	VideoFile string
	AudioFile string
}

// Device implements ports.CaptureDevice by replaying encoded files as live
// tracks. It stands in for a display capture pipeline on headless hosts.
type Device struct {
	cfg    DeviceConfig
	logger *zap.SugaredLogger
}

func NewDevice(cfg DeviceConfig, logger *zap.SugaredLogger) *Device {
	return &Device{cfg: cfg, logger: logger}
}

// Acquire opens the configured files and starts pumping samples. A missing
// video source maps to a capture denial, the same refusal a user declining
// the capture prompt would produce.
func (d *Device) Acquire(ctx context.Context, c domain.CaptureConstraints) (ports.MediaStream, error) {
	if d.cfg.VideoFile == "" {
		return nil, fmt.Errorf("%w: no video source configured", domain.ErrCaptureDenied)
	}
	videoFile, err := os.Open(d.cfg.VideoFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptureDenied, err)
	}

	stream := newLocalStream(uuid.New().String())

	video, err := newVideoTrack(videoFile, d.logger)
	if err != nil {
		videoFile.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptureDenied, err)
	}
	stream.add(video)

	if c.Audio && d.cfg.AudioFile != "" {
		audioFile, err := os.Open(d.cfg.AudioFile)
		if err != nil {
			d.logger.Warnw("audio source unavailable, capturing video only", "file", d.cfg.AudioFile, "error", err)
		} else {
			audio, err := newAudioTrack(audioFile, d.logger)
			if err != nil {
				audioFile.Close()
				d.logger.Warnw("audio source unreadable, capturing video only", "file", d.cfg.AudioFile, "error", err)
			} else {
				stream.add(audio)
			}
		}
	}

	for _, t := range stream.tracks {
		t.start()
	}
	d.logger.Infow("capture started", "stream_id", stream.ID(), "tracks", len(stream.tracks))
	return stream, nil
}

// localStream is a set of file-backed local tracks. It satisfies the
// TrackSource surface the broker needs for outbound calls.
type localStream struct {
	id     string
	tracks []*localTrack
}

func newLocalStream(id string) *localStream {
	return &localStream{id: id}
}

func (s *localStream) add(t *localTrack) { s.tracks = append(s.tracks, t) }

func (s *localStream) ID() string { return s.id }

func (s *localStream) Tracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *localStream) VideoTracks() []ports.MediaTrack { return s.byKind(domain.TrackKindVideo) }
func (s *localStream) AudioTracks() []ports.MediaTrack { return s.byKind(domain.TrackKindAudio) }

func (s *localStream) byKind(kind string) []ports.MediaTrack {
	var out []ports.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// PionTracks exposes the sendable pion tracks for peer connection wiring.
func (s *localStream) PionTracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.track)
	}
	return out
}

// localTrack pumps samples from a file into a static-sample track.
type localTrack struct {
	id    string
	kind  string
	track *webrtc.TrackLocalStaticSample
	pump  func(*localTrack)

	mu      sync.Mutex
	hint    string
	applied domain.TrackConstraints
	stopped bool
	endedCb func()
	endOnce sync.Once
	done    chan struct{}

	closer io.Closer
	logger *zap.SugaredLogger
}

func newVideoTrack(f *os.File, logger *zap.SugaredLogger) (*localTrack, error) {
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("read IVF header: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "peercast-capture",
	)
	if err != nil {
		return nil, err
	}

	t := &localTrack{
		id:     uuid.New().String(),
		kind:   domain.TrackKindVideo,
		track:  track,
		done:   make(chan struct{}),
		closer: f,
		logger: logger,
	}
	frameDuration := time.Millisecond * time.Duration(
		(float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000,
	)
	t.pump = func(t *localTrack) {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			frame, _, err := reader.ParseNextFrame()
			if err != nil {
				if err != io.EOF {
					t.logger.Warnw("video source read failed", "error", err)
				}
				t.markEnded()
				return
			}
			if err := t.track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
				t.logger.Warnw("video sample write failed", "error", err)
				t.markEnded()
				return
			}
			select {
			case <-t.done:
				return
			case <-ticker.C:
			}
		}
	}
	return t, nil
}

const opusSampleRate = 48000

func newAudioTrack(f *os.File, logger *zap.SugaredLogger) (*localTrack, error) {
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("read OGG header: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "peercast-capture",
	)
	if err != nil {
		return nil, err
	}

	t := &localTrack{
		id:     uuid.New().String(),
		kind:   domain.TrackKindAudio,
		track:  track,
		done:   make(chan struct{}),
		closer: f,
		logger: logger,
	}
	t.pump = func(t *localTrack) {
		var lastGranule uint64
		for {
			page, pageHeader, err := reader.ParseNextPage()
			if err != nil {
				if err != io.EOF {
					t.logger.Warnw("audio source read failed", "error", err)
				}
				t.markEnded()
				return
			}
			sampleCount := pageHeader.GranulePosition - lastGranule
			lastGranule = pageHeader.GranulePosition
			sampleDuration := time.Duration(sampleCount) * time.Second / opusSampleRate
			if err := t.track.WriteSample(pionmedia.Sample{Data: page, Duration: sampleDuration}); err != nil {
				t.logger.Warnw("audio sample write failed", "error", err)
				t.markEnded()
				return
			}
			select {
			case <-t.done:
				return
			case <-time.After(sampleDuration):
			}
		}
	}
	return t, nil
}

func (t *localTrack) start() { go t.pump(t) }

func (t *localTrack) ID() string   { return t.id }
func (t *localTrack) Kind() string { return t.kind }

func (t *localTrack) ApplyConstraints(c domain.TrackConstraints) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return domain.ErrConnTerminal
	}
	t.applied = c
	if c.ContentHint != "" {
		t.hint = c.ContentHint
	}
	return nil
}

func (t *localTrack) SetContentHint(hint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hint = hint
	return nil
}

func (t *localTrack) ContentHint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hint
}

func (t *localTrack) OnEnded(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endedCb = f
}

// Stop halts the pump quietly: a local stop is not an ended event.
func (t *localTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	close(t.done)
	t.closer.Close()
}

// markEnded fires the ended callback once, for source exhaustion only.
func (t *localTrack) markEnded() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	cb := t.endedCb
	t.mu.Unlock()

	t.closer.Close()
	t.endOnce.Do(func() {
		if cb != nil {
			cb()
		}
	})
}
