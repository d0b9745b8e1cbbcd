package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"privat/cmd/internal/client/call"

	v1 "privat/shared/contracts/realtime/v1"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	streamID      = "privat"
	opusFrameTime = 20 * time.Millisecond
)

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// MediaSource opens synthesized local media: an Opus track fed with silence
// and, for video calls, a VP8 track fed by whoever holds LocalMedia.Video.
type MediaSource struct{}

var _ call.MediaSource = MediaSource{}

// Open implements call.MediaSource.
func (MediaSource) Open(_ context.Context, mode v1.Mode) (call.Media, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("rtc: audio track: %w", err)
	}

	m := &LocalMedia{audio: audio, done: make(chan struct{})}
	if mode == v1.ModeVideo {
		m.video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("rtc: video track: %w", err)
		}
	}

	m.wg.Add(1)
	go m.feedSilence()
	return m, nil
}

// LocalMedia is the local stream of one call.
type LocalMedia struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Video returns the VP8 track for video calls, nil otherwise. Callers write
// encoded frames with WriteSample.
func (m *LocalMedia) Video() *webrtc.TrackLocalStaticSample { return m.video }

// Close stops the audio feeder. Safe to call more than once.
func (m *LocalMedia) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}

func (m *LocalMedia) tracks() []webrtc.TrackLocal {
	out := []webrtc.TrackLocal{m.audio}
	if m.video != nil {
		out = append(out, m.video)
	}
	return out
}

func (m *LocalMedia) feedSilence() {
	defer m.wg.Done()

	t := time.NewTicker(opusFrameTime)
	defer t.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-t.C:
			// Unbound tracks drop samples; errors only mean the peer is gone.
			_ = m.audio.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrameTime})
		}
	}
}
