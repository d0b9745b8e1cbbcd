// Package rtc implements call.PeerFactory and call.MediaSource on pion.
package rtc

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"privat/cmd/internal/client/call"

	v1 "privat/shared/contracts/realtime/v1"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNURL is used when no ICE servers are configured explicitly.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// ICE timeouts tolerate short relay/NAT outages before declaring failure.
const (
	iceDisconnectedTimeout = 30 * time.Second
	iceFailedTimeout       = 120 * time.Second
	iceKeepaliveInterval   = 2 * time.Second
)

// Factory builds pion peer connections sharing one media engine configuration.
type Factory struct {
	log     *slog.Logger
	api     *webrtc.API
	servers []webrtc.ICEServer
}

// NewFactory registers the default codecs and interceptors. iceURLs may be
// empty for host-only connectivity.
func NewFactory(log *slog.Logger, iceURLs []string) (*Factory, error) {
	if log == nil {
		log = slog.Default()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("rtc: register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("rtc: register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	f := &Factory{
		log: log,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
	}

	var urls []string
	for _, u := range iceURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) > 0 {
		f.servers = []webrtc.ICEServer{{URLs: urls}}
	}
	return f, nil
}

// NewPeer implements call.PeerFactory.
func (f *Factory) NewPeer(_ v1.Mode, h call.PeerHandlers) (call.Peer, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.servers})
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}

	p := &Peer{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering; trickle has nothing to send for it.
		if c == nil || h.OnCandidate == nil {
			return
		}
		init := c.ToJSON()
		h.OnCandidate(v1.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f.log.Debug("rtc.track.remote", "track_kind", tr.Kind().String(), "codec", tr.Codec().MimeType)
		if h.OnRemoteTrack != nil {
			h.OnRemoteTrack(tr.Kind().String())
		}
		go drainRemote(tr)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		f.log.Debug("rtc.state", "state", s.String())
		if s == webrtc.PeerConnectionStateFailed && h.OnFailed != nil {
			h.OnFailed(errors.New("rtc: peer connection failed"))
		}
	})

	return p, nil
}

// drainRemote consumes remote RTP so interceptors keep running. The loop
// ends when the peer connection closes.
func drainRemote(tr *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := tr.Read(buf); err != nil {
			return
		}
	}
}
