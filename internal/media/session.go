// Package media owns one local-capture + peer-connection pairing for the
// lifetime of a single connection attempt.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/voxbridge/voxbridge/internal/capture"
	"github.com/voxbridge/voxbridge/internal/events"
	"github.com/voxbridge/voxbridge/internal/signaling"
)

var (
	// ErrNoPendingOffer is returned when ApplyAnswer runs before CreateOffer.
	ErrNoPendingOffer = errors.New("no pending offer")
	// ErrNotAnAnswer is returned when the supplied description is not an
	// answer-role description.
	ErrNotAnAnswer = errors.New("description is not an answer")
	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("media session closed")
)

// Config for one media session.
type Config struct {
	STUNServers   []string
	ChannelLabel  string
	CaptureDevice string
}

func (c Config) webrtcConfiguration() webrtc.Configuration {
	servers := c.STUNServers
	if len(servers) == 0 {
		servers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	}
}

func (c Config) channelLabel() string {
	if c.ChannelLabel == "" {
		return "events"
	}
	return c.ChannelLabel
}

// OpenSource acquires a local capture handle. Swapped in tests.
type OpenSource func(device string) (capture.Source, error)

// Session owns the microphone capture, the peer connection, the signaling
// data channel, and the outbound audio gate. Created on connect, torn down on
// disconnect or error, never reused.
type Session struct {
	id         string
	cfg        Config
	openSource OpenSource

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	source  capture.Source
	track   *capture.GatedTrack
	dc      *webrtc.DataChannel
	offered bool
	closed  bool

	remoteAudio     *events.Emitter[*webrtc.TrackRemote]
	onSignal        func([]byte)
	onChannelClosed func()
}

func NewSession(cfg Config) *Session {
	return NewSessionWithSource(cfg, func(device string) (capture.Source, error) {
		return capture.OpenPulse(device)
	})
}

func NewSessionWithSource(cfg Config, open OpenSource) *Session {
	return &Session{
		id:          uuid.NewString(),
		cfg:         cfg,
		openSource:  open,
		remoteAudio: events.NewReplayEmitter[*webrtc.TrackRemote](),
	}
}

func (s *Session) ID() string { return s.id }

// Open acquires the microphone, builds the peer connection, attaches the
// captured audio muted, and creates the outbound signaling channel. A partial
// failure releases everything already acquired before returning.
func (s *Session) Open(ctx context.Context) error {
	source, err := s.openSource(s.cfg.CaptureDevice)
	if err != nil {
		var capErr *capture.CaptureError
		if errors.As(err, &capErr) {
			return err
		}
		return &capture.CaptureError{Err: err}
	}

	pc, err := webrtc.NewPeerConnection(s.cfg.webrtcConfiguration())
	if err != nil {
		source.Close()
		return fmt.Errorf("create peer connection: %w", err)
	}

	track, err := capture.NewGatedTrack(s.id)
	if err != nil {
		source.Close()
		pc.Close()
		return fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track.Track()); err != nil {
		source.Close()
		pc.Close()
		return fmt.Errorf("add audio track: %w", err)
	}

	dc, err := pc.CreateDataChannel(s.cfg.channelLabel(), nil)
	if err != nil {
		source.Close()
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}

	s.mu.Lock()
	s.pc = pc
	s.source = source
	s.track = track
	s.mu.Unlock()

	s.bindChannel(dc)
	// The remote may offer its own signaling channel; whichever arrives last
	// is the active one.
	pc.OnDataChannel(func(remote *webrtc.DataChannel) {
		log.Info().Str("module", "media").Str("sid", s.id).Str("label", remote.Label()).Msg("remote data channel")
		s.bindChannel(remote)
	})

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		log.Info().
			Str("module", "media").
			Str("sid", s.id).
			Str("kind", tr.Kind().String()).
			Str("track_id", tr.ID()).
			Msg("remote track")
		s.remoteAudio.Emit(tr)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info().Str("module", "media").Str("sid", s.id).Str("peer_connection_state", state.String()).Msg("peer state")
	})

	go track.Pump(source)

	log.Info().Str("module", "media").Str("sid", s.id).Msg("media session open")
	return nil
}

// bindChannel makes dc the active signaling channel. Handlers on the previous
// channel are deregistered first so nothing dispatches twice.
func (s *Session) bindChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		dc.Close()
		return
	}
	if old := s.dc; old != nil && old != dc {
		old.OnMessage(func(webrtc.DataChannelMessage) {})
		old.OnClose(func() {})
		old.Close()
	}
	s.dc = dc
	s.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.mu.Lock()
		fn := s.onSignal
		active := s.dc == dc && !s.closed
		s.mu.Unlock()
		if active && fn != nil {
			fn(msg.Data)
		}
	})
	dc.OnClose(func() {
		s.mu.Lock()
		fn := s.onChannelClosed
		active := s.dc == dc && !s.closed
		s.mu.Unlock()
		if active && fn != nil {
			log.Warn().Str("module", "media").Str("sid", s.id).Msg("signaling channel closed")
			fn()
		}
	})
}

// CreateOffer generates the local description and waits for ICE gathering so
// the returned SDP is finalized.
func (s *Session) CreateOffer(ctx context.Context) (string, error) {
	s.mu.Lock()
	pc := s.pc
	closed := s.closed
	s.mu.Unlock()
	if closed || pc == nil {
		return "", ErrClosed
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	s.mu.Lock()
	s.offered = true
	s.mu.Unlock()
	return pc.LocalDescription().SDP, nil
}

// ApplyAnswer applies the remote description. It requires a prior CreateOffer
// and an answer-role description.
func (s *Session) ApplyAnswer(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	pc := s.pc
	offered := s.offered
	closed := s.closed
	s.mu.Unlock()
	if closed || pc == nil {
		return ErrClosed
	}
	if !offered {
		return &signaling.NegotiationError{Err: ErrNoPendingOffer}
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		return &signaling.NegotiationError{Err: ErrNotAnAnswer}
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return &signaling.NegotiationError{Err: fmt.Errorf("set remote description: %w", err)}
	}
	log.Info().Str("module", "media").Str("sid", s.id).Msg("remote description applied")
	return nil
}

// EnableAudio opens the outbound gate. Idempotent, immediate, no renegotiation.
func (s *Session) EnableAudio() {
	s.mu.Lock()
	track := s.track
	closed := s.closed
	s.mu.Unlock()
	if closed || track == nil {
		return
	}
	track.Enable()
}

// DisableAudio closes the outbound gate. Idempotent, immediate.
func (s *Session) DisableAudio() {
	s.mu.Lock()
	track := s.track
	closed := s.closed
	s.mu.Unlock()
	if closed || track == nil {
		return
	}
	track.Disable()
}

// AudioEnabled reports the gate state.
func (s *Session) AudioEnabled() bool {
	s.mu.Lock()
	track := s.track
	s.mu.Unlock()
	return track != nil && track.Enabled()
}

// OnRemoteAudio registers cb for remotely delivered audio tracks. If a track
// arrived before registration cb fires immediately with the most recent one.
func (s *Session) OnRemoteAudio(cb func(*webrtc.TrackRemote)) func() {
	return s.remoteAudio.Subscribe(cb)
}

// OnSignalMessage sets the consumer for raw signaling-channel payloads.
func (s *Session) OnSignalMessage(fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSignal = fn
}

// OnChannelClosed sets the callback for an unexpected mid-session loss of the
// signaling channel.
func (s *Session) OnChannelClosed(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChannelClosed = fn
}

// Close stops the capture, the signaling channel, and the peer connection.
// Safe to call repeatedly; after the first call no callback fires again.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	source := s.source
	dc := s.dc
	pc := s.pc
	s.source = nil
	s.dc = nil
	s.pc = nil
	s.track = nil
	s.onSignal = nil
	s.onChannelClosed = nil
	s.mu.Unlock()

	s.remoteAudio.Reset()

	if source != nil {
		source.Close()
	}
	if dc != nil {
		dc.OnMessage(func(webrtc.DataChannelMessage) {})
		dc.OnClose(func() {})
		dc.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "media").Str("sid", s.id).Msg("close error")
		}
	}
	log.Info().Str("module", "media").Str("sid", s.id).Msg("media session closed")
}
