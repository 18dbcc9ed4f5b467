// Package session drives the connection lifecycle: it owns the single active
// media session, runs the offer/answer exchange, gates push-to-talk, and
// feeds the transcript aggregator from the signaling channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/voxbridge/voxbridge/internal/events"
	"github.com/voxbridge/voxbridge/internal/media"
	"github.com/voxbridge/voxbridge/internal/transcript"
)

// ErrSuperseded is returned by a Connect whose result was made stale by a
// newer Connect or a Disconnect while its negotiation was in flight.
var ErrSuperseded = errors.New("connect superseded")

// ChannelError reports the signaling channel dying mid-session. The session
// is considered broken; an explicit reconnect is required.
type ChannelError struct {
	SessionID string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("signaling channel closed unexpectedly (session %s)", e.SessionID)
}

// MediaSession is the slice of internal/media the coordinator drives.
// *media.Session satisfies it; tests inject fakes.
type MediaSession interface {
	ID() string
	Open(ctx context.Context) error
	CreateOffer(ctx context.Context) (string, error)
	ApplyAnswer(desc webrtc.SessionDescription) error
	EnableAudio()
	DisableAudio()
	OnRemoteAudio(cb func(*webrtc.TrackRemote)) func()
	OnSignalMessage(fn func([]byte))
	OnChannelClosed(fn func())
	Close()
}

// Negotiator exchanges a local description for a remote one.
// *signaling.Client satisfies it.
type Negotiator interface {
	Negotiate(ctx context.Context, offerSDP string) (string, error)
}

// Config for one coordinator.
type Config struct {
	Media      media.Config
	Transcript transcript.Config
}

// Coordinator is explicitly constructed and explicitly owned; independent
// instances never share state.
type Coordinator struct {
	negotiator Negotiator
	newSession func() MediaSession
	tcfg       transcript.Config

	mu      sync.Mutex
	gen     uint64
	state   ConnectionState
	sess    MediaSession
	pending MediaSession
	agg     *transcript.Aggregator
	lastErr error

	utterances   *events.Emitter[transcript.Utterance]
	stateChanges *events.Emitter[ConnectionState]
	remoteAudio  *events.Emitter[*webrtc.TrackRemote]
}

func New(negotiator Negotiator, cfg Config) *Coordinator {
	return NewWithFactory(negotiator, func() MediaSession {
		return media.NewSession(cfg.Media)
	}, cfg.Transcript)
}

// NewWithFactory builds a coordinator with a custom media-session factory.
func NewWithFactory(negotiator Negotiator, factory func() MediaSession, tcfg transcript.Config) *Coordinator {
	return &Coordinator{
		negotiator:   negotiator,
		newSession:   factory,
		tcfg:         tcfg,
		state:        StateIdle,
		utterances:   events.NewEmitter[transcript.Utterance](),
		stateChanges: events.NewEmitter[ConnectionState](),
		remoteAudio:  events.NewEmitter[*webrtc.TrackRemote](),
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that drove the most recent Failed transition.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnUtterance registers a consumer of completed-utterance events.
func (c *Coordinator) OnUtterance(cb func(transcript.Utterance)) func() {
	return c.utterances.Subscribe(cb)
}

// OnStateChange registers a consumer of lifecycle transitions.
func (c *Coordinator) OnStateChange(cb func(ConnectionState)) func() {
	return c.stateChanges.Subscribe(cb)
}

// OnRemoteAudio registers a consumer of remotely delivered audio tracks.
func (c *Coordinator) OnRemoteAudio(cb func(*webrtc.TrackRemote)) func() {
	return c.remoteAudio.Subscribe(cb)
}

// Connect establishes a fresh session. An already-active session is fully
// torn down first, so two media sessions are never live at once. On any
// failure the partially built session is torn down and the coordinator ends
// Idle, ready for a retry.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.Disconnect()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = StateNegotiating
	c.lastErr = nil
	c.mu.Unlock()
	c.stateChanges.Emit(StateNegotiating)

	log.Info().Str("module", "session").Uint64("gen", gen).Msg("connecting")

	sess := c.newSession()
	if err := sess.Open(ctx); err != nil {
		return c.failConnect(gen, sess, err)
	}

	// Register the half-built session so a Disconnect or a newer Connect can
	// release its capture handle without waiting for this negotiation.
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		sess.Close()
		return ErrSuperseded
	}
	c.pending = sess
	c.mu.Unlock()

	offer, err := sess.CreateOffer(ctx)
	if err != nil {
		return c.failConnect(gen, sess, err)
	}

	answer, err := c.negotiator.Negotiate(ctx, offer)
	if err != nil {
		return c.failConnect(gen, sess, err)
	}

	if err := sess.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return c.failConnect(gen, sess, err)
	}

	agg := transcript.NewAggregator(c.tcfg)
	agg.OnUtterance(func(u transcript.Utterance) { c.utterances.Emit(u) })

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		sess.Close()
		return ErrSuperseded
	}
	c.pending = nil
	c.sess = sess
	c.agg = agg
	c.state = StateConnected
	c.mu.Unlock()

	// Bind the fresh aggregator to this session's signaling channel. Stale
	// sessions are filtered by identity so a torn-down session can never
	// feed the current aggregator.
	sess.OnSignalMessage(func(payload []byte) {
		c.mu.Lock()
		active := c.sess == sess
		c.mu.Unlock()
		if active {
			agg.Ingest(payload)
		}
	})
	sess.OnChannelClosed(func() { c.channelBroken(gen, sess) })
	sess.OnRemoteAudio(func(tr *webrtc.TrackRemote) { c.remoteAudio.Emit(tr) })

	c.stateChanges.Emit(StateConnected)
	log.Info().Str("module", "session").Uint64("gen", gen).Str("sid", sess.ID()).Msg("connected")
	return nil
}

// failConnect tears down a partially built session and, unless a newer
// generation took over meanwhile, walks the state machine through Failed back
// to Idle.
func (c *Coordinator) failConnect(gen uint64, sess MediaSession, err error) error {
	sess.Close()

	c.mu.Lock()
	if c.pending == sess {
		c.pending = nil
	}
	stale := gen != c.gen
	if !stale {
		c.state = StateIdle
		c.lastErr = err
	}
	c.mu.Unlock()

	if stale {
		log.Debug().Str("module", "session").Uint64("gen", gen).Msg("stale connect result discarded")
		return ErrSuperseded
	}

	c.stateChanges.Emit(StateFailed)
	c.stateChanges.Emit(StateIdle)
	log.Error().Err(err).Str("module", "session").Uint64("gen", gen).Msg("connect failed")
	return fmt.Errorf("connect: %w", err)
}

// channelBroken handles the signaling channel dying under a live session.
func (c *Coordinator) channelBroken(gen uint64, sess MediaSession) {
	c.mu.Lock()
	if gen != c.gen || c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.agg = nil
	c.state = StateFailed
	c.lastErr = &ChannelError{SessionID: sess.ID()}
	c.mu.Unlock()

	sess.Close()
	c.stateChanges.Emit(StateFailed)
	log.Warn().Str("module", "session").Str("sid", sess.ID()).Msg("signaling channel broken, reconnect required")
}

// Disconnect stops any enabled audio, closes the media session, and returns
// to Idle. Idempotent; calling with no active session is a no-op.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	prevState := c.state
	sess := c.sess
	pending := c.pending
	agg := c.agg
	c.sess = nil
	c.pending = nil
	c.agg = nil
	c.gen++ // make any in-flight negotiation stale
	c.state = StateIdle
	c.mu.Unlock()

	if pending != nil {
		pending.Close()
	}
	if sess != nil {
		sess.DisableAudio()
		sess.Close()
	}
	if agg != nil {
		agg.Reset()
	}

	switch prevState {
	case StateIdle:
	case StateConnected:
		c.stateChanges.Emit(StateDisconnected)
		c.stateChanges.Emit(StateIdle)
	default:
		c.stateChanges.Emit(StateIdle)
	}
	if prevState != StateIdle {
		log.Info().Str("module", "session").Msg("disconnected")
	}
}

// StartRecording opens the push-to-talk gate. No-op without a session.
func (c *Coordinator) StartRecording() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		sess.EnableAudio()
	}
}

// StopRecording closes the push-to-talk gate. No-op without a session.
func (c *Coordinator) StopRecording() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		sess.DisableAudio()
	}
}
