package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/voxbridge/voxbridge/internal/transcript"
)

const fakeOfferSDP = "v=0\r\nfake offer\r\n"

type fakeMedia struct {
	id string

	mu              sync.Mutex
	opened          bool
	closed          bool
	audio           bool
	appliedDesc     *webrtc.SessionDescription
	onSignal        func([]byte)
	onChannelClosed func()

	openErr    error
	rig        *mediaRig
	lastRemote *webrtc.TrackRemote
	remoteSubs []func(*webrtc.TrackRemote)
}

func (f *fakeMedia) ID() string { return f.id }

func (f *fakeMedia) Open(context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	if f.rig != nil {
		f.rig.noteOpen(f)
	}
	return nil
}

func (f *fakeMedia) CreateOffer(context.Context) (string, error) { return fakeOfferSDP, nil }

func (f *fakeMedia) ApplyAnswer(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appliedDesc = &desc
	return nil
}

func (f *fakeMedia) EnableAudio() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = true
}

func (f *fakeMedia) DisableAudio() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = false
}

func (f *fakeMedia) OnRemoteAudio(cb func(*webrtc.TrackRemote)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteSubs = append(f.remoteSubs, cb)
	if f.lastRemote != nil {
		cb(f.lastRemote)
	}
	return func() {}
}

func (f *fakeMedia) OnSignalMessage(fn func([]byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSignal = fn
}

func (f *fakeMedia) OnChannelClosed(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChannelClosed = fn
}

func (f *fakeMedia) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.onSignal = nil
}

func (f *fakeMedia) signal(payload []byte) {
	f.mu.Lock()
	fn := f.onSignal
	f.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (f *fakeMedia) breakChannel() {
	f.mu.Lock()
	fn := f.onChannelClosed
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// mediaRig hands out fake sessions and checks that no two of them are ever
// open at the same time.
type mediaRig struct {
	t       *testing.T
	mu      sync.Mutex
	created []*fakeMedia
}

func newMediaRig(t *testing.T) *mediaRig { return &mediaRig{t: t} }

func (r *mediaRig) factory() MediaSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := &fakeMedia{id: fmt.Sprintf("fake-%d", len(r.created)), rig: r}
	r.created = append(r.created, f)
	return f
}

func (r *mediaRig) noteOpen(opening *fakeMedia) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.created {
		if f == opening {
			continue
		}
		f.mu.Lock()
		live := f.opened && !f.closed
		f.mu.Unlock()
		if live {
			r.t.Errorf("session %s opened while %s still live", opening.id, f.id)
		}
	}
}

type fakeNegotiator struct {
	mu         sync.Mutex
	offers     []string
	answer     string
	err        error
	blockFirst chan struct{} // parks the first Negotiate call until closed
}

func (n *fakeNegotiator) Negotiate(_ context.Context, offer string) (string, error) {
	n.mu.Lock()
	n.offers = append(n.offers, offer)
	first := len(n.offers) == 1
	blockFirst := n.blockFirst
	n.mu.Unlock()
	if first && blockFirst != nil {
		<-blockFirst
	}
	if n.err != nil {
		return "", n.err
	}
	if n.answer == "" {
		return "v=0\r\nfake answer\r\n", nil
	}
	return n.answer, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *mediaRig, *fakeNegotiator, *[]ConnectionState) {
	t.Helper()
	rig := newMediaRig(t)
	neg := &fakeNegotiator{}
	c := NewWithFactory(neg, rig.factory, transcript.DefaultConfig())
	var states []ConnectionState
	c.OnStateChange(func(s ConnectionState) { states = append(states, s) })
	return c, rig, neg, &states
}

func TestConnectHappyPath(t *testing.T) {
	t.Parallel()

	c, rig, neg, states := newTestCoordinator(t)
	require.NoError(t, c.Connect(context.Background()))

	require.Equal(t, StateConnected, c.State())
	require.Equal(t, []ConnectionState{StateNegotiating, StateConnected}, *states)
	require.Equal(t, []string{fakeOfferSDP}, neg.offers)

	f := rig.created[0]
	require.NotNil(t, f.appliedDesc)
	require.Equal(t, webrtc.SDPTypeAnswer, f.appliedDesc.Type)
}

func TestConnectTwiceNeverOverlapsSessions(t *testing.T) {
	t.Parallel()

	c, rig, _, _ := newTestCoordinator(t)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	require.Len(t, rig.created, 2)
	require.True(t, rig.created[0].closed, "first session must be fully closed")
	require.False(t, rig.created[1].closed)
	require.Equal(t, StateConnected, c.State())
}

func TestConnectFailureAtNegotiationReleasesResources(t *testing.T) {
	t.Parallel()

	c, rig, neg, states := newTestCoordinator(t)
	neg.err = errors.New("upstream said no")

	err := c.Connect(context.Background())
	require.ErrorContains(t, err, "upstream said no")

	require.Equal(t, []ConnectionState{StateNegotiating, StateFailed, StateIdle}, *states)
	require.Equal(t, StateIdle, c.State())
	require.True(t, rig.created[0].closed, "capture acquired during the attempt must be released")

	// A retried connect succeeds from the clean Idle state.
	neg.err = nil
	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, StateConnected, c.State())
}

func TestDisconnectWithoutSessionIsANoOp(t *testing.T) {
	t.Parallel()

	c, _, _, states := newTestCoordinator(t)
	c.Disconnect()
	c.Disconnect()

	require.Equal(t, StateIdle, c.State())
	require.Empty(t, *states)
}

func TestDisconnectStopsAudioAndClosesSession(t *testing.T) {
	t.Parallel()

	c, rig, _, states := newTestCoordinator(t)
	require.NoError(t, c.Connect(context.Background()))
	c.StartRecording()
	c.Disconnect()

	f := rig.created[0]
	require.True(t, f.closed)
	require.False(t, f.audio)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, []ConnectionState{StateNegotiating, StateConnected, StateDisconnected, StateIdle}, *states)
}

func TestRecordingTogglePassesThroughAndNoOpsWithoutSession(t *testing.T) {
	t.Parallel()

	c, rig, neg, _ := newTestCoordinator(t)

	// No session yet: no panic, no error.
	c.StartRecording()
	c.StopRecording()

	require.NoError(t, c.Connect(context.Background()))
	f := rig.created[0]

	c.StartRecording()
	require.True(t, f.audio)
	c.StopRecording()
	require.False(t, f.audio)

	// Toggling the gate never triggers a new offer/answer exchange.
	require.Len(t, neg.offers, 1)
}

func TestUtterancesFlowFromSignalingChannel(t *testing.T) {
	t.Parallel()

	c, rig, _, _ := newTestCoordinator(t)
	var got []transcript.Utterance
	c.OnUtterance(func(u transcript.Utterance) { got = append(got, u) })

	require.NoError(t, c.Connect(context.Background()))
	f := rig.created[0]

	f.signal([]byte(`{"type":"response.audio_transcript.delta","delta":"Hello th"}`))
	require.Empty(t, got)
	f.signal([]byte(`{"type":"response.audio_transcript.done","transcript":"Hello there."}`))
	require.Len(t, got, 1)
	require.Equal(t, "Hello there.", got[0].Text)
	require.Equal(t, transcript.LangEnglish, got[0].Language)
}

func TestStaleSessionCannotFeedAggregatorAfterReconnect(t *testing.T) {
	t.Parallel()

	c, rig, _, _ := newTestCoordinator(t)
	var got []transcript.Utterance
	c.OnUtterance(func(u transcript.Utterance) { got = append(got, u) })

	require.NoError(t, c.Connect(context.Background()))
	first := rig.created[0]
	// Capture the binding as it was before the reconnect tears it down,
	// simulating a dispatch already in flight.
	first.mu.Lock()
	stale := first.onSignal
	first.mu.Unlock()
	require.NotNil(t, stale)

	require.NoError(t, c.Connect(context.Background()))

	// The torn-down session's binding must not reach the new aggregator.
	stale([]byte(`{"type":"response.audio_transcript.done","transcript":"Ghost."}`))
	require.Empty(t, got)

	rig.created[1].signal([]byte(`{"type":"response.audio_transcript.done","transcript":"Real."}`))
	require.Len(t, got, 1)
	require.Equal(t, "Real.", got[0].Text)
}

func TestChannelBreakMovesToFailedAndRequiresReconnect(t *testing.T) {
	t.Parallel()

	c, rig, _, states := newTestCoordinator(t)
	require.NoError(t, c.Connect(context.Background()))

	f := rig.created[0]
	f.breakChannel()

	require.Equal(t, StateFailed, c.State())
	require.True(t, f.closed)

	var chanErr *ChannelError
	require.ErrorAs(t, c.LastError(), &chanErr)
	require.Equal(t, f.id, chanErr.SessionID)
	require.Equal(t, []ConnectionState{StateNegotiating, StateConnected, StateFailed}, *states)

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, StateConnected, c.State())
}

func TestDisconnectDuringNegotiationSupersedesConnect(t *testing.T) {
	t.Parallel()

	rig := newMediaRig(t)
	neg := &fakeNegotiator{blockFirst: make(chan struct{})}
	c := NewWithFactory(neg, rig.factory, transcript.DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	// Wait for the negotiation to be in flight.
	require.Eventually(t, func() bool {
		neg.mu.Lock()
		defer neg.mu.Unlock()
		return len(neg.offers) == 1
	}, time.Second, 5*time.Millisecond)

	c.Disconnect()

	// The capture handle is released by the disconnect itself, not by the
	// blocked Connect eventually noticing it went stale.
	f := rig.created[0]
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	require.True(t, closed, "disconnect must close the in-flight session immediately")

	close(neg.blockFirst)

	require.ErrorIs(t, <-done, ErrSuperseded)
	require.Equal(t, StateIdle, c.State())
}

func TestConnectDuringNegotiationClosesInFlightSession(t *testing.T) {
	t.Parallel()

	rig := newMediaRig(t)
	neg := &fakeNegotiator{blockFirst: make(chan struct{})}
	c := NewWithFactory(neg, rig.factory, transcript.DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	require.Eventually(t, func() bool {
		neg.mu.Lock()
		defer neg.mu.Unlock()
		return len(neg.offers) == 1
	}, time.Second, 5*time.Millisecond)

	// A second connect while the first negotiation is parked must release the
	// first attempt's capture before opening its own; the rig flags any
	// overlap of live sessions.
	require.NoError(t, c.Connect(context.Background()))

	first := rig.created[0]
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	require.True(t, closed, "first attempt must be torn down before the retry opens")

	close(neg.blockFirst)

	require.ErrorIs(t, <-done, ErrSuperseded)
	require.Equal(t, StateConnected, c.State())
	require.Len(t, rig.created, 2)
	require.False(t, rig.created[1].closed)
}

func TestOpenFailureSurfacesCaptureError(t *testing.T) {
	t.Parallel()

	rig := newMediaRig(t)
	cause := errors.New("microphone denied")
	factory := func() MediaSession {
		f := rig.factory().(*fakeMedia)
		f.openErr = cause
		return f
	}
	c := NewWithFactory(&fakeNegotiator{}, factory, transcript.DefaultConfig())
	var states []ConnectionState
	c.OnStateChange(func(s ConnectionState) { states = append(states, s) })

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, cause)
	require.Equal(t, []ConnectionState{StateNegotiating, StateFailed, StateIdle}, states)
	require.True(t, rig.created[0].closed)
}
