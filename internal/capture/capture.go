// Package capture acquires the local microphone and feeds it to the peer
// connection as an Opus track behind a push-to-talk gate.
package capture

// Outbound audio format: 48kHz mono s16, 20ms frames. This is what the
// realtime endpoint negotiates for Opus.
const (
	SampleRate      = 48000
	Channels        = 1
	FrameMillis     = 20
	SamplesPerFrame = SampleRate * FrameMillis * Channels / 1000
	ChunkBytes      = SamplesPerFrame * 2
)

// CaptureError is any failure to acquire or keep the microphone: device
// unavailable, server unreachable, permission denied. Fatal to the connect
// attempt; never retried automatically.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return "capture: " + e.Err.Error() }

func (e *CaptureError) Unwrap() error { return e.Err }

// Source is one open local capture handle delivering fixed-size PCM chunks.
// Exactly one Close is expected per successful open, including error paths.
type Source interface {
	// Chunks returns the PCM stream; closed when the source stops.
	Chunks() <-chan []byte
	Close() error
}
