package capture

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const maxOpusPacket = 4000

// GatedTrack is a local Opus audio track with a transmission gate. The gate
// starts closed: nothing is transmitted until Enable is called, which is the
// push-to-talk contract. Toggling the gate never touches the peer connection,
// so no renegotiation happens.
type GatedTrack struct {
	track   *webrtc.TrackLocalStaticSample
	enc     *opus.Encoder
	enabled atomic.Bool
}

func NewGatedTrack(streamID string) (*GatedTrack, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: SampleRate,
		Channels:  Channels,
	}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	return &GatedTrack{track: track, enc: enc}, nil
}

// Track exposes the underlying track for AddTrack.
func (t *GatedTrack) Track() *webrtc.TrackLocalStaticSample { return t.track }

// Enable opens the gate. Idempotent, effective for the next sample.
func (t *GatedTrack) Enable() { t.enabled.Store(true) }

// Disable closes the gate. Idempotent, effective for the next sample.
func (t *GatedTrack) Disable() { t.enabled.Store(false) }

func (t *GatedTrack) Enabled() bool { return t.enabled.Load() }

// Pump encodes PCM chunks from src and writes them to the track while the
// gate is open. It returns when the source's chunk channel is closed. Run it
// on its own goroutine.
func (t *GatedTrack) Pump(src Source) {
	buf := make([]byte, maxOpusPacket)
	for chunk := range src.Chunks() {
		if !t.enabled.Load() {
			continue
		}
		pcm := pcmInt16(chunk)
		if len(pcm) != SamplesPerFrame {
			continue
		}
		n, err := t.enc.Encode(pcm, buf)
		if err != nil {
			log.Warn().Err(err).Str("module", "capture").Msg("opus encode failed")
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		if err := t.track.WriteSample(media.Sample{Data: pkt, Duration: FrameMillis * time.Millisecond}); err != nil {
			log.Warn().Err(err).Str("module", "capture").Msg("write sample failed")
		}
	}
}

func pcmInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
