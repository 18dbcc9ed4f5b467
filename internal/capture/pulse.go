package capture

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog/log"
)

// PulseSource records from one PulseAudio input source and emits ChunkBytes
// PCM slices.
type PulseSource struct {
	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte

	mu      sync.Mutex
	pending []byte
	stopped bool
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// OpenPulse connects to the Pulse server and starts a 48kHz mono s16 record
// stream from device (empty or "default" selects the server default source).
// Any failure is a *CaptureError with everything already acquired released.
func OpenPulse(device string) (*PulseSource, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("voxbridge"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, &CaptureError{Err: fmt.Errorf("connect pulse server: %w", err)}
	}

	s := &PulseSource{
		client: client,
		chunks: make(chan []byte, 64),
	}

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(ChunkBytes),
		pulse.RecordMediaName("voxbridge microphone"),
	}
	if device != "" && device != "default" {
		source, err := client.SourceByID(device)
		if err != nil {
			client.Close()
			return nil, &CaptureError{Err: fmt.Errorf("resolve source %q: %w", device, err)}
		}
		opts = append(opts, pulse.RecordSource(source))
	}

	writer := pulse.NewWriter(writerFunc(s.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(writer, opts...)
	if err != nil {
		client.Close()
		return nil, &CaptureError{Err: fmt.Errorf("create record stream: %w", err)}
	}

	s.stream = stream
	stream.Start()
	log.Info().Str("module", "capture").Str("device", device).Msg("microphone capture started")
	return s, nil
}

func (s *PulseSource) Chunks() <-chan []byte { return s.chunks }

// Close stops the record stream and releases the Pulse connection. Safe to
// call more than once.
func (s *PulseSource) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.pending = nil
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
	close(s.chunks)
	log.Info().Str("module", "capture").Msg("microphone capture stopped")
	return nil
}

// onPCM receives raw Pulse frames and re-slices them into ChunkBytes chunks.
// Backpressure drops chunks rather than stalling the Pulse reader.
func (s *PulseSource) onPCM(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return len(buf), nil
	}

	s.pending = append(s.pending, buf...)
	for len(s.pending) >= ChunkBytes {
		chunk := make([]byte, ChunkBytes)
		copy(chunk, s.pending[:ChunkBytes])
		s.pending = s.pending[ChunkBytes:]
		select {
		case s.chunks <- chunk:
		default:
		}
	}
	return len(buf), nil
}
