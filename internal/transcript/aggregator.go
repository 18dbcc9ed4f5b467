package transcript

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Data-channel event discriminators recognized by the aggregator. Anything
// else on the channel is control traffic and is ignored here.
const (
	kindDelta = "response.audio_transcript.delta"
	kindDone  = "response.audio_transcript.done"
)

type signalEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Config tunes fragment handling.
type Config struct {
	// PartialPolicy is how non-final fragments update the buffer.
	PartialPolicy PartialPolicy
	// TransitionalMarkers mark a fragment as an in-progress bookkeeping
	// notation rather than speech content; such fragments are dropped.
	TransitionalMarkers []string
}

// DefaultConfig matches the observed behavior of the realtime backend:
// partials arrive as cumulative snapshots, and in-progress translation
// notations carry an arrow or the literal marker.
func DefaultConfig() Config {
	return Config{
		PartialPolicy:       PolicyReplace,
		TransitionalMarkers: []string{"→", "翻译中"},
	}
}

// Aggregator assembles fragments into complete utterances, one buffer per
// language. Exactly one Utterance is emitted per completed sentence;
// consecutive duplicate finals are suppressed.
type Aggregator struct {
	mu          sync.Mutex
	cfg         Config
	buffers     map[Language]string
	lastEmitted map[Language]string
	onUtterance func(Utterance)
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.PartialPolicy == "" {
		cfg.PartialPolicy = PolicyReplace
	}
	return &Aggregator{
		cfg:         cfg,
		buffers:     make(map[Language]string),
		lastEmitted: make(map[Language]string),
	}
}

// OnUtterance sets the single downstream consumer. The callback runs on the
// goroutine that called Ingest.
func (a *Aggregator) OnUtterance(fn func(Utterance)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onUtterance = fn
}

// Ingest consumes one raw signaling-channel payload. Structured events are
// classified by their type discriminator; unparseable payloads are treated as
// raw final-fragment text.
func (a *Aggregator) Ingest(payload []byte) {
	var ev signalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		a.ingestFragment(string(payload))
		return
	}
	switch ev.Type {
	case kindDelta:
		a.ingestFragment(ev.Delta)
	case kindDone:
		a.ingestFragment(ev.Transcript)
	default:
		log.Debug().Str("module", "transcript").Str("type", ev.Type).Msg("ignoring channel event")
	}
}

func (a *Aggregator) ingestFragment(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	for _, marker := range a.cfg.TransitionalMarkers {
		if marker != "" && strings.Contains(text, marker) {
			log.Debug().Str("module", "transcript").Msg("dropping transitional fragment")
			return
		}
	}

	lang := DetectLanguage(text)

	a.mu.Lock()
	emit, utt := a.applyLocked(lang, text)
	fn := a.onUtterance
	a.mu.Unlock()

	if emit && fn != nil {
		fn(utt)
	}
}

func (a *Aggregator) applyLocked(lang Language, text string) (bool, Utterance) {
	if !IsSentenceFinal(text) {
		if a.cfg.PartialPolicy == PolicyAppend {
			a.buffers[lang] += text
		} else {
			a.buffers[lang] = text
		}
		return false, Utterance{}
	}

	full := text
	if a.cfg.PartialPolicy == PolicyAppend {
		full = a.buffers[lang] + text
	}
	delete(a.buffers, lang)

	if full == a.lastEmitted[lang] {
		log.Debug().Str("module", "transcript").Str("lang", string(lang)).Msg("suppressing duplicate final")
		return false, Utterance{}
	}
	a.lastEmitted[lang] = full

	log.Info().
		Str("module", "transcript").
		Str("lang", string(lang)).
		Int("len", len(full)).
		Msg("utterance complete")
	return true, newUtterance(full, lang)
}

// Partial returns the current unflushed snapshot for lang, if any.
func (a *Aggregator) Partial(lang Language) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	text, ok := a.buffers[lang]
	return text, ok
}

// Reset clears both language buffers and the duplicate-suppression memory.
// Called when the session is torn down or rebuilt.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers = make(map[Language]string)
	a.lastEmitted = make(map[Language]string)
}
