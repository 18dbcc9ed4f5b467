// Package transcript reduces the stream of partial transcript fragments
// arriving on the signaling channel into complete per-language utterances.
package transcript

import (
	"unicode"

	"github.com/google/uuid"
)

// Language tags one side of the bidirectional pair.
type Language string

const (
	LangEnglish Language = "en"
	LangChinese Language = "zh"
)

// Utterance is one completed sentence of recognized speech.
type Utterance struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Language Language `json:"language"`
}

func newUtterance(text string, lang Language) Utterance {
	return Utterance{ID: uuid.NewString(), Text: text, Language: lang}
}

// PartialPolicy selects how a non-final fragment updates the language buffer.
// Realtime backends differ: some re-send the whole partial on every update
// (replace), some send only new suffixes (append).
type PartialPolicy string

const (
	PolicyReplace PartialPolicy = "replace"
	PolicyAppend  PartialPolicy = "append"
)

// DetectLanguage classifies a fragment by script: any Han rune puts it in the
// Chinese buffer, everything else lands in the English one.
func DetectLanguage(text string) Language {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			return LangChinese
		}
	}
	return LangEnglish
}

// IsSentenceFinal reports whether the fragment's trailing rune is a sentence
// terminator in either language's convention.
func IsSentenceFinal(text string) bool {
	var last rune
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		last = r
	}
	switch last {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
