// Package translator abstracts the speech providers behind one interface:
// recognition with language detection, text translation and synthesis.
package translator

import (
	"context"
	"errors"
)

// LanguageNames maps supported codes to the names used in model prompts.
var LanguageNames = map[string]string{
	"ja": "日本語",
	"en": "English",
	"zh": "中文",
	"vi": "Tiếng Việt",
	"ko": "한국어",
}

var (
	// ErrMissingAPIKey aborts startup; a conferencing server without a
	// working provider would accept meetings it cannot serve.
	ErrMissingAPIKey = errors.New("provider API key is not configured")
)

// Provider is implemented by each speech backend. All failures inside a
// call degrade to empty results plus an error; callers decide whether to
// drop the utterance or surface a warning.
type Provider interface {
	// TranscribeWithDetection runs recognition and returns the language
	// the model detected. hint carries the speaker's native language and
	// is returned unchanged when detection is unavailable.
	TranscribeWithDetection(ctx context.Context, wavData []byte, hint string) (text, language string, err error)

	// TranslateText translates between two supported languages. Equal
	// source and target return the input untouched without a model call.
	TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// Synthesize renders text as WAV speech audio.
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}
