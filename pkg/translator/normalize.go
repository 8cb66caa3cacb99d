package translator

import "strings"

var languageAliases = map[string]string{
	"japanese":   "ja",
	"english":    "en",
	"chinese":    "zh",
	"mandarin":   "zh",
	"vietnamese": "vi",
	"korean":     "ko",
	"ja":         "ja",
	"en":         "en",
	"zh":         "zh",
	"vi":         "vi",
	"ko":         "ko",
}

// NormalizeLanguageCode folds recognizer language labels (sometimes full
// names like "japanese") into ISO 639-1 codes. Unknown labels pass
// through lowercased so the caller can still compare them.
func NormalizeLanguageCode(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageAliases[l]; ok {
		return code
	}
	return l
}

// IsSupported reports whether the code belongs to a language the prompts
// can name.
func IsSupported(lang string) bool {
	_, ok := LanguageNames[lang]
	return ok
}
