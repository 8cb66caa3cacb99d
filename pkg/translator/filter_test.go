package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNoise(t *testing.T) {
	f := NewNoiseFilter()

	cases := []struct {
		text  string
		noise bool
	}{
		{"", true},
		{"あ", true},       // too short
		{"はい", true},      // too short
		{"thank you", true}, // hallucination pattern
		{"Thank You.", true},
		{"ありがとうございました、皆さん", true}, // media keyword ありがとう
		{"ご視聴ありがとうございました", true},
		{"字幕 by amara.org", true},
		{"请记得订阅我们的频道", true},
		{"ああああああ", true}, // repeated runes
		{"嗯嗯嗯嗯", true},
		{"明日の会議は10時からです", false},
		{"The quarterly numbers look good", false},
		{"我们下周开始新项目", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.noise, f.IsNoise(tc.text), "text: %q", tc.text)
	}
}

func TestNoiseFilterRuntimeAdditions(t *testing.T) {
	f := NewNoiseFilter()

	assert.False(t, f.IsNoise("custom filler phrase"))
	f.AddExact("custom filler phrase")
	assert.True(t, f.IsNoise("Custom Filler Phrase"))

	assert.False(t, f.IsNoise("brought to you by sponsorco today"))
	f.AddKeyword("sponsorco")
	assert.True(t, f.IsNoise("brought to you by SponsorCo today"))
}

func TestNormalizeLanguageCode(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Japanese", "ja"},
		{"ENGLISH", "en"},
		{"mandarin", "zh"},
		{" vietnamese ", "vi"},
		{"ko", "ko"},
		{"FR", "fr"}, // unknown passes through lowercased
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeLanguageCode(tc.in))
	}
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("ja"))
	assert.True(t, IsSupported("vi"))
	assert.False(t, IsSupported("fr"))
	assert.False(t, IsSupported(""))
}
