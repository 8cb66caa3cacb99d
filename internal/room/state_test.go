package room

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func testPolicy() Policy {
	return Policy{
		AllowedLanguages: []string{"ja", "en", "zh"},
		DefaultAudioMode: "original",
		AllowModeSwitch:  true,
	}
}

func TestJoinDefaults(t *testing.T) {
	s := newState("room-1", testPolicy())
	p, err := s.Join("u1", "Tanaka", "ja")
	require.NoError(t, err)

	assert.Equal(t, "ja", p.TargetLanguage)
	assert.Equal(t, "original", p.AudioMode)
	assert.True(t, p.SubtitleEnabled)
	assert.True(t, p.MicOn)
	assert.Equal(t, 1, s.Size())
}

func TestJoinFallsBackToFirstAllowedLanguage(t *testing.T) {
	s := newState("room-1", testPolicy())
	// 母语不在房间策略里，退到第一个允许语言
	p, err := s.Join("u1", "Nguyen", "vi")
	require.NoError(t, err)
	assert.Equal(t, "vi", p.NativeLanguage)
	assert.Equal(t, "ja", p.TargetLanguage)
	assert.Equal(t, "ja", p.ListeningLanguage())
}

func TestSetPreference(t *testing.T) {
	s := newState("room-1", testPolicy())
	_, err := s.Join("u1", "Tanaka", "ja")
	require.NoError(t, err)

	require.NoError(t, s.SetPreference("u1", strPtr("en"), strPtr("translated"), boolPtr(false)))
	p, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "en", p.TargetLanguage)
	assert.Equal(t, "translated", p.AudioMode)
	assert.False(t, p.SubtitleEnabled)

	// Nil fields keep current values.
	require.NoError(t, s.SetPreference("u1", nil, nil, nil))
	p, _ = s.Get("u1")
	assert.Equal(t, "en", p.TargetLanguage)
	assert.Equal(t, "translated", p.AudioMode)
}

func TestSetPreferenceRejectsDisallowedLanguage(t *testing.T) {
	s := newState("room-1", testPolicy())
	_, _ = s.Join("u1", "Tanaka", "ja")

	err := s.SetPreference("u1", strPtr("vi"), nil, nil)
	assert.ErrorContains(t, err, "language not allowed")
}

func TestSetPreferenceRejectsModeSwitchWhenLocked(t *testing.T) {
	policy := testPolicy()
	policy.AllowModeSwitch = false
	s := newState("room-1", policy)
	_, _ = s.Join("u1", "Tanaka", "ja")

	err := s.SetPreference("u1", nil, strPtr("translated"), nil)
	assert.ErrorContains(t, err, "mode switching is disabled")

	// Re-asserting the current mode is not a switch.
	assert.NoError(t, s.SetPreference("u1", nil, strPtr("original"), nil))
}

func TestSetPreferenceUnknownParticipant(t *testing.T) {
	s := newState("room-1", testPolicy())
	assert.Error(t, s.SetPreference("ghost", strPtr("en"), nil, nil))
}

func TestNextSeqMonotonic(t *testing.T) {
	s := newState("room-1", testPolicy())
	assert.Equal(t, uint64(1), s.NextSeq())
	assert.Equal(t, uint64(2), s.NextSeq())
	assert.Equal(t, uint64(3), s.NextSeq())
}

func TestAcceptUtteranceDedupsConsecutive(t *testing.T) {
	s := newState("room-1", testPolicy())

	assert.True(t, s.AcceptUtterance("u1", "おはよう"))
	assert.False(t, s.AcceptUtterance("u1", "おはよう"))
	assert.True(t, s.AcceptUtterance("u1", "こんにちは"))
	// 回到之前的文本不算重复，只去掉连续相同的
	assert.True(t, s.AcceptUtterance("u1", "おはよう"))

	// Another speaker has independent history.
	assert.True(t, s.AcceptUtterance("u2", "おはよう"))
}

func TestSpeakingDisplacesPrevious(t *testing.T) {
	s := newState("room-1", testPolicy())
	_, _ = s.Join("u1", "A", "ja")
	_, _ = s.Join("u2", "B", "en")

	s.SetSpeaking("u1", true)
	s.SetSpeaking("u2", true)

	p1, _ := s.Get("u1")
	p2, _ := s.Get("u2")
	assert.False(t, p1.IsSpeaking)
	assert.True(t, p2.IsSpeaking)

	s.SetSpeaking("u2", false)
	p2, _ = s.Get("u2")
	assert.False(t, p2.IsSpeaking)
}

func TestLeaveClearsSpeakerAndHistory(t *testing.T) {
	s := newState("room-1", testPolicy())
	_, _ = s.Join("u1", "A", "ja")
	s.SetSpeaking("u1", true)
	s.AcceptUtterance("u1", "text")

	remaining := s.Leave("u1")
	assert.Equal(t, 0, remaining)

	// A rejoin starts clean: the old utterance no longer dedups.
	_, _ = s.Join("u1", "A", "ja")
	assert.True(t, s.AcceptUtterance("u1", "text"))
}

func TestOpenSessionSingleFlight(t *testing.T) {
	s := newState("room-1", testPolicy())

	var opens int32
	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = s.OpenSession(func() (string, error) {
				atomic.AddInt32(&opens, 1)
				time.Sleep(20 * time.Millisecond) // 数据库写入的耗时
				return "session-1", nil
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), opens)
	for _, id := range ids {
		assert.Equal(t, "session-1", id)
	}
	assert.Equal(t, "session-1", s.SessionID())
}

func TestOpenSessionFailureIsNotCached(t *testing.T) {
	s := newState("room-1", testPolicy())

	got := s.OpenSession(func() (string, error) { return "", errors.New("db down") })
	assert.Equal(t, "", got)

	// The next utterance retries instead of reusing the failure.
	got = s.OpenSession(func() (string, error) { return "session-2", nil })
	assert.Equal(t, "session-2", got)
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()

	s1 := m.GetOrCreate("room-1", testPolicy())
	s2 := m.GetOrCreate("room-1", testPolicy())
	assert.Same(t, s1, s2)

	_, ok := m.Peek("room-2")
	assert.False(t, ok)

	// Occupied rooms refuse disposal.
	_, _ = s1.Join("u1", "A", "ja")
	assert.False(t, m.Dispose("room-1"))

	s1.Leave("u1")
	assert.True(t, m.Dispose("room-1"))
	_, ok = m.Peek("room-1")
	assert.False(t, ok)

	// A fresh state starts the sequence over.
	s3 := m.GetOrCreate("room-1", testPolicy())
	assert.Equal(t, uint64(1), s3.NextSeq())
}
