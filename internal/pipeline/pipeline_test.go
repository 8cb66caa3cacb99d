package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/code-100-precent/LingMeet/internal/models"
	"github.com/code-100-precent/LingMeet/internal/room"
	"github.com/code-100-precent/LingMeet/pkg/cache"
	"github.com/code-100-precent/LingMeet/pkg/subtitlecache"
	"github.com/code-100-precent/LingMeet/pkg/utils"
	"github.com/code-100-precent/LingMeet/pkg/vad"
)

// fakeProvider answers with canned recognition results and synthesizes
// deterministic payloads so the fan-out can be asserted byte for byte.
type fakeProvider struct {
	mu             sync.Mutex
	text           string
	lang           string
	delay          time.Duration
	translateErr   error
	translateCalls map[string]int
}

func newFakeProvider(text, lang string) *fakeProvider {
	return &fakeProvider{text: text, lang: lang, translateCalls: map[string]int{}}
}

func (f *fakeProvider) TranscribeWithDetection(ctx context.Context, wavData []byte, hint string) (string, string, error) {
	return f.text, f.lang, nil
}

func (f *fakeProvider) TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	f.mu.Lock()
	f.translateCalls[targetLang]++
	delay, terr := f.delay, f.translateErr
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if terr != nil {
		return "", terr
	}
	return "[" + targetLang + "]" + text, nil
}

func (f *fakeProvider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	return []byte("voice-" + language), nil
}

func (f *fakeProvider) calls(lang string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.translateCalls[lang]
}

// recordingSender captures per-user deliveries.
type recordingSender struct {
	mu   sync.Mutex
	json map[string][]map[string]interface{}
	bins map[string][][]byte
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		json: map[string][]map[string]interface{}{},
		bins: map[string][][]byte{},
	}
}

func (r *recordingSender) BroadcastJSON(roomID string, payload interface{}, exclude ...string) {}
func (r *recordingSender) BroadcastBinary(roomID string, data []byte, exclude ...string)       {}

func (r *recordingSender) SendJSONTo(roomID, userID string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := payload.(map[string]interface{}); ok {
		r.json[userID] = append(r.json[userID], m)
	}
}

func (r *recordingSender) SendBinaryTo(roomID, userID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bins[userID] = append(r.bins[userID], data)
}

func (r *recordingSender) messagesOf(userID, msgType string) []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]interface{}
	for _, m := range r.json[userID] {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordingSender) binariesOf(userID string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.bins[userID]...)
}

func speechBlob() []byte {
	const rate = 16000
	samples := make([]int16, rate)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*500*float64(i)/rate))
	}
	dataSize := len(samples) * 2
	buf := make([]byte, 0, 44+dataSize)
	buf = append(buf, []byte("RIFF")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataSize))
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint32(buf, rate)
	buf = binary.LittleEndian.AppendUint32(buf, rate*2)
	buf = binary.LittleEndian.AppendUint16(buf, 2)
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, []byte("data")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataSize))
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
	}
	return buf
}

type fixture struct {
	db       *gorm.DB
	provider *fakeProvider
	sender   *recordingSender
	subCache *subtitlecache.Store
	pipe     *Pipeline
	state    *room.State
}

func newFixture(t *testing.T, provider *fakeProvider) *fixture {
	t.Helper()
	db, err := utils.InitDatabase("sqlite", "file::memory:", false)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	c, err := cache.NewCache(cache.Config{Type: cache.KindGoCache})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	sender := newRecordingSender()
	subCache := subtitlecache.New(c)
	pipe := New(db, provider, subCache, sender, vad.NewDetector(), Config{
		MaxLatency: 5 * time.Second,
		MaxJitter:  5 * time.Second,
	})

	state := room.NewManager().GetOrCreate("room-1", room.Policy{
		AllowedLanguages: []string{"ja", "en", "zh"},
		DefaultAudioMode: models.AudioModeOriginal,
		AllowModeSwitch:  true,
	})
	return &fixture{db: db, provider: provider, sender: sender, subCache: subCache, pipe: pipe, state: state}
}

func (f *fixture) join(t *testing.T, userID, native string) {
	t.Helper()
	_, err := f.state.Join(userID, "name-"+userID, native)
	require.NoError(t, err)
}

func (f *fixture) setPref(t *testing.T, userID string, target, mode string) {
	t.Helper()
	require.NoError(t, f.state.SetPreference(userID, &target, &mode, nil))
}

func TestSilenceIsDropped(t *testing.T) {
	f := newFixture(t, newFakeProvider("should not appear", "ja"))
	f.join(t, "speaker", "ja")
	f.join(t, "listener", "ja")

	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", make([]byte, 100))

	assert.Empty(t, f.sender.binariesOf("listener"))
	assert.Empty(t, f.sender.messagesOf("listener", "subtitle"))
	assert.Equal(t, 0, f.provider.calls("en"))
}

func TestOriginalModeFanOut(t *testing.T) {
	f := newFixture(t, newFakeProvider("おはようございます", "ja"))
	f.join(t, "speaker", "ja")
	f.join(t, "l1", "ja")
	f.join(t, "l2", "ja")

	blob := speechBlob()
	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", blob)

	// Raw voice reaches every original-mode listener, never the speaker.
	assert.Equal(t, [][]byte{blob}, f.sender.binariesOf("l1"))
	assert.Equal(t, [][]byte{blob}, f.sender.binariesOf("l2"))
	assert.Empty(t, f.sender.binariesOf("speaker"))

	// Subtitles reach listeners and the speaker alike.
	for _, uid := range []string{"l1", "l2", "speaker"} {
		subs := f.sender.messagesOf(uid, "subtitle")
		require.Len(t, subs, 1, "user %s", uid)
		assert.Equal(t, "おはようございます", subs[0]["original_text"])
		assert.Equal(t, "ja", subs[0]["source_language"])
		assert.Equal(t, false, subs[0]["is_translated"])
	}

	// 持久化：字幕落库并挂到会议session上
	var rows []models.Subtitle
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "おはようございます", rows[0].OriginalText)
	require.NotNil(t, rows[0].SessionID)

	session, err := models.GetActiveSession(f.db, "room-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, *rows[0].SessionID)
}

func TestTranslatedModeBucket(t *testing.T) {
	f := newFixture(t, newFakeProvider("おはよう、始めましょう", "ja"))
	f.join(t, "speaker", "ja")
	f.join(t, "en1", "en")
	f.join(t, "en2", "en")
	f.setPref(t, "en1", "en", models.AudioModeTranslated)
	f.setPref(t, "en2", "en", models.AudioModeTranslated)

	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", speechBlob())

	// One model call serves the whole bucket.
	assert.Equal(t, 1, f.provider.calls("en"))

	for _, uid := range []string{"en1", "en2"} {
		bins := f.sender.binariesOf(uid)
		require.Len(t, bins, 1, "user %s", uid)
		assert.Equal(t, []byte("voice-en"), bins[0])

		subs := f.sender.messagesOf(uid, "subtitle")
		require.Len(t, subs, 1, "user %s", uid)
		assert.Equal(t, "[en]おはよう、始めましょう", subs[0]["original_text"])
		assert.Equal(t, true, subs[0]["is_translated"])
	}

	// The translated subtitle reuses the original's id and seq.
	speakerSubs := f.sender.messagesOf("speaker", "subtitle")
	require.Len(t, speakerSubs, 1)
	enSubs := f.sender.messagesOf("en1", "subtitle")
	assert.Equal(t, speakerSubs[0]["id"], enSubs[0]["id"])
	assert.Equal(t, speakerSubs[0]["seq"], enSubs[0]["seq"])

	// The fill is also visible to later pull requests.
	text, ok := f.subCache.GetTranslation(context.Background(), enSubs[0]["id"].(string), "en", false)
	require.True(t, ok)
	assert.Equal(t, "[en]おはよう、始めましょう", text)
}

func TestTranslatedListenerMatchingSpeechGetsRawVoice(t *testing.T) {
	f := newFixture(t, newFakeProvider("こんにちは", "ja"))
	f.join(t, "speaker", "ja")
	f.join(t, "l1", "ja")
	f.setPref(t, "l1", "ja", models.AudioModeTranslated)

	blob := speechBlob()
	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", blob)

	// Target matches the detected language: raw voice, original subtitle,
	// and no translation call at all.
	assert.Equal(t, [][]byte{blob}, f.sender.binariesOf("l1"))
	subs := f.sender.messagesOf("l1", "subtitle")
	require.Len(t, subs, 1)
	assert.Equal(t, false, subs[0]["is_translated"])
	assert.Equal(t, 0, f.provider.calls("ja"))
}

func TestConsecutiveDuplicateSkipsSubtitles(t *testing.T) {
	f := newFixture(t, newFakeProvider("同じ発話", "ja"))
	f.join(t, "speaker", "ja")
	f.join(t, "l1", "ja")

	blob := speechBlob()
	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", blob)
	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", blob)

	// Audio always flows; subtitles only once.
	assert.Len(t, f.sender.binariesOf("l1"), 2)
	assert.Len(t, f.sender.messagesOf("l1", "subtitle"), 1)

	var count int64
	f.db.Model(&models.Subtitle{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSpeakerInTranslatedModeReadsTranslation(t *testing.T) {
	f := newFixture(t, newFakeProvider("報告します", "ja"))
	f.join(t, "speaker", "ja")
	f.join(t, "l1", "ja")
	f.setPref(t, "speaker", "en", models.AudioModeTranslated)

	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", speechBlob())

	// The speaker reads their own words in their target language but
	// never hears synthesized audio of themselves.
	subs := f.sender.messagesOf("speaker", "subtitle")
	require.Len(t, subs, 1)
	assert.Equal(t, "[en]報告します", subs[0]["original_text"])
	assert.Equal(t, true, subs[0]["is_translated"])
	assert.Empty(t, f.sender.binariesOf("speaker"))
}

func TestBackgroundFillForOriginalModeListener(t *testing.T) {
	f := newFixture(t, newFakeProvider("会議を始めます", "ja"))
	f.join(t, "speaker", "ja")
	f.join(t, "zh1", "zh") // original mode, reads zh subtitles

	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", speechBlob())

	// The original subtitle arrives immediately in the source language.
	subs := f.sender.messagesOf("zh1", "subtitle")
	require.Len(t, subs, 1)
	assert.Equal(t, "会議を始めます", subs[0]["original_text"])
	subtitleID := subs[0]["id"].(string)

	// The zh fill lands in the cache shortly after, without being pushed.
	require.Eventually(t, func() bool {
		_, ok := f.subCache.GetTranslation(context.Background(), subtitleID, "zh", false)
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	text, _ := f.subCache.GetTranslation(context.Background(), subtitleID, "zh", false)
	assert.Equal(t, "[zh]会議を始めます", text)

	// And merges into the durable row.
	require.Eventually(t, func() bool {
		var sub models.Subtitle
		if err := f.db.Where("id = ?", subtitleID).First(&sub).Error; err != nil {
			return false
		}
		return sub.Translations["zh"] == "[zh]会議を始めます"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConcurrentSpeakersShareOneSession(t *testing.T) {
	f := newFixture(t, newFakeProvider("同時発話", "ja"))
	f.join(t, "alice", "ja")
	f.join(t, "bob", "ja")
	f.join(t, "l1", "ja")

	// Session creation takes as long as a networked database write; a
	// lost race would open two sessions here.
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").
		Register("test_slow_session_create", func(tx *gorm.DB) {
			if tx.Statement.Table == "meeting_sessions" {
				time.Sleep(20 * time.Millisecond)
			}
		}))

	blob := speechBlob()
	var wg sync.WaitGroup
	for _, uid := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			f.pipe.ProcessUtterance(context.Background(), f.state, uid, blob)
		}(uid)
	}
	wg.Wait()

	var active int64
	f.db.Model(&models.MeetingSession{}).Where("is_active = ?", true).Count(&active)
	assert.Equal(t, int64(1), active)

	// Both utterances hang off the same session.
	var rows []models.Subtitle
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].SessionID)
	require.NotNil(t, rows[1].SessionID)
	assert.Equal(t, *rows[0].SessionID, *rows[1].SessionID)
}

func TestBucketFailureFallsBackToOriginalSubtitle(t *testing.T) {
	provider := newFakeProvider("接続テスト", "ja")
	provider.translateErr = errors.New("upstream unavailable")
	f := newFixture(t, provider)
	f.join(t, "speaker", "ja")
	f.join(t, "en1", "en")
	f.setPref(t, "en1", "en", models.AudioModeTranslated)

	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", speechBlob())

	// No synthesized voice, but the listener still reads the original
	// text, flagged so the client can show why.
	assert.Empty(t, f.sender.binariesOf("en1"))
	subs := f.sender.messagesOf("en1", "subtitle")
	require.Len(t, subs, 1)
	assert.Equal(t, "接続テスト", subs[0]["original_text"])
	assert.Equal(t, "ja", subs[0]["source_language"])
	assert.Equal(t, false, subs[0]["is_translated"])
	assert.Equal(t, true, subs[0]["translation_failed"])
}

func TestFailedBackgroundFillReleasesClaim(t *testing.T) {
	provider := newFakeProvider("会議メモ", "ja")
	provider.translateErr = errors.New("upstream unavailable")
	f := newFixture(t, provider)
	f.join(t, "speaker", "ja")
	f.join(t, "zh1", "zh") // original mode, triggers a zh fill

	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", speechBlob())

	subs := f.sender.messagesOf("zh1", "subtitle")
	require.Len(t, subs, 1)
	subtitleID := subs[0]["id"].(string)

	// The fill runs, fails, and hands the claim back instead of letting
	// it sit until the TTL.
	require.Eventually(t, func() bool {
		return f.provider.calls("zh") > 0 &&
			!f.subCache.IsPending(context.Background(), subtitleID, "zh")
	}, 2*time.Second, 20*time.Millisecond)

	assert.True(t, f.subCache.MarkPending(context.Background(), subtitleID, "zh"))
}

func TestTranslateTimeoutFallsBackToSubtitle(t *testing.T) {
	provider := newFakeProvider("長い処理", "ja")
	provider.delay = 200 * time.Millisecond
	f := newFixture(t, provider)
	f.pipe.cfg.TranslateTimeout = 10 * time.Millisecond

	f.join(t, "speaker", "ja")
	f.join(t, "en1", "en")
	f.setPref(t, "en1", "en", models.AudioModeTranslated)

	start := time.Now()
	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", speechBlob())

	// The deadline cuts the call; the listener gets the flagged original
	// subtitle instead of waiting out the provider.
	assert.Less(t, time.Since(start), provider.delay)
	assert.Empty(t, f.sender.binariesOf("en1"))
	subs := f.sender.messagesOf("en1", "subtitle")
	require.Len(t, subs, 1)
	assert.Equal(t, true, subs[0]["translation_failed"])
}

func TestQoSFallbackSuppressesVoice(t *testing.T) {
	provider := newFakeProvider("遅い翻訳", "ja")
	provider.delay = 30 * time.Millisecond
	f := newFixture(t, provider)

	// Budget far below the provider's delay forces SEVERE on every call.
	f.pipe.cfg.MaxLatency = time.Millisecond
	f.pipe.cfg.MaxJitter = time.Millisecond

	f.join(t, "speaker", "ja")
	f.join(t, "en1", "en")
	f.setPref(t, "en1", "en", models.AudioModeTranslated)

	f.pipe.ProcessUtterance(context.Background(), f.state, "speaker", speechBlob())

	// No synthesized voice, but the subtitle and a warning arrive.
	assert.Empty(t, f.sender.binariesOf("en1"))
	require.Len(t, f.sender.messagesOf("en1", "subtitle"), 1)
	warnings := f.sender.messagesOf("en1", "qos_warning")
	require.Len(t, warnings, 1)
	assert.Equal(t, "severe", warnings[0]["level"])
}
