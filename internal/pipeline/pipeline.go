// Package pipeline orchestrates one utterance end to end: VAD gate,
// immediate original-audio fan-out, language-detecting recognition,
// per-language translation buckets, subtitle sequencing and transcript
// persistence. Latency rules the design: original audio leaves before
// recognition starts, and persistence never blocks delivery.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/code-100-precent/LingMeet/internal/hub"
	"github.com/code-100-precent/LingMeet/internal/models"
	"github.com/code-100-precent/LingMeet/internal/room"
	"github.com/code-100-precent/LingMeet/pkg/logger"
	"github.com/code-100-precent/LingMeet/pkg/qos"
	"github.com/code-100-precent/LingMeet/pkg/subtitlecache"
	"github.com/code-100-precent/LingMeet/pkg/translator"
	"github.com/code-100-precent/LingMeet/pkg/vad"
)

// Config carries the latency budget for QoS decisions and the deadlines
// put on every live-path provider call. A hung provider must never wedge
// a speaker's read loop.
type Config struct {
	MaxLatency time.Duration
	MaxJitter  time.Duration

	RecognizeTimeout  time.Duration
	TranslateTimeout  time.Duration
	SynthesizeTimeout time.Duration
}

// Pipeline is safe for concurrent use; each utterance runs on the
// calling goroutine with its own fan-out workers.
type Pipeline struct {
	db       *gorm.DB
	provider translator.Provider
	subCache *subtitlecache.Store
	sender   hub.Sender
	detector *vad.Detector
	cfg      Config

	qosMu sync.Mutex
	qosBy map[string]*qos.Controller // room:user -> controller
}

func New(db *gorm.DB, provider translator.Provider, subCache *subtitlecache.Store,
	sender hub.Sender, detector *vad.Detector, cfg Config) *Pipeline {
	if cfg.MaxLatency == 0 {
		cfg.MaxLatency = 1200 * time.Millisecond
	}
	if cfg.MaxJitter == 0 {
		cfg.MaxJitter = 200 * time.Millisecond
	}
	if cfg.RecognizeTimeout == 0 {
		cfg.RecognizeTimeout = 15 * time.Second
	}
	if cfg.TranslateTimeout == 0 {
		cfg.TranslateTimeout = 30 * time.Second
	}
	if cfg.SynthesizeTimeout == 0 {
		cfg.SynthesizeTimeout = 15 * time.Second
	}
	return &Pipeline{
		db:       db,
		provider: provider,
		subCache: subCache,
		sender:   sender,
		detector: detector,
		cfg:      cfg,
		qosBy:    make(map[string]*qos.Controller),
	}
}

func (p *Pipeline) qosFor(roomID, userID string) *qos.Controller {
	key := roomID + ":" + userID
	p.qosMu.Lock()
	defer p.qosMu.Unlock()
	c, ok := p.qosBy[key]
	if !ok {
		c = qos.NewController(p.cfg.MaxLatency, p.cfg.MaxJitter)
		p.qosBy[key] = c
	}
	return c
}

// DropQoS forgets a listener's controller when they leave.
func (p *Pipeline) DropQoS(roomID, userID string) {
	p.qosMu.Lock()
	defer p.qosMu.Unlock()
	delete(p.qosBy, roomID+":"+userID)
}

// ProcessUtterance runs the dual-path fan-out for one audio blob.
//
// 原声优先：先把原声发出去，再做识别和翻译。
func (p *Pipeline) ProcessUtterance(ctx context.Context, state *room.State, speakerID string, audio []byte) {
	roomID := state.RoomID()

	// 1. Gate. The client already ran VAD, but trusting it blindly buys
	// recognizer hallucinations on every keyboard click.
	if !p.detector.HasSpeech(audio) {
		logger.Debug("utterance gated out", zap.String("room", roomID), zap.String("speaker", speakerID))
		return
	}

	participants := state.Snapshot()

	// 2. Immediate original fan-out, before recognition.
	for _, listener := range participants {
		if listener.UserID == speakerID {
			continue // エコー防止
		}
		if listener.AudioMode == models.AudioModeOriginal {
			p.sender.SendBinaryTo(roomID, listener.UserID, audio)
		}
	}

	// 3. Recognition with language detection. The speaker's native
	// language is only a hint; people switch languages mid-meeting.
	speaker, _ := state.Get(speakerID)
	hint := speaker.NativeLanguage
	rctx, rcancel := context.WithTimeout(ctx, p.cfg.RecognizeTimeout)
	text, detectedLang, err := p.provider.TranscribeWithDetection(rctx, audio, hint)
	rcancel()
	if err != nil {
		logger.Warn("recognition failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	if detectedLang == "" || detectedLang == "multi" {
		detectedLang = hint
	}
	speakerLang := translator.NormalizeLanguageCode(detectedLang)
	if text == "" {
		return
	}

	// 4. Classify translated-mode listeners now that the real language
	// is known. A listener whose target matches the speech gets the raw
	// voice; synthesizing their own language back at them adds latency
	// for nothing.
	buckets := make(map[string][]string) // target lang -> user ids (audio + subtitle)
	for _, listener := range participants {
		if listener.UserID == speakerID || listener.AudioMode != models.AudioModeTranslated {
			continue
		}
		target := listener.ListeningLanguage()
		if target == speakerLang {
			p.sender.SendBinaryTo(roomID, listener.UserID, audio)
			continue
		}
		buckets[target] = append(buckets[target], listener.UserID)
	}

	// 5. Dedup identical consecutive recognitions per speaker. Audio
	// already went out; only subtitles and translations are skipped.
	if !state.AcceptUtterance(speakerID, text) {
		logger.Debug("duplicate utterance skipped", zap.String("room", roomID), zap.String("text", text))
		return
	}

	// 6. Sequence and identity.
	seq := state.NextSeq()
	subtitleID := uuid.NewString()
	timestamp := time.Now().UTC()
	p.subCache.StoreOriginal(ctx, subtitleID, text, speakerLang)

	originalSubtitle := map[string]interface{}{
		"type":            "subtitle",
		"id":              subtitleID,
		"seq":             seq,
		"room_id":         roomID,
		"speaker_id":      speakerID,
		"speaker_name":    speaker.DisplayName,
		"original_text":   text,
		"source_language": speakerLang,
		"is_translated":   false,
		"timestamp":       timestamp.Format(time.RFC3339Nano),
	}

	// 7. Original subtitle to everyone who hears the original voice.
	for _, listener := range participants {
		if !listener.SubtitleEnabled || listener.UserID == speakerID {
			continue
		}
		if listener.AudioMode == models.AudioModeOriginal {
			p.sender.SendJSONTo(roomID, listener.UserID, originalSubtitle)
		}
	}

	// Speaker's own caption: translated-mode speakers with a foreign
	// target read the translation, everyone else reads the original.
	speakerWantsTranslation := speaker.AudioMode == models.AudioModeTranslated &&
		speaker.ListeningLanguage() != speakerLang
	if speakerWantsTranslation {
		target := speaker.ListeningLanguage()
		if !containsID(buckets[target], speakerID) {
			buckets[target] = append(buckets[target], speakerID)
		}
	} else if speaker.SubtitleEnabled {
		p.sender.SendJSONTo(roomID, speakerID, originalSubtitle)
	}

	// Translated-mode listeners whose target matched the speech still
	// read the original subtitle.
	for _, listener := range participants {
		if !listener.SubtitleEnabled || listener.UserID == speakerID {
			continue
		}
		if listener.AudioMode == models.AudioModeTranslated && listener.ListeningLanguage() == speakerLang {
			p.sender.SendJSONTo(roomID, listener.UserID, originalSubtitle)
		}
	}

	// 8. Translate every bucket in parallel: one model call per target
	// language no matter how many listeners share it.
	translations := p.runBuckets(ctx, state, speakerID, speakerLang, text, subtitleID, seq, timestamp, buckets)

	// 9. Persist. A database hiccup must not take the meeting down.
	sessionID := p.ensureSession(state)
	sub := &models.Subtitle{
		UIDModel:         models.UIDModel{ID: subtitleID},
		RoomID:           roomID,
		SpeakerID:        speakerID,
		OriginalText:     text,
		OriginalLanguage: speakerLang,
		Translations:     translations,
		Timestamp:        timestamp,
	}
	if sessionID != "" {
		sub.SessionID = &sessionID
	}
	if err := models.SaveSubtitle(p.db, sub); err != nil {
		logger.Warn("subtitle persistence failed", zap.String("subtitle_id", subtitleID), zap.Error(err))
	}

	// 10. Background subtitle fills for original-mode listeners reading
	// a different language. Cache-only: nothing is pushed, the client
	// pulls when the user expands the subtitle. Runs after persistence so
	// a completed fill always finds the row to merge into.
	p.scheduleFills(participants, speakerLang, text, subtitleID, translations)
}

// runBuckets translates and synthesizes once per target language, then
// fans audio and subtitle out to that bucket's listeners together.
func (p *Pipeline) runBuckets(ctx context.Context, state *room.State, speakerID, speakerLang, text,
	subtitleID string, seq uint64, timestamp time.Time, buckets map[string][]string) models.StringMap {

	roomID := state.RoomID()
	translations := models.StringMap{}
	if len(buckets) == 0 {
		return translations
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for targetLang, userIDs := range buckets {
		wg.Add(1)
		go func(targetLang string, userIDs []string) {
			defer wg.Done()

			starts := make(map[string]*qos.Metrics, len(userIDs))
			for _, uid := range userIDs {
				starts[uid] = p.qosFor(roomID, uid).Start()
			}

			tctx, tcancel := context.WithTimeout(ctx, p.cfg.TranslateTimeout)
			translated, err := p.provider.TranslateText(tctx, text, speakerLang, targetLang)
			tcancel()
			if err != nil || translated == "" {
				logger.Warn("bucket translation failed",
					zap.String("room", roomID), zap.String("target", targetLang), zap.Error(err))
				// 翻訳できない時は原文字幕で代替、音声は出さない
				fallback := map[string]interface{}{
					"type":               "subtitle",
					"id":                 subtitleID,
					"seq":                seq,
					"room_id":            roomID,
					"speaker_id":         speakerID,
					"original_text":      text,
					"source_language":    speakerLang,
					"is_translated":      false,
					"translation_failed": true,
					"timestamp":          timestamp.Format(time.RFC3339Nano),
				}
				for _, uid := range userIDs {
					if listener, ok := state.Get(uid); ok && listener.SubtitleEnabled {
						p.sender.SendJSONTo(roomID, uid, fallback)
					}
				}
				return
			}

			sctx, scancel := context.WithTimeout(ctx, p.cfg.SynthesizeTimeout)
			voice, synthErr := p.provider.Synthesize(sctx, translated, targetLang)
			scancel()
			if synthErr != nil {
				// 字幕照发，只是没有语音
				logger.Warn("synthesis failed", zap.String("target", targetLang), zap.Error(synthErr))
			}

			subtitle := map[string]interface{}{
				"type":            "subtitle",
				"id":              subtitleID,
				"seq":             seq,
				"room_id":         roomID,
				"speaker_id":      speakerID,
				"original_text":   translated,
				"source_language": targetLang,
				"is_translated":   true,
				"timestamp":       timestamp.Format(time.RFC3339Nano),
			}

			for _, uid := range userIDs {
				m := p.qosFor(roomID, uid).End(starts[uid])

				// Voice goes out unless QoS says this listener is better
				// served by subtitles alone. The speaker never gets voice,
				// only their own caption.
				if voice != nil && uid != speakerID && !m.FallbackToSubtitle {
					p.sender.SendBinaryTo(roomID, uid, voice)
				}
				if m.FallbackToSubtitle {
					p.sender.SendJSONTo(roomID, uid, map[string]interface{}{
						"type":       "qos_warning",
						"level":      string(m.Level),
						"latency_ms": m.Latency.Milliseconds(),
						"message":    "translated audio suspended, subtitles only",
					})
				}
				if listener, ok := state.Get(uid); ok && listener.SubtitleEnabled {
					p.sender.SendJSONTo(roomID, uid, subtitle)
				}
			}

			p.subCache.StoreTranslation(ctx, subtitleID, targetLang, translated)

			mu.Lock()
			translations[targetLang] = translated
			mu.Unlock()
		}(targetLang, userIDs)
	}

	wg.Wait()
	return translations
}

// scheduleFills starts single-flight background translations for
// original-mode listeners who read a language the buckets did not cover.
func (p *Pipeline) scheduleFills(participants []room.Participant,
	speakerLang, text, subtitleID string, translations models.StringMap) {

	wanted := map[string]struct{}{}
	for _, listener := range participants {
		if !listener.SubtitleEnabled || listener.AudioMode != models.AudioModeOriginal {
			continue
		}
		target := listener.ListeningLanguage()
		if target == speakerLang {
			continue
		}
		if _, done := translations[target]; done {
			continue
		}
		wanted[target] = struct{}{}
	}

	for target := range wanted {
		go func(target string) {
			// Detach from the utterance context; the fill should finish
			// even if the speaker disconnects mid-flight.
			bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if !p.subCache.MarkPending(bg, subtitleID, target) {
				return
			}
			translated, err := p.provider.TranslateText(bg, text, speakerLang, target)
			if err != nil || translated == "" {
				logger.Warn("background fill failed",
					zap.String("subtitle_id", subtitleID), zap.String("target", target), zap.Error(err))
				p.subCache.ClearPending(bg, subtitleID, target)
				return
			}
			p.subCache.StoreTranslation(bg, subtitleID, target, translated)
			if err := models.AddTranslation(p.db, subtitleID, target, translated); err != nil {
				logger.Warn("fill persistence failed", zap.String("subtitle_id", subtitleID), zap.Error(err))
			}
		}(target)
	}
}

// ensureSession opens the meeting session on the first accepted
// utterance and caches its id on the room state. OpenSession serializes
// the check-then-create per room, so concurrent first utterances from
// two speakers still resolve to one active session.
func (p *Pipeline) ensureSession(state *room.State) string {
	return state.OpenSession(func() (string, error) {
		session, err := models.GetOrCreateActiveSession(p.db, state.RoomID())
		if err != nil {
			logger.Warn("meeting session open failed", zap.String("room", state.RoomID()), zap.Error(err))
			return "", err
		}
		return session.ID, nil
	})
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
