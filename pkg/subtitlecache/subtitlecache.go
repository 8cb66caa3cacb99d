// Package subtitlecache stores subtitle originals and per-language
// translation fills keyed by subtitle id. The pending marker makes
// concurrent fill requests single-flight: exactly one caller claims the
// work, everyone else waits on the result key.
package subtitlecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/code-100-precent/LingMeet/pkg/cache"
	"github.com/code-100-precent/LingMeet/pkg/logger"
)

const (
	// TranslationTTL keeps fills around after the meeting ends so the
	// transcript view can still resolve them.
	TranslationTTL = time.Hour

	// PendingTTL bounds how long a crashed worker can block other fills.
	PendingTTL = 60 * time.Second

	MaxWaitTime  = 5 * time.Second
	PollInterval = 100 * time.Millisecond
)

// Original is the cached source text of a subtitle.
type Original struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// Store wraps the shared cache with the subtitle keyspace.
type Store struct {
	cache cache.Cache
}

func New(c cache.Cache) *Store {
	return &Store{cache: c}
}

func translationKey(subtitleID, targetLang string) string {
	return fmt.Sprintf("subtitle_trans:%s:%s", subtitleID, targetLang)
}

func pendingKey(subtitleID, targetLang string) string {
	return fmt.Sprintf("subtitle_trans_pending:%s:%s", subtitleID, targetLang)
}

func originalKey(subtitleID string) string {
	return fmt.Sprintf("subtitle_original:%s", subtitleID)
}

// StoreOriginal caches the source text so later pull requests can
// translate without a database round-trip. Errors only warn; the cache
// is an accelerator, not the source of truth.
func (s *Store) StoreOriginal(ctx context.Context, subtitleID, text, sourceLang string) {
	data, err := json.Marshal(Original{Text: text, Lang: sourceLang})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, originalKey(subtitleID), string(data), TranslationTTL); err != nil {
		logger.Warn("subtitle original cache write failed",
			zap.String("subtitle_id", subtitleID), zap.Error(err))
	}
}

// GetOriginal returns the cached source text and language.
func (s *Store) GetOriginal(ctx context.Context, subtitleID string) (*Original, bool) {
	raw, ok := s.cache.Get(ctx, originalKey(subtitleID))
	if !ok {
		return nil, false
	}
	var o Original
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, false
	}
	return &o, true
}

// StoreTranslation publishes a fill and releases the pending marker.
// The order matters: waiters poll the result key, so it must exist
// before the marker disappears.
func (s *Store) StoreTranslation(ctx context.Context, subtitleID, targetLang, text string) {
	if err := s.cache.Set(ctx, translationKey(subtitleID, targetLang), text, TranslationTTL); err != nil {
		logger.Warn("subtitle translation cache write failed",
			zap.String("subtitle_id", subtitleID), zap.String("lang", targetLang), zap.Error(err))
		return
	}
	_ = s.cache.Delete(ctx, pendingKey(subtitleID, targetLang))
}

// GetTranslation fetches a fill. With wait=true and a pending marker
// present it polls until the fill lands or MaxWaitTime passes.
func (s *Store) GetTranslation(ctx context.Context, subtitleID, targetLang string, wait bool) (string, bool) {
	key := translationKey(subtitleID, targetLang)

	if v, ok := s.cache.Get(ctx, key); ok {
		return v, true
	}
	if !wait {
		return "", false
	}

	if !s.cache.Exists(ctx, pendingKey(subtitleID, targetLang)) {
		// 没有进行中的翻译，不等
		return "", false
	}

	deadline := time.Now().Add(MaxWaitTime)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
		}
		if v, ok := s.cache.Get(ctx, key); ok {
			return v, true
		}
		// Result first, then marker: StoreTranslation publishes the
		// result before releasing the marker.
		if !s.cache.Exists(ctx, pendingKey(subtitleID, targetLang)) {
			// 担当者が失敗して手放した、待っても来ない
			return "", false
		}
	}

	logger.Warn("subtitle translation wait timed out",
		zap.String("subtitle_id", subtitleID), zap.String("lang", targetLang))
	return "", false
}

// MarkPending claims the fill for this subtitle/language pair. It
// returns true exactly once per pending window; the winner must call
// StoreTranslation on success or ClearPending on failure.
func (s *Store) MarkPending(ctx context.Context, subtitleID, targetLang string) bool {
	if s.cache.Exists(ctx, translationKey(subtitleID, targetLang)) {
		return false
	}
	ok, err := s.cache.SetNX(ctx, pendingKey(subtitleID, targetLang), "1", PendingTTL)
	if err != nil {
		logger.Warn("pending marker set failed",
			zap.String("subtitle_id", subtitleID), zap.String("lang", targetLang), zap.Error(err))
		return false
	}
	return ok
}

// ClearPending releases a claim that produced no result, so a later
// reader can re-claim immediately instead of waiting out PendingTTL.
func (s *Store) ClearPending(ctx context.Context, subtitleID, targetLang string) {
	_ = s.cache.Delete(ctx, pendingKey(subtitleID, targetLang))
}

// IsPending reports whether a fill is currently claimed.
func (s *Store) IsPending(ctx context.Context, subtitleID, targetLang string) bool {
	return s.cache.Exists(ctx, pendingKey(subtitleID, targetLang))
}
