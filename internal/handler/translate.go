package handler

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/code-100-precent/LingMeet/internal/models"
	"github.com/code-100-precent/LingMeet/pkg/response"
	"github.com/code-100-precent/LingMeet/pkg/subtitlecache"
	"github.com/code-100-precent/LingMeet/pkg/translator"
)

// textTranslationTTL 文本翻译结果缓存时间
const textTranslationTTL = 24 * time.Hour

type translateRequest struct {
	Text           string `json:"text" binding:"required"`
	SourceLanguage string `json:"source_language" binding:"required"`
	TargetLanguage string `json:"target_language" binding:"required"`
}

// handleTranslateText is the cached text-translation proxy used by the
// transcript view and clients filling in subtitles after the fact.
func (h *Handler) handleTranslateText(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}

	src := translator.NormalizeLanguageCode(req.SourceLanguage)
	tgt := translator.NormalizeLanguageCode(req.TargetLanguage)
	if src == tgt {
		response.Success(c, "ok", gin.H{"text": req.Text, "language": tgt, "cached": false})
		return
	}

	key := fmt.Sprintf("translate:%x", md5.Sum([]byte(src+":"+tgt+":"+req.Text)))
	if cached, ok := h.cache.Get(c.Request.Context(), key); ok {
		response.Success(c, "ok", gin.H{"text": cached, "language": tgt, "cached": true})
		return
	}

	translated, err := h.provider.TranslateText(c.Request.Context(), req.Text, src, tgt)
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadGateway, err)
		return
	}

	_ = h.cache.Set(c.Request.Context(), key, translated, textTranslationTTL)
	response.Success(c, "ok", gin.H{"text": translated, "language": tgt, "cached": false})
}

// handlePullSubtitle serves on-demand subtitle translations. The flow is
// single-flight per (subtitle, language): one request translates, the
// rest wait on the cache.
//
//	ready     翻译已就绪
//	pending   别人正在翻，客户端稍后重试
//	not_found 字幕不存在
func (h *Handler) handlePullSubtitle(c *gin.Context) {
	subtitleID := c.Param("id")
	lang := translator.NormalizeLanguageCode(c.Param("lang"))
	wait := c.Query("wait") == "true"
	ctx := c.Request.Context()

	// Fast path: a previous fill already landed.
	if text, ok := h.subCache.GetTranslation(ctx, subtitleID, lang, wait); ok {
		response.Success(c, "ok", gin.H{"status": "ready", "text": text, "language": lang})
		return
	}

	original, ok := h.subCache.GetOriginal(ctx, subtitleID)
	if !ok {
		// Cache expired; fall back to the durable row.
		sub, err := h.loadSubtitle(subtitleID)
		if err != nil {
			response.AbortWithStatusJSON(c, http.StatusNotFound, errors.New("subtitle not found"))
			return
		}
		if t, ok := sub.Translations[lang]; ok && t != "" {
			response.Success(c, "ok", gin.H{"status": "ready", "text": t, "language": lang})
			return
		}
		original = &subtitlecache.Original{Text: sub.OriginalText, Lang: sub.OriginalLanguage}
		h.subCache.StoreOriginal(ctx, subtitleID, original.Text, original.Lang)
	}

	if original.Lang == lang {
		response.Success(c, "ok", gin.H{"status": "ready", "text": original.Text, "language": lang})
		return
	}

	if !h.subCache.MarkPending(ctx, subtitleID, lang) {
		// Someone else claimed the work between our check and now.
		if text, ok := h.subCache.GetTranslation(ctx, subtitleID, lang, true); ok {
			response.Success(c, "ok", gin.H{"status": "ready", "text": text, "language": lang})
			return
		}
		response.Success(c, "ok", gin.H{"status": "pending", "language": lang})
		return
	}

	translated, err := h.provider.TranslateText(ctx, original.Text, original.Lang, lang)
	if err != nil || translated == "" {
		// Release the claim so the next reader can retry at once. The
		// request context may already be dead here.
		h.subCache.ClearPending(context.Background(), subtitleID, lang)
		response.AbortWithStatusJSON(c, http.StatusBadGateway, fmt.Errorf("translation failed: %w", err))
		return
	}
	h.subCache.StoreTranslation(ctx, subtitleID, lang, translated)
	_ = models.AddTranslation(h.db, subtitleID, lang, translated)

	response.Success(c, "ok", gin.H{"status": "ready", "text": translated, "language": lang})
}

func (h *Handler) loadSubtitle(id string) (*models.Subtitle, error) {
	var sub models.Subtitle
	if err := h.db.Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}
