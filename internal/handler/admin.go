package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/code-100-precent/LingMeet/internal/models"
	"github.com/code-100-precent/LingMeet/pkg/middleware"
	"github.com/code-100-precent/LingMeet/pkg/response"
	"github.com/code-100-precent/LingMeet/pkg/translator"
)

func (h *Handler) handleGetLanguages(c *gin.Context) {
	langs, err := models.GetEnabledLanguages(h.db)
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, "ok", gin.H{"languages": langs})
}

type setLanguagesRequest struct {
	Languages []string `json:"languages" binding:"required"`
}

// handleSetLanguages replaces the platform language allowlist. Existing
// rooms keep their policy; the allowlist only gates new rooms.
func (h *Handler) handleSetLanguages(c *gin.Context) {
	var req setLanguagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}

	langs := make([]string, 0, len(req.Languages))
	seen := map[string]struct{}{}
	for _, l := range req.Languages {
		code := translator.NormalizeLanguageCode(l)
		if !translator.IsSupported(code) {
			response.Result(c, http.StatusBadRequest, 400, "unsupported language: "+l, nil)
			return
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		langs = append(langs, code)
	}

	if err := models.SetEnabledLanguages(h.db, langs, c.GetString(middleware.CtxUserID)); err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}
	response.Success(c, "languages updated", gin.H{"languages": langs})
}
