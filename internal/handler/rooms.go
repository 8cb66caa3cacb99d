package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/code-100-precent/LingMeet/internal/models"
	"github.com/code-100-precent/LingMeet/pkg/middleware"
	"github.com/code-100-precent/LingMeet/pkg/response"
	"github.com/code-100-precent/LingMeet/pkg/translator"
)

type createRoomRequest struct {
	Name             string   `json:"name" binding:"required"`
	Description      string   `json:"description"`
	AllowedLanguages []string `json:"allowed_languages" binding:"required"`
	DefaultAudioMode string   `json:"default_audio_mode"`
	AllowModeSwitch  *bool    `json:"allow_mode_switch"`
	IsPrivate        bool     `json:"is_private"`
}

func (h *Handler) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}

	langs := make([]string, 0, len(req.AllowedLanguages))
	for _, l := range req.AllowedLanguages {
		langs = append(langs, translator.NormalizeLanguageCode(l))
	}
	allowSwitch := true
	if req.AllowModeSwitch != nil {
		allowSwitch = *req.AllowModeSwitch
	}

	room, err := models.CreateRoom(h.db, c.GetString(middleware.CtxUserID),
		req.Name, req.Description, langs, req.DefaultAudioMode, allowSwitch, req.IsPrivate)
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}
	response.Success(c, "room created", room)
}

func (h *Handler) handleListRooms(c *gin.Context) {
	rooms, err := models.ListVisibleRooms(h.db, c.GetString(middleware.CtxUserID))
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusInternalServerError, err)
		return
	}

	// 附带在线人数，前端列表直接显示
	type roomView struct {
		models.Room
		OnlineCount int `json:"online_count"`
	}
	views := make([]roomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, roomView{Room: r, OnlineCount: h.hub.Size(r.ID)})
	}
	response.Success(c, "ok", gin.H{"rooms": views, "total": len(views)})
}

func (h *Handler) handleGetRoom(c *gin.Context) {
	room, err := h.visibleRoom(c)
	if err != nil {
		return
	}
	response.Success(c, "ok", gin.H{
		"room":         room,
		"online_count": h.hub.Size(room.ID),
	})
}

// handleTranscript returns the room's subtitle history, optionally
// substituted into one language via ?lang=.
func (h *Handler) handleTranscript(c *gin.Context) {
	room, err := h.visibleRoom(c)
	if err != nil {
		return
	}

	lang := translator.NormalizeLanguageCode(c.Query("lang"))
	entries, err := models.GetTranscript(h.db, room.ID, lang)
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusInternalServerError, err)
		return
	}

	response.Success(c, "ok", gin.H{
		"room_id":   room.ID,
		"room_name": room.Name,
		"language":  lang,
		"subtitles": entries,
		"total":     len(entries),
	})
}

// visibleRoom resolves :id and enforces the private-room rule. On error
// the response has already been written.
func (h *Handler) visibleRoom(c *gin.Context) (*models.Room, error) {
	room, err := models.GetRoomByID(h.db, c.Param("id"))
	if err != nil {
		notFound := errors.New("room not found")
		response.AbortWithStatusJSON(c, http.StatusNotFound, notFound)
		return nil, notFound
	}
	if !room.VisibleTo(c.GetString(middleware.CtxUserID)) {
		private := errors.New("room is private")
		response.AbortWithStatusJSON(c, http.StatusForbidden, private)
		return nil, private
	}
	return room, nil
}
