// Package handler wires the HTTP and websocket surface: auth, rooms,
// transcripts, the translation proxy and the realtime meeting socket.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/code-100-precent/LingMeet/internal/hub"
	"github.com/code-100-precent/LingMeet/internal/pipeline"
	"github.com/code-100-precent/LingMeet/internal/room"
	"github.com/code-100-precent/LingMeet/pkg/cache"
	"github.com/code-100-precent/LingMeet/pkg/config"
	"github.com/code-100-precent/LingMeet/pkg/middleware"
	"github.com/code-100-precent/LingMeet/pkg/subtitlecache"
	"github.com/code-100-precent/LingMeet/pkg/translator"
)

type Handler struct {
	db       *gorm.DB
	cfg      *config.Config
	cache    cache.Cache
	subCache *subtitlecache.Store
	provider translator.Provider
	hub      *hub.Hub
	rooms    *room.Manager
	pipeline *pipeline.Pipeline
	upgrader websocket.Upgrader
}

func New(db *gorm.DB, cfg *config.Config, c cache.Cache, subCache *subtitlecache.Store,
	provider translator.Provider, h *hub.Hub, rooms *room.Manager, p *pipeline.Pipeline) *Handler {
	return &Handler{
		db:       db,
		cfg:      cfg,
		cache:    c,
		subCache: subCache,
		provider: provider,
		hub:      h,
		rooms:    rooms,
		pipeline: p,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 跨域由业务token把关，这里放开Origin检查
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(middleware.CorsMiddleware())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group(h.cfg.Server.AuthPrefix)
	{
		auth.POST("/register", h.handleRegister)
		auth.POST("/login", h.handleLogin)
		auth.POST("/password/forgot", h.handleForgotPassword)
		auth.POST("/password/reset", h.handleResetPassword)
		auth.GET("/me", middleware.AuthMiddleware(h.cfg.Auth.SessionSecret), h.handleMe)
	}

	api := r.Group(h.cfg.Server.APIPrefix, middleware.AuthMiddleware(h.cfg.Auth.SessionSecret))
	{
		api.GET("/rooms", h.handleListRooms)
		api.POST("/rooms", h.handleCreateRoom)
		api.GET("/rooms/:id", h.handleGetRoom)
		api.GET("/rooms/:id/transcript", h.handleTranscript)

		api.POST("/translate", h.handleTranslateText)
		api.GET("/translate/subtitle/:id/:lang", h.handlePullSubtitle)

		admin := api.Group("/admin", h.requireAdmin())
		{
			admin.GET("/languages", h.handleGetLanguages)
			admin.PUT("/languages", h.handleSetLanguages)
		}
	}

	r.GET("/ws/rooms/:id", h.handleMeetingSocket)
}
