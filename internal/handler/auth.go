package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/code-100-precent/LingMeet/internal/models"
	"github.com/code-100-precent/LingMeet/pkg/logger"
	"github.com/code-100-precent/LingMeet/pkg/middleware"
	"github.com/code-100-precent/LingMeet/pkg/response"
	"github.com/code-100-precent/LingMeet/pkg/token"
	"github.com/code-100-precent/LingMeet/pkg/translator"
)

type registerRequest struct {
	Email          string `json:"email" binding:"required,email"`
	Password       string `json:"password" binding:"required,min=6"`
	DisplayName    string `json:"display_name" binding:"required"`
	NativeLanguage string `json:"native_language"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}

	lang := translator.NormalizeLanguageCode(req.NativeLanguage)
	if !translator.IsSupported(lang) {
		lang = "ja"
	}

	user, err := models.CreateUser(h.db, req.Email, req.Password, req.DisplayName, lang)
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}

	signed, err := token.Sign(user.ID, user.Email, user.DisplayName,
		h.cfg.Auth.SessionSecret, h.cfg.Auth.SecretExpireDays)
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusInternalServerError, err)
		return
	}

	response.Success(c, "registered", gin.H{
		"token": signed,
		"user":  user,
	})
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}

	user, err := models.Authenticate(h.db, req.Email, req.Password)
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusUnauthorized, err)
		return
	}

	signed, err := token.Sign(user.ID, user.Email, user.DisplayName,
		h.cfg.Auth.SessionSecret, h.cfg.Auth.SecretExpireDays)
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusInternalServerError, err)
		return
	}

	response.Success(c, "ok", gin.H{
		"token": signed,
		"user":  user,
	})
}

func (h *Handler) handleMe(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	user, err := models.GetUserByID(h.db, userID)
	if err != nil {
		response.Result(c, http.StatusUnauthorized, 401, "account not found or disabled", nil)
		return
	}
	response.Success(c, "ok", user)
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// handleForgotPassword issues a reset token. The response is identical
// whether the account exists or not; the token only travels through the
// mail channel, never this response.
func (h *Handler) handleForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}

	if prt, err := models.CreatePasswordResetToken(h.db, req.Email); err == nil {
		// TODO: deliver via the mail gateway once one is configured
		logger.Info("password reset token issued",
			zap.String("user_id", prt.UserID), zap.Time("expires_at", prt.ExpiresAt))
	}
	response.Success(c, "if the account exists, a reset token has been issued", nil)
}

func (h *Handler) handleResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}
	if err := models.ResetPassword(h.db, req.Token, req.NewPassword); err != nil {
		response.AbortWithStatusJSON(c, http.StatusBadRequest, err)
		return
	}
	response.Success(c, "password updated", nil)
}

// requireAdmin loads the account and checks the role. Role lives in the
// database, not the token, so revoking admin takes effect immediately.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.CtxUserID)
		user, err := models.GetUserByID(h.db, userID)
		if err != nil || user.Role != models.RoleAdmin {
			response.Result(c, http.StatusForbidden, 403, "admin role required", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
