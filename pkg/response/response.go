package response

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Code    int         `json:"code"` // 状态码，200 表示成功，非 200 为错误码
	Message string      `json:"msg"`  // 响应的消息描述
	Data    interface{} `json:"data"` // 返回的数据，可以是任意类型
}

func Success(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"msg":  msg,
		"data": data,
	})
}

func Fail(c *gin.Context, msg string, data interface{}) {
	errorResponse := gin.H{
		"code": 500,
		"msg":  msg,
		"data": data,
	}

	if dataMap, ok := data.(gin.H); ok {
		if errorCode, exists := dataMap["error"]; exists {
			errorResponse["error"] = errorCode
		}
		if message, exists := dataMap["message"]; exists && msg == "" {
			errorResponse["msg"] = message
		}
	}

	c.JSON(http.StatusOK, errorResponse)
}

func Result(context *gin.Context, httpStatus int, code int, msg string, data gin.H) {
	context.JSON(httpStatus, gin.H{
		"code": code,
		"msg":  msg,
		"data": data,
	})
}

func AbortWithStatus(c *gin.Context, httpStatus int) {
	c.AbortWithStatus(httpStatus)
}

// AbortWithStatusJSON maps well-known domain errors to stable error codes
// so the client can branch without parsing message text.
func AbortWithStatusJSON(c *gin.Context, httpStatus int, err error) {
	errorResponse := gin.H{
		"code": httpStatus,
		"msg":  err.Error(),
		"data": nil,
	}

	errorMsg := err.Error()
	switch {
	case strings.Contains(errorMsg, "username has exists"):
		errorResponse["code"] = 400
		errorResponse["error"] = "USERNAME_EXISTS"
	case strings.Contains(errorMsg, "email has exists"):
		errorResponse["code"] = 400
		errorResponse["error"] = "EMAIL_EXISTS"
	case strings.Contains(errorMsg, "invalid credentials"):
		errorResponse["code"] = 401
		errorResponse["error"] = "INVALID_CREDENTIALS"
	case strings.Contains(errorMsg, "room not found"):
		errorResponse["code"] = 404
		errorResponse["error"] = "ROOM_NOT_FOUND"
	case strings.Contains(errorMsg, "room is private"):
		errorResponse["code"] = 403
		errorResponse["error"] = "ROOM_PRIVATE"
	case strings.Contains(errorMsg, "language not enabled"):
		errorResponse["code"] = 400
		errorResponse["error"] = "LANGUAGE_NOT_ENABLED"
	case strings.Contains(errorMsg, "subtitle not found"):
		errorResponse["code"] = 404
		errorResponse["error"] = "SUBTITLE_NOT_FOUND"
	default:
		errorResponse["error"] = "UNKNOWN_ERROR"
	}

	c.AbortWithStatusJSON(httpStatus, errorResponse)
}
