package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/code-100-precent/LingMeet/internal/hub"
	"github.com/code-100-precent/LingMeet/internal/models"
	"github.com/code-100-precent/LingMeet/internal/room"
	"github.com/code-100-precent/LingMeet/pkg/logger"
	"github.com/code-100-precent/LingMeet/pkg/token"
	"github.com/code-100-precent/LingMeet/pkg/translator"
)

// Close codes the client branches on.
const (
	closeUnauthorized = 4001 // token invalid or account gone
	closeRoomGone     = 4004 // room missing or inactive
)

// clientMessage is the envelope for every text frame from the client.
type clientMessage struct {
	Type            string  `json:"type"`
	TargetLanguage  *string `json:"target_language,omitempty"`
	AudioMode       *string `json:"audio_mode,omitempty"`
	SubtitleEnabled *bool   `json:"subtitle_enabled,omitempty"`
}

// handleMeetingSocket runs one member's meeting connection from upgrade
// to leave. Authentication happens after the upgrade so the client gets
// a proper close code instead of an opaque HTTP failure.
func (h *Handler) handleMeetingSocket(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	closeWith := func(code int, reason string) {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
	}

	claims, err := token.Parse(c.Query("token"), h.cfg.Auth.SessionSecret)
	if err != nil {
		closeWith(closeUnauthorized, "invalid token")
		return
	}
	user, err := models.GetUserByID(h.db, claims.UserID)
	if err != nil {
		closeWith(closeUnauthorized, "account not found")
		return
	}

	roomID := c.Param("id")
	roomRow, err := models.GetRoomByID(h.db, roomID)
	if err != nil || !roomRow.IsActive {
		closeWith(closeRoomGone, "room not found")
		return
	}

	state := h.rooms.GetOrCreate(roomID, room.Policy{
		AllowedLanguages: roomRow.AllowedLanguages,
		DefaultAudioMode: roomRow.DefaultAudioMode,
		AllowModeSwitch:  roomRow.AllowModeSwitch,
	})

	me, err := state.Join(user.ID, user.DisplayName, user.NativeLanguage)
	if err != nil {
		closeWith(closeRoomGone, err.Error())
		return
	}

	conn := hub.NewConn(c.Request.Context(), ws, user.ID, user.DisplayName)
	if prev := h.hub.Register(roomID, conn); prev != nil {
		// 同一账号重连，踢掉旧连接
		prev.Close()
	}

	logger.Info("member joined",
		zap.String("room", roomID), zap.String("user", user.ID), zap.Int("size", state.Size()))

	h.hub.BroadcastJSON(roomID, gin.H{
		"type":            "user_joined",
		"user_id":         user.ID,
		"display_name":    user.DisplayName,
		"native_language": user.NativeLanguage,
	}, user.ID)

	_ = conn.SendJSON(h.roomStateMessage(roomRow, state, me))

	h.readLoop(c.Request.Context(), conn, ws, state, user.ID)

	// Leave: unregister first so fan-out stops targeting this socket.
	h.hub.Unregister(roomID, conn)
	conn.Close()
	remaining := state.Leave(user.ID)

	h.hub.BroadcastJSON(roomID, gin.H{
		"type":    "user_left",
		"user_id": user.ID,
	})
	h.pipeline.DropQoS(roomID, user.ID)

	if remaining == 0 {
		// 最后一人离开，会议段落结束
		if err := models.EndActiveSession(h.db, roomID); err != nil {
			logger.Warn("session close failed", zap.String("room", roomID), zap.Error(err))
		}
		h.rooms.Dispose(roomID)
	}
	logger.Info("member left",
		zap.String("room", roomID), zap.String("user", user.ID), zap.Int("remaining", remaining))
}

func (h *Handler) roomStateMessage(roomRow *models.Room, state *room.State, me *room.Participant) gin.H {
	return gin.H{
		"type":      "room_state",
		"room_id":   roomRow.ID,
		"room_name": roomRow.Name,
		"policy": gin.H{
			"allowed_languages":  roomRow.AllowedLanguages,
			"default_audio_mode": roomRow.DefaultAudioMode,
			"allow_mode_switch":  roomRow.AllowModeSwitch,
		},
		"participants":    state.Snapshot(),
		"your_preference": me,
	}
}

// readLoop pumps inbound frames until the socket dies. Audio is handled
// on this goroutine so one speaker's utterances keep their order.
func (h *Handler) readLoop(ctx context.Context, conn *hub.Conn, ws *websocket.Conn, state *room.State, userID string) {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("websocket read ended", zap.String("user", userID), zap.Error(err))
			}
			return
		}

		select {
		case <-conn.Done():
			return
		default:
		}

		switch msgType {
		case websocket.BinaryMessage:
			if p, ok := state.Get(userID); !ok || !p.MicOn {
				continue // 麦克风关着，丢弃音频
			}
			h.pipeline.ProcessUtterance(ctx, state, userID, data)
		case websocket.TextMessage:
			h.handleClientMessage(conn, state, userID, data)
		}
	}
}

func (h *Handler) handleClientMessage(conn *hub.Conn, state *room.State, userID string, data []byte) {
	roomID := state.RoomID()

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = conn.SendJSON(gin.H{"type": "error", "message": "malformed message"})
		return
	}

	switch msg.Type {
	case "preference_change":
		if msg.TargetLanguage != nil {
			norm := translator.NormalizeLanguageCode(*msg.TargetLanguage)
			msg.TargetLanguage = &norm
		}
		if err := state.SetPreference(userID, msg.TargetLanguage, msg.AudioMode, msg.SubtitleEnabled); err != nil {
			_ = conn.SendJSON(gin.H{"type": "error", "message": err.Error()})
			return
		}
		p, _ := state.Get(userID)
		_ = conn.SendJSON(gin.H{"type": "preference_updated", "preference": p})
		h.hub.BroadcastJSON(roomID, gin.H{
			"type":            "user_preference_changed",
			"user_id":         userID,
			"target_language": p.ListeningLanguage(),
			"audio_mode":      p.AudioMode,
		}, userID)

	case "speaking_start":
		state.SetSpeaking(userID, true)
		h.hub.BroadcastJSON(roomID, gin.H{"type": "speaking_start", "user_id": userID}, userID)

	case "speaking_end":
		state.SetSpeaking(userID, false)
		h.hub.BroadcastJSON(roomID, gin.H{"type": "speaking_end", "user_id": userID}, userID)

	case "mic_on", "mic_off":
		on := msg.Type == "mic_on"
		if state.SetMic(userID, on) {
			h.hub.BroadcastJSON(roomID, gin.H{
				"type":    "mic_status_changed",
				"user_id": userID,
				"mic_on":  on,
			}, userID)
		}

	case "ping":
		_ = conn.SendJSON(gin.H{"type": "pong"})

	default:
		_ = conn.SendJSON(gin.H{"type": "error", "message": "unknown message type: " + msg.Type})
	}
}
