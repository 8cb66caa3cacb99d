package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/code-100-precent/LingMeet/pkg/logger"
)

// WriterBufferSize 写入缓冲区大小
// 200帧足以吸收TTS突发，又不会在慢客户端上囤积太久
const WriterBufferSize = 200

// Conn wraps one websocket connection with a buffered writer pair.
// Text and binary frames take separate channels so a burst of audio
// cannot starve subtitle delivery. Writes never block the pipeline:
// when a channel is full the frame is dropped, audio first.
type Conn struct {
	UserID      string
	DisplayName string

	ws     *websocket.Conn
	mu     sync.Mutex
	msgCh  chan []byte
	binCh  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConn(ctx context.Context, ws *websocket.Conn, userID, displayName string) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		UserID:      userID,
		DisplayName: displayName,
		ws:          ws,
		msgCh:       make(chan []byte, WriterBufferSize),
		binCh:       make(chan []byte, WriterBufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.writeBinaryLoop()
	return c
}

// Close stops both writer goroutines. The websocket itself is closed by
// the read loop that owns it.
func (c *Conn) Close() {
	c.cancel()
	c.wg.Wait()
}

// Done is closed once the writer has failed or Close was called.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.msgCh:
			c.mu.Lock()
			err := c.ws.WriteMessage(websocket.TextMessage, msg)
			c.mu.Unlock()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					logger.Debug("连接已关闭，停止写入文本消息", zap.String("user", c.UserID))
				} else {
					logger.Error("websocket text write failed", zap.String("user", c.UserID), zap.Error(err))
				}
				c.cancel()
				return
			}
		}
	}
}

func (c *Conn) writeBinaryLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.binCh:
			c.mu.Lock()
			err := c.ws.WriteMessage(websocket.BinaryMessage, data)
			c.mu.Unlock()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					logger.Debug("连接已关闭，停止写入音频", zap.String("user", c.UserID))
				} else {
					logger.Error("websocket binary write failed", zap.String("user", c.UserID), zap.Error(err))
				}
				c.cancel()
				return
			}
		}
	}
}

// SendJSON queues a text frame. Full channel means the client is not
// keeping up; the frame is dropped rather than blocking the pipeline.
func (c *Conn) SendJSON(payload interface{}) error {
	message, err := json.Marshal(payload)
	if err != nil {
		logger.Error("marshal websocket message failed", zap.Error(err))
		return err
	}
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case c.msgCh <- message:
		return nil
	default:
		logger.Warn("subtitle channel full, dropping frame", zap.String("user", c.UserID))
		return nil
	}
}

// SendBinary queues an audio frame. Audio is the first thing to drop
// under backpressure; subtitles keep the meeting intelligible.
func (c *Conn) SendBinary(data []byte) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case c.binCh <- data:
		return nil
	default:
		logger.Debug("audio channel full, dropping frame", zap.String("user", c.UserID))
		return nil
	}
}
