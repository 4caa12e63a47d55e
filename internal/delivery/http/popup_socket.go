package http

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Popup socket message types
const (
	msgActivate      = "activate"
	msgDeactivated   = "deactivated"
	msgDeactivateAll = "deactivate_all"

	msgRegistered = "registered"
	msgActivation = "activation"
	msgDeactivate = "deactivate"
	msgError      = "error"
)

type socketMessage struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// popupConn serializes writes to one socket; gorilla allows a single concurrent writer
type popupConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *popupConn) send(msg socketMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(msg)
}

func (h *Handler) upgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || isAllowedOrigin(origin, allowedOrigins)
		},
	}
}

// PopupSocket returns the WebSocket handler through which ingredient widgets share
// the activation broker. Each connection is one broker handle.
func (h *Handler) PopupSocket(allowedOrigins []string) gin.HandlerFunc {
	upgrader := h.upgrader(allowedOrigins)

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("popup socket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		pc := &popupConn{conn: conn}
		id := uuid.NewString()

		h.broker.Register(id, func() {
			if err := pc.send(socketMessage{Type: msgDeactivate}); err != nil {
				h.logger.Debug("failed to send deactivate", zap.String("handle", id), zap.Error(err))
			}
		})
		defer h.broker.Unregister(id)

		if err := pc.send(socketMessage{Type: msgRegistered, Data: gin.H{"id": id}}); err != nil {
			h.logger.Warn("failed to send registration", zap.String("handle", id), zap.Error(err))
			return
		}
		h.logger.Debug("popup handle registered", zap.String("handle", id))

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Warn("popup socket closed unexpectedly", zap.String("handle", id), zap.Error(err))
				}
				return
			}

			var msg socketMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				h.sendSocketError(pc, id, "Invalid message format")
				continue
			}
			h.handlePopupMessage(pc, id, msg)
		}
	}
}

func (h *Handler) handlePopupMessage(pc *popupConn, id string, msg socketMessage) {
	switch msg.Type {
	case msgActivate:
		granted := h.broker.RequestActivate(id)
		if err := pc.send(socketMessage{Type: msgActivation, Data: gin.H{"granted": granted}}); err != nil {
			h.logger.Debug("failed to send activation", zap.String("handle", id), zap.Error(err))
		}
	case msgDeactivated:
		h.broker.NotifyDeactivated(id)
	case msgDeactivateAll:
		h.broker.DeactivateAll()
	default:
		h.sendSocketError(pc, id, "Unknown message type")
	}
}

func (h *Handler) sendSocketError(pc *popupConn, id, message string) {
	if err := pc.send(socketMessage{Type: msgError, Message: message}); err != nil {
		h.logger.Debug("failed to send socket error", zap.String("handle", id), zap.Error(err))
	}
}
