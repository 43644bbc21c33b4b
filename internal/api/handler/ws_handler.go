package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/casetrack/notify-gateway/internal/domain"
	"github.com/casetrack/notify-gateway/internal/registry"
	"github.com/casetrack/notify-gateway/internal/service"
	"github.com/casetrack/notify-gateway/internal/transport"
)

// WSHandler upgrades clients to the push transport. Each accepted socket
// gets its own read-loop goroutine; everything else (auth, registration,
// offline drain, eviction) is the delivery service's decision.
type WSHandler struct {
	svc      *service.DeliveryService
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// readWait bounds how long a socket may stay silent before the read
	// loop gives up; pongs and data frames both reset it. Kept above two
	// heartbeat intervals so the monitor, not the read deadline, is the
	// primary eviction path.
	readWait time.Duration
}

func NewWSHandler(svc *service.DeliveryService, heartbeatInterval time.Duration, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readWait: 3 * heartbeatInterval,
	}
}

// Connect handles GET /ws?token=…
func (h *WSHandler) Connect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	conn, err := h.svc.Connect(r.Context(), token, transport.NewWSConn(ws))
	if err != nil {
		code := websocket.ClosePolicyViolation
		if errors.Is(err, domain.ErrConnectionLimitExceeded) {
			code = websocket.CloseTryAgainLater
		}
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, err.Error()), deadline)
		_ = ws.Close()
		return
	}

	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return ws.SetReadDeadline(time.Now().Add(h.readWait))
	})

	go h.readLoop(ws, conn)
}

// clientFrame is the only inbound message shape the socket accepts.
type clientFrame struct {
	Action         string `json:"action"`
	NotificationID string `json:"notification_id"`
}

// readLoop owns the socket's read side for the connection's whole life.
// It exits on explicit close, transport error, or read-deadline expiry, and
// always unregisters the connection on the way out.
func (h *WSHandler) readLoop(ws *websocket.Conn, conn *registry.Connection) {
	defer h.svc.Disconnect(conn)

	_ = ws.SetReadDeadline(time.Now().Add(h.readWait))

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("socket closed unexpectedly",
					zap.String("recipient_id", conn.RecipientID), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.readWait))

		var frame clientFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue // tolerate junk frames; the socket is not a command channel
		}

		if frame.Action == "mark_read" && frame.NotificationID != "" {
			if err := h.svc.MarkRead(context.Background(), frame.NotificationID, conn.RecipientID); err != nil {
				h.logger.Debug("socket mark_read failed",
					zap.String("notification_id", frame.NotificationID),
					zap.String("recipient_id", conn.RecipientID),
					zap.Error(err))
			}
		}
	}
}
