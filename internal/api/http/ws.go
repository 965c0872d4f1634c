package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/buzzer/internal/api/http/converter"
	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/internal/service"
	"github.com/immxrtalbeast/buzzer/lib/logger/sl"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WatchRoom streams room snapshots over a websocket until either side goes away.
// Clients send nothing but control frames; anything else is ignored.
func (c *RoomController) WatchRoom(ctx *gin.Context) {
	const op = "api.http.room.watch"

	code, ok := roomCodeParam(ctx)
	if !ok {
		return
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("failed to upgrade connection", slog.String("op", op), sl.Err(err))
		return
	}

	clientID := uuid.NewString()
	log := c.log.With(
		slog.String("op", op),
		slog.String("room", code),
		slog.String("client", clientID),
	)

	subCtx, cancel := context.WithCancel(context.Background())
	sub, err := c.rooms.Subscribe(subCtx, code)
	if err != nil {
		cancel()
		log.Error("subscribe failed", sl.Err(err))
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		conn.Close()
		return
	}

	log.Info("watcher connected")
	go readPump(conn, cancel)
	writePump(conn, sub)
	cancel()
	log.Info("watcher disconnected")
}

// readPump only drains control frames and cancels the stream when the peer leaves.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *service.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case room, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(converter.SnapshotToApi(room)); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WatchStatus streams the device's validation status. Browsers cannot set
// headers on a websocket handshake, so the device may come as ?device=.
func (c *ValidationController) WatchStatus(ctx *gin.Context) {
	const op = "api.http.validation.watch"

	if ctx.GetHeader(deviceHeader) == "" {
		ctx.Request.Header.Set(deviceHeader, ctx.Query("device"))
	}
	device, ok := deviceID(ctx)
	if !ok {
		return
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("failed to upgrade connection", slog.String("op", op), sl.Err(err))
		return
	}

	log := c.log.With(slog.String("op", op), slog.String("device", device))

	watchCtx, cancel := context.WithCancel(context.Background())
	statuses := c.validators.For(device).Watch(watchCtx)

	log.Debug("status watcher connected")
	go readPump(conn, cancel)
	writeStatusPump(conn, statuses, cancel)
	log.Debug("status watcher disconnected")
}

func writeStatusPump(conn *websocket.Conn, statuses <-chan domain.ValidationStatus, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case status, ok := <-statuses:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(converter.ValidationToApi(status)); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
