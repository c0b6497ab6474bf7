package main

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func (a *App) newStreamUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkStreamOrigin,
	}
}

// checkStreamOrigin accepts same-host pages and the CORS origins.
func (a *App) checkStreamOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if a.isAllowedCORSOrigin(origin) {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

// streamHandler pushes the session's toasts and geocoded addresses to the
// browser until either side closes the socket.
func (a *App) streamHandler(c *gin.Context) {
	ws := workspaceFromContext(c)
	if ws == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Sign in required", "view": ViewLogin})
		return
	}
	events, unsubscribe := ws.Subscribe()
	defer unsubscribe()

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.log.Warn("stream upgrade failed", "session_id", ws.ID(), "err", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if current := ws.Notification(); current != nil {
		if err := writeStreamEvent(conn, SessionEvent{Type: eventNotification, Notification: current}); err != nil {
			return
		}
	}

	ping := a.clock.Ticker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(streamWriteTimeout))
				return
			}
			if err := writeStreamEvent(conn, event); err != nil {
				a.log.Debug("stream write failed", "session_id", ws.ID(), "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func writeStreamEvent(conn *websocket.Conn, event SessionEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}
