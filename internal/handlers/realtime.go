package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/models"
	"github.com/maneesh/qrshare/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// RealtimeHandler streams row changes of one table over a websocket
type RealtimeHandler struct {
	feed     storage.ChangeFeed
	logger   logging.Logger
	upgrader websocket.Upgrader
}

// NewRealtimeHandler creates a new realtime handler
func NewRealtimeHandler(feed storage.ChangeFeed, logger logging.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		feed:   feed,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// devices are not browsers; there is no origin to check
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /realtime/v1/{table}?device_id=
func (rh *RealtimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	if table != models.TableTransfers && table != models.TableNotifications {
		writeError(w, http.StatusNotFound, "unknown table "+table)
		return
	}
	deviceID := r.URL.Query().Get("device_id")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before upgrading so the feed is live once the handshake completes
	sub, err := rh.feed.Subscribe(ctx, table)
	if err != nil {
		rh.logger.Error(ctx, "failed to subscribe", "table", table, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer sub.Close()

	conn, err := rh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rh.logger.Warn(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	rh.logger.Debug(ctx, "realtime client connected", "table", table, "device_id", deviceID)

	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if !ev.Concerns(deviceID) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				rh.logger.Debug(ctx, "realtime client write failed", "error", err)
				return
			}
		}
	}
}
