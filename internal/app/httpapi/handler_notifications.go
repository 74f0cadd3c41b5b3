package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/servimap/servimap/internal/httputil"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	items, err := h.app.Notifications.List(r.Context(), callerFrom(r).ID, unread, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Notifications.MarkRead(r.Context(), callerFrom(r).ID, pathID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

// streamNotifications upgrades to a websocket and pushes the caller's
// notifications as JSON frames until either side goes away.
func (h *handler) streamNotifications(w http.ResponseWriter, r *http.Request) {
	userID := callerFrom(r).ID

	// Subscribe before upgrading so broker errors still get a JSON response.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed, err := h.app.Notifications.Subscribe(ctx, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.WithContext(r.Context())
	log.Debug("notification stream opened")

	// Reader: clients send nothing meaningful, but reading processes pongs
	// and surfaces the close frame.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			log.Debug("notification stream closed")
			return
		case n, ok := <-feed:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
