package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kuranet/kuranet/internal/events"
	"github.com/kuranet/kuranet/internal/service"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
)

type LiveHandler struct {
	polls    *service.PollService
	broker   *events.Broker
	upgrader websocket.Upgrader
}

// NewLiveHandler creates a LiveHandler. Browser origins are checked against
// allowedOrigins; "*" allows any origin.
func NewLiveHandler(polls *service.PollService, broker *events.Broker, allowedOrigins []string) *LiveHandler {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &LiveHandler{
		polls:  polls,
		broker: broker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// StreamResults godoc
// @Summary Live results of a poll
// @Description Upgrades to a websocket. Sends the current tally, then {"type":"results"} on every change and {"type":"deleted"} when the poll is removed.
// @Tags polls
// @Param id path string true "Poll ID"
// @Success 101
// @Failure 404 {object} ErrorResponse
// @Router /polls/{id}/live [get]
func (h *LiveHandler) StreamResults(c *gin.Context) {
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	initial, err := h.polls.Results(c.Request.Context(), currentUser(c), pollID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "poll_id", pollID, "error", err)
		return
	}
	defer conn.Close()

	updates := h.broker.Subscribe(pollID)
	defer h.broker.Unsubscribe(pollID, updates)

	first, err := json.Marshal(service.LiveMessage{Type: "results", Data: initial})
	if err != nil {
		return
	}
	if err := writeMessage(conn, first); err != nil {
		return
	}

	// The read loop only handles control frames and notices disconnects
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, open := <-updates:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "poll deleted"),
					time.Now().Add(liveWriteWait))
				return
			}
			if err := writeMessage(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(liveWriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}
