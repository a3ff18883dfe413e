package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"io.eduverse/notifysync/internal/application"
	"io.eduverse/notifysync/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Sessions lets local tools sign the agent in and out.
// Implemented by session.Manager.
type Sessions interface {
	TokenSource
	Login(raw string) (*session.Principal, error)
	Logout() error
}

// Options configures who may reach the bridge.
type Options struct {
	// AllowedOrigins lists browser origins granted CORS and WebSocket access.
	AllowedOrigins []string
	// Secret is accepted as a bearer on protected routes.
	Secret string
}

// Handler holds all HTTP handler methods.
type Handler struct {
	sync     *application.SyncClient
	hub      *Hub
	sessions Sessions
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler creates a new Handler.
func NewHandler(sync *application.SyncClient, hub *Hub, sessions Sessions, opts Options) *Handler {
	policy := newOriginPolicy(opts.AllowedOrigins)
	return &Handler{
		sync:     sync,
		hub:      hub,
		sessions: sessions,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
	}
}

// --- Session ---

type loginRequest struct {
	Token string `json:"token"`
}

// Login POST /session
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token required")
	}
	p, err := h.sessions.Login(req.Token)
	if errors.Is(err, session.ErrInvalidToken) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to sign in")
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, p)
}

// Logout DELETE /session
func (h *Handler) Logout(c echo.Context) error {
	if err := h.sessions.Logout(); err != nil {
		log.Error().Err(err).Msg("failed to sign out")
		return echo.ErrInternalServerError
	}
	return c.NoContent(http.StatusNoContent)
}

// --- State ---

// Snapshot GET /notifications
func (h *Handler) Snapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sync.Snapshot())
}

// UnreadCount GET /notifications/unread-count
func (h *Handler) UnreadCount(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"count": h.sync.Snapshot().UnreadCount})
}

// --- Actions ---

// Refresh POST /notifications/refresh
func (h *Handler) Refresh(c echo.Context) error {
	if err := inactive(h.sync.LoadNotifications(c.Request().Context(), true)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.sync.Snapshot())
}

// LoadMore POST /notifications/load-more
func (h *Handler) LoadMore(c echo.Context) error {
	if err := inactive(h.sync.LoadMore(c.Request().Context())); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.sync.Snapshot())
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

// MarkRead PATCH /notifications/read
func (h *Handler) MarkRead(c echo.Context) error {
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := inactive(h.sync.MarkAsRead(c.Request().Context(), req.IDs...)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkAllRead POST /notifications/read-all
func (h *Handler) MarkAllRead(c echo.Context) error {
	if err := inactive(h.sync.MarkAllAsRead(c.Request().Context())); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete DELETE /notifications/:id
func (h *Handler) Delete(c echo.Context) error {
	if err := inactive(h.sync.DeleteNotification(c.Request().Context(), c.Param("id"))); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// inactive turns ErrNotActive into a 503. Remote failures were already logged
// by the sync client and the optimistic state stands, so they are not errors here.
func inactive(err error) error {
	if errors.Is(err, application.ErrNotActive) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "not signed in")
	}
	return nil
}

// --- Streams ---

// Stream GET /notifications/stream (SSE)
func (h *Handler) Stream(c echo.Context) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sendCh := make(chan Event, 32)
	client := h.hub.Register("sse", sendCh)
	defer h.hub.Unregister(client)

	for _, ev := range h.greeting() {
		if _, err := w.Write(buildSSEMessage(ev)); err != nil {
			return nil
		}
	}
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case ev, ok := <-sendCh:
			if !ok {
				return nil
			}
			if _, err := w.Write(buildSSEMessage(ev)); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			log.Debug().Str("client", client.id).Msg("SSE stream closed by client")
			return nil
		}
	}
}

// Socket GET /notifications/ws, the same events over websocket.
func (h *Handler) Socket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already answered
		return nil
	}
	defer conn.Close()

	sendCh := make(chan Event, 32)
	client := h.hub.Register("ws", sendCh)
	defer h.hub.Unregister(client)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		readPump(conn)
	}()

	for _, ev := range h.greeting() {
		if err := writeWS(conn, ev); err != nil {
			return nil
		}
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sendCh:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return nil
			}
			if err := writeWS(conn, ev); err != nil {
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-gone:
			return nil
		}
	}
}

// greeting is what a new stream receives before live events.
func (h *Handler) greeting() []Event {
	connected, _ := NewEvent(EventConnected, map[string]string{"status": "ok"})
	state, err := NewEvent(EventState, h.sync.Snapshot())
	if err != nil {
		return []Event{connected}
	}
	return []Event{connected, state}
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeWS(conn *websocket.Conn, ev Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"active":     h.sync.Active(),
		"ui_clients": h.hub.ConnectedCount(),
	})
}

// --- Helpers ---

// buildSSEMessage formats an event as an SSE frame.
func buildSSEMessage(ev Event) []byte {
	return []byte("event: " + ev.Name + "\ndata: " + string(ev.Data) + "\n\n")
}
