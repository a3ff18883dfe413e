package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"io.eduverse/notifysync/internal/metrics"
)

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	// echo treats an empty origin list as "*"
	if len(h.opts.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: h.opts.AllowedOrigins,
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
			AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		}))
	}

	auth := BearerAuth(h.opts.Secret, h.sessions)

	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.POST("/session", h.Login, auth)
	e.DELETE("/session", h.Logout, auth)

	n := e.Group("/notifications")
	n.GET("", h.Snapshot)
	n.GET("/unread-count", h.UnreadCount)
	n.POST("/refresh", h.Refresh, auth)
	n.POST("/load-more", h.LoadMore, auth)
	n.PATCH("/read", h.MarkRead, auth)
	n.POST("/read-all", h.MarkAllRead, auth)
	n.DELETE("/:id", h.Delete, auth)

	// Streams
	n.GET("/stream", h.Stream)
	n.GET("/ws", h.Socket)

	return e
}
