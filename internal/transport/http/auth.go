package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// TokenSource yields the access token of the current session.
// Implemented by session.Manager.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// BearerAuth guards routes that change the session or the notification list.
// The bearer must equal the bridge secret or the signed-in user's access token.
func BearerAuth(secret string, tokens TokenSource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			presented := strings.TrimPrefix(authHeader, "Bearer ")
			if presented == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			if secret != "" && equal(presented, secret) {
				c.Set("caller", "bridge")
				return next(c)
			}
			if tokens != nil {
				if current, err := tokens.Token(c.Request().Context()); err == nil && current != "" && equal(presented, current) {
					c.Set("caller", "session")
					return next(c)
				}
			}

			log.Warn().
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Str("remote", c.RealIP()).
				Msg("rejected bridge request")
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// originPolicy decides which browser origins may open a stream.
type originPolicy struct {
	allowed map[string]bool
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		p.allowed[strings.TrimSuffix(o, "/")] = true
	}
	return p
}

// check reports whether r may be upgraded. Requests without an Origin header
// come from non-browser clients; same-host origins are the bridge itself.
func (p originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if p.allowed[origin] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
