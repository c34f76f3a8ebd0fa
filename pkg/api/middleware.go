package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders sets standard security response headers on every response.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// appIDKey is the echo.Context store key bearerAuth sets the authenticated
// app id under.
const appIDKey = "appID"

// bearerAuth requires Authorization: Bearer <token> on every route it
// wraps, resolving it through issuer (spec §6 "All other endpoints require
// Authorization: Bearer <token>", spec §7 "token invalid" is a request
// error, not a server abort).
func bearerAuth(issuer *tokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				return requestError(http.StatusUnauthorized, "unauthorized", "missing bearer token")
			}
			token := strings.TrimPrefix(header, prefix)
			manifest, ok := issuer.appFor(token)
			if !ok {
				return requestError(http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			}
			c.Set(appIDKey, manifest.AppID)
			return next(c)
		}
	}
}

func appIDFromContext(c *echo.Context) string {
	if v := c.Get(appIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
