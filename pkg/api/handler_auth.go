package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// authHandler handles POST auth: exchanges an app manifest for a bearer
// token (spec §6).
func (s *Server) authHandler(c *echo.Context) error {
	var manifest AppManifest
	if err := c.Bind(&manifest); err != nil {
		return requestError(http.StatusBadRequest, "malformedManifest", err.Error())
	}
	if manifest.AppID == "" {
		return requestError(http.StatusBadRequest, "malformedManifest", "appId is required")
	}
	token := s.tokens.issue(manifest)
	return c.JSON(http.StatusOK, &AuthResponse{Token: token})
}
