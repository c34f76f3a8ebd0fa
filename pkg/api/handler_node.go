package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// nodeIDHandler handles GET node/id (spec §6 "text/plain, multibase-encoded
// node identity").
func (s *Server) nodeIDHandler(c *echo.Context) error {
	return c.String(http.StatusOK, s.node.String())
}
