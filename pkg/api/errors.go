package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/edgemesh/axcore/pkg/eventstore"
	"github.com/edgemesh/axcore/pkg/query"
)

// requestError maps a failure to an HTTP 4xx with a structured {code,
// message} body (spec §7 "request errors ... surface as {code, message}
// JSON with HTTP 4xx. Never terminate the server").
func requestError(status int, code, message string) error {
	return echo.NewHTTPError(status, &errorBody{Code: code, Message: message})
}

// mapStoreError maps an eventstore/query failure to an HTTP error response.
func mapStoreError(err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	switch {
	case errors.Is(err, eventstore.ErrUpperBoundNotPresent):
		return requestError(http.StatusBadRequest, "malformedOffsetMap", err.Error())
	case errors.Is(err, eventstore.ErrClosed):
		return requestError(http.StatusServiceUnavailable, "storeClosed", err.Error())
	case errors.Is(err, query.ErrParse):
		return requestError(http.StatusBadRequest, "invalidQuery", err.Error())
	case errors.Is(err, query.ErrFeatureNotDeclared):
		return requestError(http.StatusBadRequest, "unknownFeature", err.Error())
	default:
		slog.Error("axcore: unexpected store error", "error", err)
		return requestError(http.StatusInternalServerError, "internal", "internal error")
	}
}
