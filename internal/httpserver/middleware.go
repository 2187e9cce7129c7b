package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/wsbroadcast/internal/platform/logging"
)

const correlationHeader = "X-Correlation-ID"

// correlationMiddleware reuses an inbound X-Correlation-ID or mints one.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(correlationHeader)
		if id == "" || len(id) > 64 {
			id = logging.NewCorrelationID()
		}
		c.Response().Header().Set(correlationHeader, id)

		ctx := logging.WithCorrelationID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
