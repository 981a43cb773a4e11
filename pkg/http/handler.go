package http

import "github.com/labstack/echo/v4"

// Handler registers a group of routes on the server's Echo instance. The
// server mounts exactly one handler; middleware and the metrics endpoint are
// its own concern.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
