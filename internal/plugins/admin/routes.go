package admin

import (
	"github.com/labstack/echo/v4"

	"github.com/lightfoxmanga/lightfox/internal/plugins/auth"
)

// RegisterRoutes sets up all admin routes on the given Echo instance.
// The whole group runs behind the admin middleware. Returns the group
// so other plugins can register additional admin routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authService auth.AuthService) *echo.Group {
	g := e.Group("/api/admin", auth.RequireAdmin(authService))

	g.GET("/stats", h.Stats)
	g.GET("/users", h.Users)
	g.POST("/users/:id/toggle", h.ToggleUser)
	g.DELETE("/users/:id/devices/:deviceID", h.RemoveDevice)
	g.GET("/mode", h.Mode)
	g.GET("/events", h.Events)

	return g
}
