// Package admin provides the site administration API. Admin routes
// require the site admin flag (users.is_admin) and cover user
// management, directory statistics, and backend mode reporting.
package admin

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lightfoxmanga/lightfox/internal/apperror"
	"github.com/lightfoxmanga/lightfox/internal/plugins/auth"
	"github.com/lightfoxmanga/lightfox/internal/store"
)

// usersChangedChannel mirrors the channel the auth service publishes
// user-list mutations on.
const usersChangedChannel = "users_updated"

// Handler handles admin dashboard HTTP requests. All business logic
// lives in the auth service; the handler only shapes responses.
type Handler struct {
	authService auth.AuthService
	store       *store.Store
}

// NewHandler creates a new admin handler.
func NewHandler(authService auth.AuthService, st *store.Store) *Handler {
	return &Handler{authService: authService, store: st}
}

// Stats returns directory-wide aggregates (GET /api/admin/stats).
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.authService.UsersStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// Users lists every user as an admin summary (GET /api/admin/users).
func (h *Handler) Users(c echo.Context) error {
	users, err := h.authService.GetAllUsers(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"users": users,
		"total": len(users),
	})
}

// ToggleUser flips a user's active flag (POST /api/admin/users/:id/toggle).
// Deactivating the admin's own account logs them out as a side effect.
func (h *Handler) ToggleUser(c echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return apperror.NewBadRequest("user id is required")
	}

	token := sessionToken(c)
	user, err := h.authService.ToggleUserStatus(c.Request().Context(), token, userID)
	if err != nil {
		return err
	}

	slog.Info("admin toggled user status",
		slog.String("admin_id", auth.GetUserID(c)),
		slog.String("user_id", user.ID),
		slog.Bool("is_active", user.IsActive),
	)

	return c.JSON(http.StatusOK, map[string]any{
		"user": user.Sanitized(),
	})
}

// RemoveDevice unlinks a device from a user
// (DELETE /api/admin/users/:id/devices/:deviceID).
func (h *Handler) RemoveDevice(c echo.Context) error {
	userID := c.Param("id")
	deviceID := c.Param("deviceID")
	if userID == "" || deviceID == "" {
		return apperror.NewBadRequest("user id and device id are required")
	}

	token := sessionToken(c)
	user, err := h.authService.RemoveDevice(c.Request().Context(), token, userID, deviceID)
	if err != nil {
		return err
	}

	slog.Info("admin removed device",
		slog.String("admin_id", auth.GetUserID(c)),
		slog.String("user_id", user.ID),
		slog.String("device_id", deviceID),
	)

	return c.JSON(http.StatusOK, map[string]any{
		"user": user.Sanitized(),
	})
}

// Mode reports which backend currently answers directory operations
// (GET /api/admin/mode).
func (h *Handler) Mode(c echo.Context) error {
	mode := h.authService.Mode(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]string{
		"mode": mode.String(),
	})
}

// Events streams user-list change notifications over SSE
// (GET /api/admin/events). Dashboards refresh their user table when an
// event arrives instead of polling.
func (h *Handler) Events(c echo.Context) error {
	ctx := c.Request().Context()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	sub := h.store.Subscribe(ctx, usersChangedChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(resp, "event: users_updated\ndata: %s\n\n", msg.Payload); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

// sessionToken reads the caller's session cookie so forced-logout side
// effects can compare against the acting admin's own session.
func sessionToken(c echo.Context) string {
	cookie, err := c.Cookie("lightfox_session")
	if err != nil || cookie == nil {
		return ""
	}
	return cookie.Value
}
