package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/lightfoxmanga/lightfox/internal/apperror"
)

// Context keys for storing the authenticated identity in Echo context.
// Other plugins use these keys (via the exported getter functions below)
// to access the authenticated user.
const (
	contextKeyUser   = "auth_user"
	contextKeyUserID = "auth_user_id"
)

// RequireAuth returns middleware that resolves the session cookie into a
// user and injects it into the request context. Requests without a valid
// session get a 401 JSON response.
func RequireAuth(service AuthService) echo.MiddlewareFunc {
	return requireAccess(service, false)
}

// RequireAdmin returns middleware that additionally checks the admin
// flag. Authenticated non-admins get a 403 JSON response.
func RequireAdmin(service AuthService) echo.MiddlewareFunc {
	return requireAccess(service, true)
}

func requireAccess(service AuthService, admin bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := getSessionToken(c)
			if token == "" {
				return apperror.NewUnauthorized("authentication required")
			}

			user, result, err := service.CheckAccess(c.Request().Context(), token, admin)
			if err != nil {
				return err
			}

			switch result {
			case AccessDeniedNoSession:
				// Stale cookie -- clear it so the client stops sending it.
				clearSessionCookie(c)
				return apperror.NewUnauthorized("authentication required")
			case AccessDeniedNotAdmin:
				return apperror.NewForbidden("admin access required")
			}

			c.Set(contextKeyUser, user)
			c.Set(contextKeyUserID, user.ID)

			return next(c)
		}
	}
}

// --- Exported getters for other plugins ---

// GetUser retrieves the authenticated user from the Echo context.
// Returns nil if the request is not authenticated (middleware not applied).
func GetUser(c echo.Context) *User {
	user, ok := c.Get(contextKeyUser).(*User)
	if !ok {
		return nil
	}
	return user
}

// GetUserID retrieves the authenticated user's ID from the Echo context.
// Returns empty string if the request is not authenticated.
func GetUserID(c echo.Context) string {
	id, ok := c.Get(contextKeyUserID).(string)
	if !ok {
		return ""
	}
	return id
}
