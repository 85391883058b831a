package auth

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lightfoxmanga/lightfox/internal/apperror"
)

// sessionCookieName is the HTTP cookie used to store the session token.
const sessionCookieName = "lightfox_session"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Handler handles HTTP requests for authentication. Handlers are thin:
// they bind the request, call the service, and render the response. No
// business logic lives here.
type Handler struct {
	service AuthService
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService) *Handler {
	return &Handler{service: service}
}

// Register creates a new account (POST /api/auth/register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if msg := validateRegisterRequest(&req); msg != "" {
		return apperror.NewBadRequest(msg)
	}

	input := RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Device:   req.Device,
	}

	token, user, err := h.service.Register(c.Request().Context(), input)
	if err != nil {
		return err
	}

	setSessionCookie(c, token, false)

	return c.JSON(http.StatusCreated, map[string]any{
		"user": user.Sanitized(),
	})
}

// Login authenticates an account (POST /api/auth/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if msg := validateLoginRequest(&req); msg != "" {
		return apperror.NewBadRequest(msg)
	}

	input := LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Remember: req.Remember,
		Device:   req.Device,
	}

	token, user, err := h.service.Login(c.Request().Context(), input)
	if err != nil {
		return err
	}

	setSessionCookie(c, token, req.Remember)

	return c.JSON(http.StatusOK, map[string]any{
		"user": user.Sanitized(),
	})
}

// Logout destroys the session and clears the cookie (POST /api/auth/logout).
func (h *Handler) Logout(c echo.Context) error {
	token := getSessionToken(c)
	if token != "" {
		// Destroy the session server-side. Ignore errors -- the cookie
		// will be cleared regardless.
		_ = h.service.Logout(c.Request().Context(), token)
	}

	clearSessionCookie(c)

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Me returns the authenticated user (GET /api/auth/me). Mounted behind
// RequireAuth.
func (h *Handler) Me(c echo.Context) error {
	user := GetUser(c)
	if user == nil {
		return apperror.NewUnauthorized("authentication required")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user": user.Sanitized(),
	})
}

// --- Cookie helpers ---

// getSessionToken reads the session token from the cookie.
func getSessionToken(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setSessionCookie sets the session cookie on the response. The cookie
// is HttpOnly, Secure behind TLS, and SameSite=Lax. Remembered logins
// get a 30-day cookie; otherwise it lives for a day, matching the
// server-side session.
func setSessionCookie(c echo.Context, token string, remember bool) {
	maxAge := 24 * 60 * 60
	if remember {
		maxAge = 30 * 24 * 60 * 60
	}

	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// --- Validation helpers ---

// validateRegisterRequest performs basic server-side validation on the
// registration payload. Returns an error message or empty string.
func validateRegisterRequest(req *RegisterRequest) string {
	if strings.TrimSpace(req.Username) == "" {
		return "username is required"
	}
	if len(strings.TrimSpace(req.Username)) < 2 {
		return "username must be at least 2 characters"
	}
	if len(req.Username) > 100 {
		return "username must be at most 100 characters"
	}
	if req.Email == "" {
		return "email is required"
	}
	if !emailPattern.MatchString(req.Email) {
		return "email is invalid"
	}
	if req.Password == "" {
		return "password is required"
	}
	if len(req.Password) < 6 {
		return "password must be at least 6 characters"
	}
	if len(req.Password) > 128 {
		return "password must be at most 128 characters"
	}
	return ""
}

// validateLoginRequest checks the login payload is complete.
func validateLoginRequest(req *LoginRequest) string {
	if req.Email == "" {
		return "email is required"
	}
	if req.Password == "" {
		return "password is required"
	}
	return ""
}
