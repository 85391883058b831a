package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lightfoxmanga/lightfox/internal/plugins/admin"
	"github.com/lightfoxmanga/lightfox/internal/plugins/auth"
	"github.com/lightfoxmanga/lightfox/internal/store"
)

// RegisterRoutes wires the plugins together and registers every route.
// This is the single place where all routes are aggregated.
//
// The local directory is seeded with the demo account here so a fresh
// deployment (or one cut off from its database) always has a working
// login.
func (a *App) RegisterRoutes(ctx context.Context) error {
	e := a.Echo

	// Health check endpoint for container health monitoring.
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Shared persistent store over Redis.
	st := store.New(a.Redis)

	// Directories: the remote directory only exists when a database
	// pool was established; the local one is always available.
	var remote auth.Directory
	var prober auth.Prober
	if a.DB != nil {
		remote = auth.NewRemoteDirectory(a.DB)
		prober = auth.NewProber(a.DB)
	} else {
		prober = auth.NewStaticProber(auth.ModeLocal)
	}

	local := auth.NewLocalDirectory(st)
	if err := local.EnsureDemo(ctx); err != nil {
		return fmt.Errorf("seeding demo account: %w", err)
	}

	sessions := auth.NewSessionManager(st, a.Config.Auth)
	authService := auth.NewService(a.Config.Auth, prober, remote, local, sessions, st)

	authHandler := auth.NewHandler(authService)
	auth.RegisterRoutes(e, authHandler, authService)

	adminHandler := admin.NewHandler(authService, st)
	admin.RegisterRoutes(e, adminHandler, authService)

	return nil
}
