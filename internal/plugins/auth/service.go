package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lightfoxmanga/lightfox/internal/apperror"
	"github.com/lightfoxmanga/lightfox/internal/config"
	"github.com/lightfoxmanga/lightfox/internal/store"
)

// usersChangedChannel is the pub/sub channel dashboards subscribe to.
// A message is published after every user-list mutation.
const usersChangedChannel = "users_updated"

// AccessResult is the outcome of an access check.
type AccessResult int

const (
	// AccessGranted means the caller holds a valid session (and the admin
	// flag when one was required).
	AccessGranted AccessResult = iota

	// AccessDeniedNoSession means no valid session backs the request.
	AccessDeniedNoSession

	// AccessDeniedNotAdmin means the session is valid but the user lacks
	// the admin flag.
	AccessDeniedNotAdmin
)

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the directories or the
// session manager directly.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (string, *User, error)
	Login(ctx context.Context, input LoginInput) (string, *User, error)
	Logout(ctx context.Context, token string) error
	CheckAccess(ctx context.Context, token string, requireAdmin bool) (*User, AccessResult, error)
	GetAllUsers(ctx context.Context) ([]UserSummary, error)
	ToggleUserStatus(ctx context.Context, token, userID string) (*User, error)
	RemoveDevice(ctx context.Context, token, userID, deviceID string) (*User, error)
	UsersStats(ctx context.Context) (*DirectoryStats, error)
	Mode(ctx context.Context) Mode
}

// DirectoryStats is the aggregate view the admin dashboard renders.
type DirectoryStats struct {
	TotalUsers            int     `json:"total_users"`
	ActiveUsers           int     `json:"active_users"`
	BlockedUsers          int     `json:"blocked_users"`
	TotalSessions         int     `json:"total_sessions"`
	TotalDonations        int     `json:"total_donations"`
	AverageDevicesPerUser float64 `json:"average_devices_per_user"`
}

// authService implements AuthService. It probes backend availability per
// operation, selects the matching directory, and always runs sessions
// through the store-backed session manager.
type authService struct {
	cfg      config.AuthConfig
	prober   Prober
	remote   Directory // nil when the remote directory is unconfigured
	local    *LocalDirectory
	sessions *SessionManager
	store    *store.Store
}

// NewService creates the auth service with its injected dependencies.
// remote may be nil; the prober then reports local mode on every check.
func NewService(cfg config.AuthConfig, prober Prober, remote Directory, local *LocalDirectory, sessions *SessionManager, st *store.Store) AuthService {
	return &authService{
		cfg:      cfg,
		prober:   prober,
		remote:   remote,
		local:    local,
		sessions: sessions,
		store:    st,
	}
}

// directory probes availability and returns the directory for this
// operation. The verdict is never cached across operations.
func (s *authService) directory(ctx context.Context) (Directory, Mode) {
	if s.remote != nil && s.prober.Probe(ctx) == ModeRemote {
		return s.remote, ModeRemote
	}
	return s.local, ModeLocal
}

// Mode reports the backend mode as of this call, for the dashboard's
// indicator.
func (s *authService) Mode(ctx context.Context) Mode {
	_, mode := s.directory(ctx)
	return mode
}

// Register creates a new account: duplicate-email check against the
// active directory, argon2id hash, full default sub-records, the current
// device as the sole (registration) device, and a fresh session.
func (s *authService) Register(ctx context.Context, input RegisterInput) (string, *User, error) {
	dir, mode := s.directory(ctx)

	email := normalizeEmail(input.Email)

	// Duplicate check before the expensive hash. Registration is a write
	// path: a remote failure here surfaces instead of retrying locally.
	if _, err := dir.FindByEmail(ctx, email); err == nil {
		return "", nil, apperror.NewDuplicateEmail()
	} else if !apperror.IsNotFound(err) {
		return "", nil, wrapDirectoryError(err)
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	now := time.Now().UTC()
	device := DescribeDevice(input.Device, now)
	device.RegistrationDevice = true

	user := &User{
		ID:           "user_" + uuid.NewString(),
		Username:     strings.TrimSpace(input.Username),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		RegisteredAt: now,
		LastLoginAt:  now,
		Devices:      []Device{device},
		Settings:     DefaultSettings(),
		Profile: Profile{
			DisplayName: strings.TrimSpace(input.Username),
		},
		Stats: Stats{LoginCount: 1},
	}

	if err := dir.Insert(ctx, user); err != nil {
		if apperror.IsType(err, apperror.TypeDuplicateEmail) {
			return "", nil, err
		}
		return "", nil, wrapDirectoryError(err)
	}

	token, _, err := s.sessions.Create(ctx, user, device.ID, false)
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	s.notifyUsersChanged(ctx)

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("mode", mode.String()),
	)

	return token, user, nil
}

// Login authenticates email+password, enforces the per-account device
// cap for unknown devices, refreshes device and login bookkeeping, and
// issues a session.
func (s *authService) Login(ctx context.Context, input LoginInput) (string, *User, error) {
	dir, mode := s.directory(ctx)

	user, err := dir.FindByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if apperror.IsNotFound(err) {
			// Don't reveal whether the email exists.
			return "", nil, apperror.NewInvalidCredentials()
		}
		return "", nil, wrapDirectoryError(err)
	}

	if !verifyPassword(input.Password, user.PasswordHash) {
		return "", nil, apperror.NewInvalidCredentials()
	}

	if !user.IsActive {
		return "", nil, apperror.NewAccountDisabled()
	}

	now := time.Now().UTC()
	device := DescribeDevice(input.Device, now)

	existing := user.Device(device.ID)
	if existing == nil && len(user.Devices) >= s.cfg.DeviceLimit {
		// The cap rejects before any mutation: the existing devices stay
		// exactly as they were.
		return "", nil, apperror.NewDeviceLimit(s.cfg.DeviceLimit)
	}

	if existing == nil {
		user.Devices = append(user.Devices, device)
	} else {
		existing.LastLoginAt = now
	}

	user.LastLoginAt = now
	user.Stats.LoginCount++

	// Login is a write path: a remote failure surfaces to the caller
	// rather than silently retrying against the local store.
	if err := dir.Update(ctx, user); err != nil {
		return "", nil, wrapDirectoryError(err)
	}

	token, _, err := s.sessions.Create(ctx, user, device.ID, input.Remember)
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	s.notifyUsersChanged(ctx)

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("device_id", device.ID),
		slog.String("mode", mode.String()),
	)

	return token, user, nil
}

// Logout destroys the caller's session. Safe to call repeatedly.
func (s *authService) Logout(ctx context.Context, token string) error {
	return s.sessions.Logout(ctx, token)
}

// CheckAccess probes the backend mode and resolves the caller's identity
// accordingly. Both modes run the session manager's authenticated lookup,
// which validates the session's user and device (and expiry, when
// enforcement is on) against the probed directory. In remote mode a
// remote failure is reported as-is and deliberately does NOT fall back
// to the local directory.
func (s *authService) CheckAccess(ctx context.Context, token string, requireAdmin bool) (*User, AccessResult, error) {
	dir, _ := s.directory(ctx)

	// No local retry here, even for transport failures: an access check
	// that cannot be answered remotely fails as a generic check failure.
	user, err := s.sessions.Authenticate(ctx, dir, token)
	if err != nil {
		return nil, AccessDeniedNoSession, wrapDirectoryError(err)
	}
	if user == nil {
		return nil, AccessDeniedNoSession, nil
	}

	if !user.IsActive {
		// A deactivated account loses access on its next check, even
		// when its session on another device was never force-closed.
		if err := s.sessions.Logout(ctx, token); err != nil {
			return nil, AccessDeniedNoSession, apperror.NewInternal(err)
		}
		return nil, AccessDeniedNoSession, nil
	}

	if requireAdmin && !user.IsAdmin {
		// Absent or falsy admin flag means "not authorized", not an error.
		return nil, AccessDeniedNotAdmin, nil
	}

	return user, AccessGranted, nil
}

// GetAllUsers lists every user as an admin summary. This is a read
// path: a remote transport failure retries against the local directory.
func (s *authService) GetAllUsers(ctx context.Context) ([]UserSummary, error) {
	users, err := s.listUsers(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, Summarize(u))
	}
	return summaries, nil
}

// listUsers implements the shared read path with local retry.
func (s *authService) listUsers(ctx context.Context) ([]User, error) {
	dir, mode := s.directory(ctx)

	users, err := dir.ListAll(ctx)
	if err == nil {
		return users, nil
	}

	if mode == ModeRemote && IsRemoteTransport(err) {
		slog.Warn("remote list failed, retrying against local store",
			slog.Any("error", err),
		)
		return s.local.ListAll(ctx)
	}

	return nil, wrapDirectoryError(err)
}

// ToggleUserStatus flips a user's active flag. Deactivating the user
// bound to the caller's current session forces a logout as a side
// effect.
func (s *authService) ToggleUserStatus(ctx context.Context, token, userID string) (*User, error) {
	dir, _ := s.directory(ctx)

	user, err := dir.FindByID(ctx, userID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, err
		}
		return nil, wrapDirectoryError(err)
	}

	user.IsActive = !user.IsActive

	if err := dir.Update(ctx, user); err != nil {
		return nil, wrapDirectoryError(err)
	}

	if !user.IsActive {
		if err := s.logoutIfCurrent(ctx, token, user.ID, ""); err != nil {
			return nil, err
		}
	}

	s.notifyUsersChanged(ctx)

	slog.Info("user status toggled",
		slog.String("user_id", user.ID),
		slog.Bool("is_active", user.IsActive),
	)

	return user, nil
}

// RemoveDevice unlinks a device from a user. Removing the device behind
// the caller's current session forces a logout as a side effect.
func (s *authService) RemoveDevice(ctx context.Context, token, userID, deviceID string) (*User, error) {
	dir, _ := s.directory(ctx)

	user, err := dir.FindByID(ctx, userID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, err
		}
		return nil, wrapDirectoryError(err)
	}

	kept := user.Devices[:0]
	for _, d := range user.Devices {
		if d.ID != deviceID {
			kept = append(kept, d)
		}
	}
	user.Devices = kept

	if err := dir.Update(ctx, user); err != nil {
		return nil, wrapDirectoryError(err)
	}

	if err := s.logoutIfCurrent(ctx, token, userID, deviceID); err != nil {
		return nil, err
	}

	s.notifyUsersChanged(ctx)

	slog.Info("device removed",
		slog.String("user_id", userID),
		slog.String("device_id", deviceID),
	)

	return user, nil
}

// UsersStats aggregates directory-wide statistics for the dashboard.
// Read path: remote transport failures retry locally.
func (s *authService) UsersStats(ctx context.Context) (*DirectoryStats, error) {
	users, err := s.listUsers(ctx)
	if err != nil {
		return nil, err
	}

	history, err := s.sessions.History(ctx)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	stats := &DirectoryStats{
		TotalUsers:    len(users),
		TotalSessions: len(history),
	}

	totalDevices := 0
	for _, u := range users {
		if u.IsActive {
			stats.ActiveUsers++
		} else {
			stats.BlockedUsers++
		}
		totalDevices += len(u.Devices)
		for _, d := range u.DonationHistory {
			stats.TotalDonations += d.Amount
		}
	}

	if len(users) > 0 {
		stats.AverageDevicesPerUser = float64(totalDevices) / float64(len(users))
	}

	return stats, nil
}

// logoutIfCurrent destroys the caller's session when the acted-upon
// user (and device, if given) matches it.
func (s *authService) logoutIfCurrent(ctx context.Context, token, userID, deviceID string) error {
	session, err := s.sessions.Current(ctx, token)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if session == nil || session.UserID != userID {
		return nil
	}
	if deviceID != "" && session.DeviceID != deviceID {
		return nil
	}
	if err := s.sessions.Logout(ctx, token); err != nil {
		return apperror.NewInternal(err)
	}
	return nil
}

// notifyUsersChanged publishes the users-changed event. Fire-and-forget:
// a failed publish only means dashboards fall back to manual refresh.
func (s *authService) notifyUsersChanged(ctx context.Context) {
	payload := fmt.Sprintf(`{"at":%q}`, time.Now().UTC().Format(time.RFC3339))
	if err := s.store.Publish(ctx, usersChangedChannel, payload); err != nil {
		slog.Warn("failed to publish users-changed event", slog.Any("error", err))
	}
}

// wrapDirectoryError maps a directory failure onto the client-safe
// taxonomy: remote failures become 502s carrying their cause, already
// typed errors pass through, anything else is internal.
func wrapDirectoryError(err error) error {
	if appErr, ok := err.(*apperror.AppError); ok {
		return appErr
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return apperror.NewRemote(re)
	}
	return apperror.NewInternal(err)
}

// normalizeEmail lowercases and trims the address so lookups and the
// uniqueness check agree.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
