package auth

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lightfoxmanga/lightfox/internal/apperror"
	"github.com/lightfoxmanga/lightfox/internal/config"
	"github.com/lightfoxmanga/lightfox/internal/store"
)

// --- Mock Directory ---

// mockDirectory implements Directory for testing the service against a
// controllable remote backend.
type mockDirectory struct {
	findByEmailFn func(ctx context.Context, email string) (*User, error)
	findByIDFn    func(ctx context.Context, id string) (*User, error)
	insertFn      func(ctx context.Context, user *User) error
	updateFn      func(ctx context.Context, user *User) error
	listAllFn     func(ctx context.Context) ([]User, error)
}

func (m *mockDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockDirectory) Insert(ctx context.Context, user *User) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, user)
	}
	return nil
}

func (m *mockDirectory) Update(ctx context.Context, user *User) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, user)
	}
	return nil
}

func (m *mockDirectory) ListAll(ctx context.Context) ([]User, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

// --- Test Helpers ---

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		SessionTTL:  24 * time.Hour,
		RememberTTL: 30 * 24 * time.Hour,
		DeviceLimit: 3,
	}
}

// newTestService creates an authService backed by miniredis. When
// remote is non-nil the prober reports remote mode, so the mock
// directory answers directory operations; sessions always live in the
// store.
func newTestService(t *testing.T, remote Directory) (*authService, *LocalDirectory) {
	return newTestServiceWithConfig(t, remote, testAuthConfig())
}

func newTestServiceWithConfig(t *testing.T, remote Directory, cfg config.AuthConfig) (*authService, *LocalDirectory) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.New(rdb)
	local := NewLocalDirectory(st)

	mode := ModeLocal
	if remote != nil {
		mode = ModeRemote
	}

	return &authService{
		cfg:      cfg,
		prober:   NewStaticProber(mode),
		remote:   remote,
		local:    local,
		sessions: NewSessionManager(st, cfg),
		store:    st,
	}, local
}

// testAttrs returns device attributes that fingerprint consistently.
// The suffix varies the fingerprint so tests can mint distinct devices.
func testAttrs(suffix string) DeviceAttrs {
	return DeviceAttrs{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
		Platform:       "Win32",
		Language:       "ru",
		Screen:         "1920x1080",
		TimezoneOffset: -180,
		Timezone:       "Europe/Moscow",
		Entropy:        suffix,
	}
}

// testUser builds a user with a real hash of the given password.
func testUser(t *testing.T, password string) *User {
	t.Helper()
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	return &User{
		ID:           "user-123",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
		IsActive:     true,
		Settings:     DefaultSettings(),
	}
}

// assertAppError checks that err is an *apperror.AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// --- Register Tests ---

func TestRegister_Success(t *testing.T) {
	var created *User
	remote := &mockDirectory{
		insertFn: func(ctx context.Context, user *User) error {
			created = user
			return nil
		},
	}

	svc, _ := newTestService(t, remote)
	token, user, err := svc.Register(context.Background(), RegisterInput{
		Username: "Alice",
		Email:    "Alice@Example.com",
		Password: "secret-123",
		Device:   testAttrs("a"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Error("expected session token")
	}
	if user.Email != "alice@example.com" {
		t.Errorf("expected normalized email, got %s", user.Email)
	}
	if created == nil {
		t.Fatal("expected insert to be called")
	}
	if len(created.Devices) != 1 || !created.Devices[0].RegistrationDevice {
		t.Errorf("expected exactly one registration device, got %+v", created.Devices)
	}
	if !verifyPassword("secret-123", created.PasswordHash) {
		t.Error("expected password hash to verify")
	}
	if created.Settings.Theme == "" {
		t.Error("expected default settings")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return &User{ID: "existing", Email: email}, nil
		},
	}

	svc, _ := newTestService(t, remote)
	_, _, err := svc.Register(context.Background(), RegisterInput{
		Username: "Bob",
		Email:    "taken@example.com",
		Password: "secret-123",
		Device:   testAttrs("b"),
	})
	assertAppError(t, err, 409)
	if !apperror.IsType(err, apperror.TypeDuplicateEmail) {
		t.Errorf("expected %s type, got %v", apperror.TypeDuplicateEmail, err)
	}
}

func TestRegister_RemoteWriteFailureSurfaces(t *testing.T) {
	remote := &mockDirectory{
		insertFn: func(ctx context.Context, user *User) error {
			return &RemoteError{Op: "insert user", Err: driver.ErrBadConn}
		},
	}

	svc, local := newTestService(t, remote)
	_, _, err := svc.Register(context.Background(), RegisterInput{
		Username: "Carol",
		Email:    "carol@example.com",
		Password: "secret-123",
		Device:   testAttrs("c"),
	})
	// Write paths never retry locally: the failure is reported as a
	// remote error and the local store stays untouched.
	assertAppError(t, err, 502)

	users, listErr := local.ListAll(context.Background())
	if listErr != nil {
		t.Fatalf("unexpected error: %v", listErr)
	}
	if len(users) != 0 {
		t.Errorf("expected no local fallback write, found %d users", len(users))
	}
}

// --- Login Tests ---

func TestLogin_Success(t *testing.T) {
	user := testUser(t, "secret-123")
	var updated *User
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
		updateFn: func(ctx context.Context, u *User) error {
			updated = u
			return nil
		},
	}

	svc, _ := newTestService(t, remote)
	token, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "secret-123",
		Device:   testAttrs("a"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Error("expected session token")
	}
	if updated == nil {
		t.Fatal("expected update to be called")
	}
	if updated.Stats.LoginCount != 1 {
		t.Errorf("expected login count 1, got %d", updated.Stats.LoginCount)
	}
	if len(updated.Devices) != 1 {
		t.Errorf("expected device to be registered, got %d devices", len(updated.Devices))
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc, _ := newTestService(t, &mockDirectory{})
	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "nobody@example.com",
		Password: "whatever",
		Device:   testAttrs("a"),
	})
	// Unknown email and wrong password are indistinguishable.
	assertAppError(t, err, 401)
	if !apperror.IsType(err, apperror.TypeInvalidCredentials) {
		t.Errorf("expected %s type, got %v", apperror.TypeInvalidCredentials, err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	user := testUser(t, "secret-123")
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
	}

	svc, _ := newTestService(t, remote)
	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "wrong",
		Device:   testAttrs("a"),
	})
	assertAppError(t, err, 401)
}

func TestLogin_DisabledAccount(t *testing.T) {
	user := testUser(t, "secret-123")
	user.IsActive = false
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
	}

	svc, _ := newTestService(t, remote)
	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "secret-123",
		Device:   testAttrs("a"),
	})
	assertAppError(t, err, 403)
	if !apperror.IsType(err, apperror.TypeAccountDisabled) {
		t.Errorf("expected %s type, got %v", apperror.TypeAccountDisabled, err)
	}
}

func TestLogin_DeviceLimit(t *testing.T) {
	user := testUser(t, "secret-123")
	user.Devices = []Device{
		{ID: "device_aaaa"},
		{ID: "device_bbbb"},
		{ID: "device_cccc"},
	}

	updateCalled := false
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
		updateFn: func(ctx context.Context, u *User) error {
			updateCalled = true
			return nil
		},
	}

	svc, _ := newTestService(t, remote)
	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "secret-123",
		Device:   testAttrs("fourth-device"),
	})
	assertAppError(t, err, 403)
	if !apperror.IsType(err, apperror.TypeDeviceLimit) {
		t.Errorf("expected %s type, got %v", apperror.TypeDeviceLimit, err)
	}

	// The cap rejects before any mutation.
	if updateCalled {
		t.Error("expected no update when the device cap rejects")
	}
	if len(user.Devices) != 3 {
		t.Errorf("expected device list unchanged, got %d devices", len(user.Devices))
	}
}

func TestLogin_KnownDeviceAtLimit(t *testing.T) {
	attrs := testAttrs("known")
	known := DescribeDevice(attrs, time.Now().Add(-time.Hour))

	user := testUser(t, "secret-123")
	user.Devices = []Device{
		known,
		{ID: "device_bbbb"},
		{ID: "device_cccc"},
	}

	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
	}

	svc, _ := newTestService(t, remote)
	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "secret-123",
		Device:   attrs,
	})
	if err != nil {
		t.Fatalf("expected login from a known device to pass the cap, got: %v", err)
	}
	if len(user.Devices) != 3 {
		t.Errorf("expected device count to stay 3, got %d", len(user.Devices))
	}
	if user.Devices[0].LastLoginAt.Before(time.Now().Add(-time.Minute)) {
		t.Error("expected known device last login to be refreshed")
	}
}

func TestLogin_RemoteWriteFailureSurfaces(t *testing.T) {
	user := testUser(t, "secret-123")
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
		updateFn: func(ctx context.Context, u *User) error {
			return &RemoteError{Op: "update user", Err: driver.ErrBadConn}
		},
	}

	svc, _ := newTestService(t, remote)
	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "secret-123",
		Device:   testAttrs("a"),
	})
	assertAppError(t, err, 502)
}

// --- Local Mode Round-Trip ---

func TestRegisterLoginRoundTrip_Local(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, registered, err := svc.Register(ctx, RegisterInput{
		Username: "Dave",
		Email:    "dave@example.com",
		Password: "secret-123",
		Device:   testAttrs("d"),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, logged, err := svc.Login(ctx, LoginInput{
		Email:    "dave@example.com",
		Password: "secret-123",
		Device:   testAttrs("d"),
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	// Same account, not a second record.
	if logged.ID != registered.ID {
		t.Errorf("expected same user ID, got %s and %s", registered.ID, logged.ID)
	}
	if logged.Stats.LoginCount != 2 {
		t.Errorf("expected login count 2 (register + login), got %d", logged.Stats.LoginCount)
	}
	if len(logged.Devices) != 1 {
		t.Errorf("expected one device after same-device login, got %d", len(logged.Devices))
	}
}

// --- CheckAccess Tests ---

func TestCheckAccess_NoSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, result, err := svc.CheckAccess(context.Background(), "no-such-token", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AccessDeniedNoSession {
		t.Errorf("expected AccessDeniedNoSession, got %v", result)
	}
}

func TestCheckAccess_LocalGranted(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	token, registered, err := svc.Register(ctx, RegisterInput{
		Username: "Eve",
		Email:    "eve@example.com",
		Password: "secret-123",
		Device:   testAttrs("e"),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	user, result, err := svc.CheckAccess(ctx, token, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AccessGranted {
		t.Fatalf("expected AccessGranted, got %v", result)
	}
	if user.ID != registered.ID {
		t.Errorf("expected user %s, got %s", registered.ID, user.ID)
	}
}

func TestCheckAccess_NotAdmin(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	token, _, err := svc.Register(ctx, RegisterInput{
		Username: "Frank",
		Email:    "frank@example.com",
		Password: "secret-123",
		Device:   testAttrs("f"),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, result, err := svc.CheckAccess(ctx, token, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AccessDeniedNotAdmin {
		t.Errorf("expected AccessDeniedNotAdmin, got %v", result)
	}
}

func TestCheckAccess_DeactivatedUserDenied(t *testing.T) {
	svc, local := newTestService(t, nil)
	ctx := context.Background()

	token, registered, err := svc.Register(ctx, RegisterInput{
		Username: "Kim",
		Email:    "kim@example.com",
		Password: "secret-123",
		Device:   testAttrs("k"),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Deactivate behind the session's back.
	user, err := local.FindByID(ctx, registered.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user.IsActive = false
	if err := local.Update(ctx, user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, result, err := svc.CheckAccess(ctx, token, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AccessDeniedNoSession {
		t.Errorf("expected AccessDeniedNoSession for deactivated user, got %v", result)
	}

	session, err := svc.sessions.Current(ctx, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Error("expected deactivated user's session to be destroyed")
	}
}

func TestCheckAccess_RemoteFailureDoesNotFallBack(t *testing.T) {
	user := testUser(t, "secret-123")
	calls := 0
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
		findByIDFn: func(ctx context.Context, id string) (*User, error) {
			calls++
			return nil, &RemoteError{Op: "find user by id", Err: driver.ErrBadConn}
		},
	}

	svc, local := newTestService(t, remote)
	ctx := context.Background()

	// Seed the local store so a wrong fallback would find the user.
	if err := local.Insert(ctx, user); err != nil {
		t.Fatalf("seeding local store: %v", err)
	}

	token, _, err := svc.Login(ctx, LoginInput{
		Email:    "alice@example.com",
		Password: "secret-123",
		Device:   testAttrs("a"),
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	_, _, err = svc.CheckAccess(ctx, token, true)
	assertAppError(t, err, 502)
	if calls != 1 {
		t.Errorf("expected a single remote lookup, got %d", calls)
	}
}

func TestCheckAccess_RemoteUnlinkedDeviceDenied(t *testing.T) {
	user := testUser(t, "secret-123")
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
		findByIDFn: func(ctx context.Context, id string) (*User, error) {
			// The remote copy has had its devices cleared, as if an
			// admin removed them from another client.
			stripped := *user
			stripped.Devices = nil
			return &stripped, nil
		},
	}

	svc, _ := newTestService(t, remote)
	ctx := context.Background()

	token, _, err := svc.Login(ctx, LoginInput{
		Email:    "alice@example.com",
		Password: "secret-123",
		Device:   testAttrs("a"),
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	got, result, err := svc.CheckAccess(ctx, token, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AccessDeniedNoSession || got != nil {
		t.Errorf("expected denial for an unlinked device, got result=%v user=%+v", result, got)
	}

	session, err := svc.sessions.Current(ctx, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Error("expected stale session to be destroyed")
	}
}

func TestCheckAccess_RemoteDeletedUserDenied(t *testing.T) {
	user := testUser(t, "secret-123")
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
		findByIDFn: func(ctx context.Context, id string) (*User, error) {
			return nil, apperror.NewNotFound("user not found")
		},
	}

	svc, _ := newTestService(t, remote)
	ctx := context.Background()

	token, _, err := svc.Login(ctx, LoginInput{
		Email:    "alice@example.com",
		Password: "secret-123",
		Device:   testAttrs("a"),
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	_, result, err := svc.CheckAccess(ctx, token, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AccessDeniedNoSession {
		t.Errorf("expected denial for a deleted user, got %v", result)
	}

	session, err := svc.sessions.Current(ctx, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Error("expected stale session to be destroyed")
	}
}

func TestCheckAccess_RemoteExpiryEnforced(t *testing.T) {
	user := testUser(t, "secret-123")
	remote := &mockDirectory{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return user, nil
		},
		findByIDFn: func(ctx context.Context, id string) (*User, error) {
			return user, nil
		},
	}

	cfg := testAuthConfig()
	cfg.EnforceExpiry = true
	cfg.SessionTTL = -time.Hour

	svc, _ := newTestServiceWithConfig(t, remote, cfg)
	ctx := context.Background()

	token, _, err := svc.Login(ctx, LoginInput{
		Email:    "alice@example.com",
		Password: "secret-123",
		Device:   testAttrs("a"),
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	_, result, err := svc.CheckAccess(ctx, token, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != AccessDeniedNoSession {
		t.Errorf("expected expired session to be rejected, got %v", result)
	}

	session, err := svc.sessions.Current(ctx, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Error("expected expired session to be destroyed")
	}
}

// --- Read Path Fallback Tests ---

func TestGetAllUsers_RemoteTransportFallsBackToLocal(t *testing.T) {
	remote := &mockDirectory{
		listAllFn: func(ctx context.Context) ([]User, error) {
			return nil, &RemoteError{Op: "list users", Err: driver.ErrBadConn}
		},
	}

	svc, local := newTestService(t, remote)
	ctx := context.Background()

	if err := local.EnsureDemo(ctx); err != nil {
		t.Fatalf("seeding demo account: %v", err)
	}

	users, err := svc.GetAllUsers(ctx)
	if err != nil {
		t.Fatalf("expected local fallback, got error: %v", err)
	}
	if len(users) != 1 || users[0].ID != DemoUserID {
		t.Errorf("expected demo user from local fallback, got %+v", users)
	}
}

func TestGetAllUsers_RemoteDomainErrorSurfaces(t *testing.T) {
	remote := &mockDirectory{
		listAllFn: func(ctx context.Context) ([]User, error) {
			return nil, &RemoteError{Op: "list users", Err: errors.New("syntax error")}
		},
	}

	svc, _ := newTestService(t, remote)
	_, err := svc.GetAllUsers(context.Background())
	// A reachable backend that answered with an error is not a reason
	// to fall back.
	assertAppError(t, err, 502)
}

// --- Admin Mutation Tests ---

func TestToggleUserStatus_ForcesLogoutOfCurrentSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	token, registered, err := svc.Register(ctx, RegisterInput{
		Username: "Grace",
		Email:    "grace@example.com",
		Password: "secret-123",
		Device:   testAttrs("g"),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	toggled, err := svc.ToggleUserStatus(ctx, token, registered.ID)
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if toggled.IsActive {
		t.Error("expected user to be deactivated")
	}

	// The deactivated user's own session is gone.
	session, err := svc.sessions.Current(ctx, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Error("expected forced logout after deactivation")
	}
}

func TestToggleUserStatus_ReactivationKeepsSession(t *testing.T) {
	svc, local := newTestService(t, nil)
	ctx := context.Background()

	if err := local.EnsureDemo(ctx); err != nil {
		t.Fatalf("seeding demo account: %v", err)
	}

	adminToken, _, err := svc.Login(ctx, LoginInput{
		Email:    DemoEmail,
		Password: "123456",
		Device:   testAttrs("admin"),
	})
	if err != nil {
		t.Fatalf("demo login failed: %v", err)
	}

	_, other, err := svc.Register(ctx, RegisterInput{
		Username: "Heidi",
		Email:    "heidi@example.com",
		Password: "secret-123",
		Device:   testAttrs("h"),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Deactivate then reactivate someone else.
	if _, err := svc.ToggleUserStatus(ctx, adminToken, other.ID); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	reactivated, err := svc.ToggleUserStatus(ctx, adminToken, other.ID)
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if !reactivated.IsActive {
		t.Error("expected user to be reactivated")
	}

	// The admin's own session survives throughout.
	session, err := svc.sessions.Current(ctx, adminToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session == nil {
		t.Error("expected admin session to survive toggling another user")
	}
}

func TestRemoveDevice_ForcesLogoutOfMatchingSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	token, registered, err := svc.Register(ctx, RegisterInput{
		Username: "Ivan",
		Email:    "ivan@example.com",
		Password: "secret-123",
		Device:   testAttrs("i"),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	deviceID := registered.Devices[0].ID
	updated, err := svc.RemoveDevice(ctx, token, registered.ID, deviceID)
	if err != nil {
		t.Fatalf("remove device failed: %v", err)
	}
	if len(updated.Devices) != 0 {
		t.Errorf("expected no devices left, got %d", len(updated.Devices))
	}

	session, err := svc.sessions.Current(ctx, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Error("expected forced logout after removing the session device")
	}
}

func TestRemoveDevice_OtherDeviceKeepsSession(t *testing.T) {
	svc, local := newTestService(t, nil)
	ctx := context.Background()

	token, registered, err := svc.Register(ctx, RegisterInput{
		Username: "Judy",
		Email:    "judy@example.com",
		Password: "secret-123",
		Device:   testAttrs("j1"),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Attach a second device directly.
	user, err := local.FindByID(ctx, registered.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := DescribeDevice(testAttrs("j2"), time.Now())
	user.Devices = append(user.Devices, second)
	if err := local.Update(ctx, user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.RemoveDevice(ctx, token, registered.ID, second.ID); err != nil {
		t.Fatalf("remove device failed: %v", err)
	}

	session, err := svc.sessions.Current(ctx, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session == nil {
		t.Error("expected session to survive removing a different device")
	}
}

// --- Stats Tests ---

func TestUsersStats(t *testing.T) {
	svc, local := newTestService(t, nil)
	ctx := context.Background()

	if err := local.EnsureDemo(ctx); err != nil {
		t.Fatalf("seeding demo account: %v", err)
	}

	adminToken, _, err := svc.Login(ctx, LoginInput{
		Email:    DemoEmail,
		Password: "123456",
		Device:   testAttrs("admin"),
	})
	if err != nil {
		t.Fatalf("demo login failed: %v", err)
	}

	_, registered, err := svc.Register(ctx, RegisterInput{
		Username: "Mallory",
		Email:    "mallory@example.com",
		Password: "secret-123",
		Device:   testAttrs("m"),
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := svc.ToggleUserStatus(ctx, adminToken, registered.ID); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	stats, err := svc.UsersStats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalUsers != 2 {
		t.Errorf("expected 2 users, got %d", stats.TotalUsers)
	}
	if stats.ActiveUsers != 1 || stats.BlockedUsers != 1 {
		t.Errorf("expected 1 active / 1 blocked, got %d / %d", stats.ActiveUsers, stats.BlockedUsers)
	}
	// Demo account ships with two donations totalling 1500.
	if stats.TotalDonations != 1500 {
		t.Errorf("expected 1500 total donations, got %d", stats.TotalDonations)
	}
	// Demo login plus Mallory's registration session.
	if stats.TotalSessions != 2 {
		t.Errorf("expected 2 sessions in history, got %d", stats.TotalSessions)
	}
}

// --- Mode Tests ---

func TestMode(t *testing.T) {
	svc, _ := newTestService(t, &mockDirectory{})
	if got := svc.Mode(context.Background()); got != ModeRemote {
		t.Errorf("expected remote mode, got %v", got)
	}

	svc, _ = newTestService(t, nil)
	if got := svc.Mode(context.Background()); got != ModeLocal {
		t.Errorf("expected local mode, got %v", got)
	}
}
