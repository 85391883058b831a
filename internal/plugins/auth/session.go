package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lightfoxmanga/lightfox/internal/apperror"
	"github.com/lightfoxmanga/lightfox/internal/config"
	"github.com/lightfoxmanga/lightfox/internal/store"
)

// Store keys for session state. The current-session record is keyed by
// the session token; the historical list is a single shared document.
const (
	sessionsKey       = "sessions"
	currentSessionKey = "current_session:"
	legacyFlagKey     = "legacy:flag:"
	legacyUserKey     = "legacy:user:"
)

// sessionTokenBytes is the number of random bytes in a session token.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const sessionTokenBytes = 32

// SessionManager creates, validates, and destroys sessions. It is always
// backed by the persistent store, regardless of which user directory is
// active. Validation resolves the session's user against whichever
// directory the caller passes in.
type SessionManager struct {
	store *store.Store
	cfg   config.AuthConfig
}

// NewSessionManager creates a session manager over the given store.
func NewSessionManager(st *store.Store, cfg config.AuthConfig) *SessionManager {
	return &SessionManager{store: st, cfg: cfg}
}

// Create issues a new session for the user on the given device: writes
// the current-session record keyed by a fresh random token, appends a
// historical entry, and mirrors the legacy compatibility identity.
// Expiry is RememberTTL for remembered sessions, SessionTTL otherwise.
func (m *SessionManager) Create(ctx context.Context, user *User, deviceID string, remember bool) (string, *Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}

	now := time.Now().UTC()
	ttl := m.cfg.SessionTTL
	if remember {
		ttl = m.cfg.RememberTTL
	}

	session := &Session{
		UserID:    user.ID,
		DeviceID:  deviceID,
		LoginTime: now,
		Remember:  remember,
		ExpiresAt: now.Add(ttl),
	}

	if err := m.store.PutJSON(ctx, currentSessionKey+token, session); err != nil {
		return "", nil, fmt.Errorf("storing session: %w", err)
	}

	// Append to the historical sessions list with a fresh entry id.
	entry := SessionEntry{ID: uuid.NewString(), Session: *session}
	err = m.store.Update(ctx, sessionsKey, func(raw []byte) (any, error) {
		return append(decodeEntries(raw), entry), nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("recording session history: %w", err)
	}

	if err := m.writeLegacy(ctx, user, deviceID); err != nil {
		// Legacy mirror is best-effort; old pages just see logged-out.
		slog.Warn("failed to update legacy identity",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	return token, session, nil
}

// Authenticate resolves the session behind token against the given
// directory. The session is valid only if it exists, its user exists,
// and that user still owns the session's device. On a failed user or
// device lookup the session is destroyed as a side effect -- this is
// deliberately not a read-only check.
//
// Returns (nil, nil) for a missing or invalidated session.
func (m *SessionManager) Authenticate(ctx context.Context, dir Directory, token string) (*User, error) {
	session, err := m.current(ctx, token)
	if err != nil || session == nil {
		return nil, err
	}

	if m.cfg.EnforceExpiry && time.Now().After(session.ExpiresAt) {
		if err := m.Logout(ctx, token); err != nil {
			return nil, err
		}
		return nil, nil
	}

	user, err := dir.FindByID(ctx, session.UserID)
	if err != nil {
		if apperror.IsNotFound(err) {
			// User no longer exists: discard the stale session.
			if lerr := m.Logout(ctx, token); lerr != nil {
				return nil, lerr
			}
			return nil, nil
		}
		return nil, err
	}

	if user.Device(session.DeviceID) == nil {
		// Device was unlinked: discard the stale session.
		if err := m.Logout(ctx, token); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return user, nil
}

// Current returns the raw current-session record for token, or nil.
// No validation is performed; callers wanting the device/user checks use
// Authenticate.
func (m *SessionManager) Current(ctx context.Context, token string) (*Session, error) {
	return m.current(ctx, token)
}

func (m *SessionManager) current(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	var session Session
	ok, err := m.store.GetJSON(ctx, currentSessionKey+token, &session)
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// Logout destroys the session behind token: historical entries matching
// the session's exact (user, device) pair are pruned, the current-session
// record is deleted, and the legacy compatibility keys are cleared.
// Calling it without a live session is a no-op.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	session, err := m.current(ctx, token)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	err = m.store.Update(ctx, sessionsKey, func(raw []byte) (any, error) {
		entries := decodeEntries(raw)
		kept := entries[:0]
		for _, e := range entries {
			if e.UserID == session.UserID && e.DeviceID == session.DeviceID {
				continue
			}
			kept = append(kept, e)
		}
		return kept, nil
	})
	if err != nil {
		return fmt.Errorf("pruning session history: %w", err)
	}

	return m.store.Delete(ctx,
		currentSessionKey+token,
		legacyFlagKey+session.DeviceID,
		legacyUserKey+session.DeviceID,
	)
}

// History returns every historical session entry. Used by the admin
// dashboard's statistics.
func (m *SessionManager) History(ctx context.Context) ([]SessionEntry, error) {
	var entries []SessionEntry
	if _, err := m.store.GetJSON(ctx, sessionsKey, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// writeLegacy mirrors the minimal identity record old pages read,
// keyed by the device fingerprint that stands in for the client context.
func (m *SessionManager) writeLegacy(ctx context.Context, user *User, deviceID string) error {
	if err := m.store.PutJSON(ctx, legacyFlagKey+deviceID, "true"); err != nil {
		return err
	}
	return m.store.PutJSON(ctx, legacyUserKey+deviceID, LegacyIdentity{
		ID:       user.ID,
		Name:     user.Username,
		Username: user.Username,
		Email:    user.Email,
	})
}

// decodeEntries decodes the historical sessions list, treating corrupt
// data as empty (the rewrite heals it).
func decodeEntries(raw []byte) []SessionEntry {
	if len(raw) == 0 {
		return nil
	}
	var entries []SessionEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.Warn("discarding corrupt session history", slog.Any("error", err))
		return nil
	}
	return entries
}

// generateSessionToken creates a cryptographically random hex-encoded token.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
