package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightfoxmanga/lightfox/internal/apperror"
	"github.com/lightfoxmanga/lightfox/internal/store"
)

// usersKey is the store key holding the full local users list.
const usersKey = "users"

// Demo account identifiers. The demo user is seeded on first-ever
// initialization so the site is usable before anyone registers.
const (
	DemoUserID   = "demo_user_123"
	DemoDeviceID = "demo_device_123"
	DemoEmail    = "demo@example.com"
	demoPassword = "123456"
)

// LocalDirectory implements Directory against the persistent store. The
// whole users list is read, mutated, and rewritten on every write; the
// store's optimistic Update keeps concurrent writers from losing data.
// A corrupt stored list reads as an empty directory and heals on the
// next write.
type LocalDirectory struct {
	store *store.Store
}

// NewLocalDirectory creates the local user directory.
func NewLocalDirectory(st *store.Store) *LocalDirectory {
	return &LocalDirectory{store: st}
}

// load reads the users list. Absent or corrupt data yields an empty
// list, never an error surfaced to auth flows.
func (d *LocalDirectory) load(ctx context.Context) ([]User, error) {
	var users []User
	if _, err := d.store.GetJSON(ctx, usersKey, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// decodeList is the read half of a read-modify-write: corrupt data
// decodes as an empty list so the rewrite overwrites it.
func decodeList(raw []byte) []User {
	if len(raw) == 0 {
		return nil
	}
	var users []User
	if err := json.Unmarshal(raw, &users); err != nil {
		slog.Warn("discarding corrupt local users list", slog.Any("error", err))
		return nil
	}
	return users
}

// FindByEmail retrieves a user by email address.
func (d *LocalDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	users, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Email == email {
			return &users[i], nil
		}
	}
	return nil, apperror.NewNotFound("user not found")
}

// FindByID retrieves a user by id.
func (d *LocalDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	users, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			return &users[i], nil
		}
	}
	return nil, apperror.NewNotFound("user not found")
}

// Insert appends a new user to the list.
func (d *LocalDirectory) Insert(ctx context.Context, user *User) error {
	return d.store.Update(ctx, usersKey, func(raw []byte) (any, error) {
		users := decodeList(raw)
		for i := range users {
			if users[i].Email == user.Email {
				return nil, apperror.NewDuplicateEmail()
			}
		}
		return append(users, *user), nil
	})
}

// Update replaces the stored record with the same id.
func (d *LocalDirectory) Update(ctx context.Context, user *User) error {
	return d.store.Update(ctx, usersKey, func(raw []byte) (any, error) {
		users := decodeList(raw)
		for i := range users {
			if users[i].ID == user.ID {
				users[i] = *user
				return users, nil
			}
		}
		return nil, apperror.NewNotFound("user not found")
	})
}

// ListAll returns every local user.
func (d *LocalDirectory) ListAll(ctx context.Context) ([]User, error) {
	return d.load(ctx)
}

// EnsureDemo seeds the well-known demo account if the directory holds
// zero users. Called once at startup; safe to call again.
func (d *LocalDirectory) EnsureDemo(ctx context.Context) error {
	users, err := d.load(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	demo, err := demoUser(time.Now().UTC())
	if err != nil {
		return err
	}
	if err := d.Insert(ctx, demo); err != nil {
		return err
	}

	slog.Info("demo user created",
		slog.String("email", DemoEmail),
	)
	return nil
}

// demoUser builds the seeded demo account: known credentials, one
// registered desktop device, and a small pre-populated history so the
// dashboard has something to show.
func demoUser(now time.Time) (*User, error) {
	hash, err := hashPassword(demoPassword)
	if err != nil {
		return nil, fmt.Errorf("hashing demo password: %w", err)
	}

	return &User{
		ID:           DemoUserID,
		Username:     "DemoUser",
		Email:        DemoEmail,
		PasswordHash: hash,
		IsAdmin:      true,
		IsActive:     true,
		RegisteredAt: now,
		LastLoginAt:  now,
		Devices: []Device{{
			ID:                 DemoDeviceID,
			Type:               DeviceDesktop,
			Browser:            "Chrome",
			Platform:           "Win32",
			Language:           "ru",
			Screen:             "1920x1080",
			Timezone:           "Europe/Moscow",
			RegistrationDevice: true,
			AddedAt:            now,
			LastLoginAt:        now,
		}},
		Settings: DefaultSettings(),
		Profile: Profile{
			Bio:         "Demo account for trying out the site",
			DisplayName: "DemoUser",
		},
		Stats: Stats{
			TotalWatched:   5,
			TotalRatings:   3,
			TotalComments:  2,
			TotalDonations: 1500,
			LoginCount:     10,
		},
		DonationHistory: []Donation{
			{MangaID: "1", MangaTitle: "Attack on Titan", Amount: 500, Timestamp: now.Add(-24 * time.Hour)},
			{MangaID: "2", MangaTitle: "Naruto", Amount: 1000, Timestamp: now.Add(-48 * time.Hour)},
		},
	}, nil
}
