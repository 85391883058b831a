// Package auth implements authentication, device-bound sessions, and
// user directory access for Light Fox. It provides registration, login,
// logout, access checks, and the moderation operations the admin
// dashboard calls.
//
// The user directory has two interchangeable backends: the remote
// MariaDB directory when it is reachable, and the local Redis-backed
// store otherwise. Sessions always live in the local store, whichever
// directory is active.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import "time"

// Device type constants, derived from the user-agent at login time.
const (
	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
)

// User is the canonical user record used throughout the application.
// The remote directory normalizes its snake_case rows into this struct
// at the adapter boundary; the local directory stores it as JSON
// directly. Nothing downstream ever branches on backend field names.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	IsActive     bool      `json:"is_active"`
	RegisteredAt time.Time `json:"registered_at"`
	LastLoginAt  time.Time `json:"last_login_at"`

	Devices         []Device   `json:"devices"`
	Settings        Settings   `json:"settings"`
	Profile         Profile    `json:"profile"`
	Stats           Stats      `json:"stats"`
	Lists           Lists      `json:"lists"`
	DonationHistory []Donation `json:"donation_history"`
}

// Device returns the user's device with the given id, or nil.
func (u *User) Device(id string) *Device {
	for i := range u.Devices {
		if u.Devices[i].ID == id {
			return &u.Devices[i]
		}
	}
	return nil
}

// Sanitized returns a copy of the user safe for API responses: the
// password hash is never exposed outside the auth layer.
func (u *User) Sanitized() User {
	out := *u
	out.PasswordHash = ""
	return out
}

// Device represents one client bound to an account. The id is a coarse
// fingerprint of client-reported attributes -- stable enough for device
// naming and the per-account device cap, and nothing more. It is NOT an
// authentication factor.
type Device struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"` // Desktop, Mobile, Tablet
	Browser            string    `json:"browser"`
	UserAgent          string    `json:"user_agent,omitempty"`
	Platform           string    `json:"platform"`
	Language           string    `json:"language"`
	Screen             string    `json:"screen"`
	Timezone           string    `json:"timezone"`
	RegistrationDevice bool      `json:"registration_device,omitempty"`
	AddedAt            time.Time `json:"added_at"`
	LastLoginAt        time.Time `json:"last_login_at"`
}

// Settings holds per-user site preferences.
type Settings struct {
	Theme              string `json:"theme"`
	Language           string `json:"language"`
	Notifications      bool   `json:"notifications"`
	EmailNotifications bool   `json:"email_notifications"`
}

// DefaultSettings are applied to every new registration.
func DefaultSettings() Settings {
	return Settings{
		Theme:         "light",
		Language:      "ru",
		Notifications: true,
	}
}

// Profile holds the user's public profile fields.
type Profile struct {
	Avatar      *string `json:"avatar,omitempty"`
	Bio         string  `json:"bio"`
	DisplayName string  `json:"display_name"`
}

// Stats holds per-user activity counters.
type Stats struct {
	TotalWatched   int `json:"total_watched"`
	TotalRatings   int `json:"total_ratings"`
	TotalComments  int `json:"total_comments"`
	TotalDonations int `json:"total_donations"`
	LoginCount     int `json:"login_count"`
}

// Lists holds the user's manga reading lists (ids only; titles live in
// the content layer).
type Lists struct {
	Favorites   []string `json:"favorites"`
	Watching    []string `json:"watching"`
	WantToWatch []string `json:"want_to_watch"`
	Completed   []string `json:"completed"`
}

// Donation is one entry in a user's donation history.
type Donation struct {
	MangaID    string    `json:"manga_id"`
	MangaTitle string    `json:"manga_title"`
	Amount     int       `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// --- Sessions ---

// Session is the current-session record for one client. Exactly one
// exists per session token; a historical list of issued sessions is kept
// alongside (see SessionEntry).
type Session struct {
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	LoginTime time.Time `json:"login_time"`
	Remember  bool      `json:"remember"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionEntry is one row of the historical sessions list. Entries are
// appended on every session creation and pruned only on logout of the
// matching (user, device) pair.
type SessionEntry struct {
	ID string `json:"id"`
	Session
}

// LegacyIdentity is the minimal identity record mirrored for pages that
// predate this auth layer. Kept byte-compatible with what those pages
// already read.
type LegacyIdentity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// --- Request DTOs (bound from HTTP requests) ---

// DeviceAttrs are the raw client-reported attributes the fingerprint is
// derived from. All values are client-controlled and spoofable.
type DeviceAttrs struct {
	UserAgent      string `json:"user_agent"`
	Platform       string `json:"platform"`
	Language       string `json:"language"`
	Screen         string `json:"screen"`
	Timezone       string `json:"timezone"`
	TimezoneOffset int    `json:"timezone_offset"`
	Entropy        string `json:"entropy"`
}

// RegisterRequest holds the data submitted by the registration form.
type RegisterRequest struct {
	Username string      `json:"username" form:"username"`
	Email    string      `json:"email" form:"email"`
	Password string      `json:"password" form:"password"`
	Device   DeviceAttrs `json:"device"`
}

// LoginRequest holds the data submitted by the login form.
type LoginRequest struct {
	Email    string      `json:"email" form:"email"`
	Password string      `json:"password" form:"password"`
	Remember bool        `json:"remember" form:"remember"`
	Device   DeviceAttrs `json:"device"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the validated input for creating a new account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Device   DeviceAttrs
}

// LoginInput is the validated input for authenticating a user.
type LoginInput struct {
	Email    string
	Password string
	Remember bool
	Device   DeviceAttrs
}

// --- Admin views ---

// UserSummary is the admin dashboard's view of a user: the full record
// minus credentials, plus the derived device fields the dashboard shows.
type UserSummary struct {
	User
	DevicesCount int     `json:"devices_count"`
	LastDevice   *Device `json:"last_device,omitempty"`
}

// Summarize builds the admin view of a user.
func Summarize(u User) UserSummary {
	s := UserSummary{User: u.Sanitized(), DevicesCount: len(u.Devices)}
	if len(u.Devices) > 0 {
		last := u.Devices[len(u.Devices)-1]
		s.LastDevice = &last
	}
	return s
}
