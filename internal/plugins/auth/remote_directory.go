package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lightfoxmanga/lightfox/internal/apperror"
)

// userColumns is the select list shared by every user query. Sub-records
// are JSON documents; scanUser decodes them into the canonical structs
// so nothing outside this file ever sees the row shape.
const userColumns = `id, username, email, password_hash, is_admin, is_active,
	registered_at, last_login_at, devices, settings, profile, stats, lists, donation_history`

// remoteDirectory implements Directory with hand-written MariaDB queries.
type remoteDirectory struct {
	db *sql.DB
}

// NewRemoteDirectory creates the remote user directory backed by the
// given DB pool.
func NewRemoteDirectory(db *sql.DB) Directory {
	return &remoteDirectory{db: db}
}

// FindByEmail retrieves a user by email address.
// Returns apperror.NotFound if no user exists with this email.
func (r *remoteDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, &RemoteError{Op: "find by email", Err: err}
	}
	return user, nil
}

// FindByID retrieves a user by id.
// Returns apperror.NotFound if no user exists with this id.
func (r *remoteDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, &RemoteError{Op: "find by id", Err: err}
	}
	return user, nil
}

// Insert writes a new user row.
func (r *remoteDirectory) Insert(ctx context.Context, user *User) error {
	docs, err := encodeSubRecords(user)
	if err != nil {
		return &RemoteError{Op: "insert", Err: err}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.IsAdmin, user.IsActive, user.RegisteredAt, user.LastLoginAt,
		docs.devices, docs.settings, docs.profile, docs.stats, docs.lists, docs.donations,
	)
	if err != nil {
		return &RemoteError{Op: "insert", Err: err}
	}
	return nil
}

// Update rewrites every mutable field of an existing user row.
func (r *remoteDirectory) Update(ctx context.Context, user *User) error {
	docs, err := encodeSubRecords(user)
	if err != nil {
		return &RemoteError{Op: "update", Err: err}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = ?, email = ?, password_hash = ?,
		 is_admin = ?, is_active = ?, last_login_at = ?,
		 devices = ?, settings = ?, profile = ?, stats = ?, lists = ?, donation_history = ?
		 WHERE id = ?`,
		user.Username, user.Email, user.PasswordHash,
		user.IsAdmin, user.IsActive, user.LastLoginAt,
		docs.devices, docs.settings, docs.profile, docs.stats, docs.lists, docs.donations,
		user.ID,
	)
	if err != nil {
		return &RemoteError{Op: "update", Err: err}
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// ListAll returns every user ordered by registration date.
func (r *remoteDirectory) ListAll(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY registered_at ASC`)
	if err != nil {
		return nil, &RemoteError{Op: "list", Err: err}
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, &RemoteError{Op: "list", Err: err}
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, &RemoteError{Op: "list", Err: err}
	}
	return users, nil
}

// --- Row normalization ---

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one row into the canonical User, decoding the JSON
// sub-record columns.
func scanUser(row rowScanner) (*User, error) {
	user := &User{}
	var devices, settings, profile, stats, lists, donations []byte

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.IsAdmin, &user.IsActive, &user.RegisteredAt, &user.LastLoginAt,
		&devices, &settings, &profile, &stats, &lists, &donations,
	)
	if err != nil {
		return nil, err
	}

	for _, col := range []struct {
		name string
		data []byte
		dest any
	}{
		{"devices", devices, &user.Devices},
		{"settings", settings, &user.Settings},
		{"profile", profile, &user.Profile},
		{"stats", stats, &user.Stats},
		{"lists", lists, &user.Lists},
		{"donation_history", donations, &user.DonationHistory},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dest); err != nil {
			return nil, fmt.Errorf("decoding %s column: %w", col.name, err)
		}
	}

	return user, nil
}

// subRecordDocs holds the encoded JSON columns for a user row.
type subRecordDocs struct {
	devices, settings, profile, stats, lists, donations []byte
}

func encodeSubRecords(user *User) (*subRecordDocs, error) {
	docs := &subRecordDocs{}
	for _, col := range []struct {
		name string
		src  any
		dest *[]byte
	}{
		{"devices", user.Devices, &docs.devices},
		{"settings", user.Settings, &docs.settings},
		{"profile", user.Profile, &docs.profile},
		{"stats", user.Stats, &docs.stats},
		{"lists", user.Lists, &docs.lists},
		{"donation_history", user.DonationHistory, &docs.donations},
	} {
		data, err := json.Marshal(col.src)
		if err != nil {
			return nil, fmt.Errorf("encoding %s column: %w", col.name, err)
		}
		*col.dest = data
	}
	return docs, nil
}
