package auth

import (
	"context"
	"database/sql"
)

// Mode is the derived backend mode for a single operation. It is never
// stored -- every access-control decision re-probes.
type Mode int

const (
	// ModeRemote means the remote directory answered the probe.
	ModeRemote Mode = iota

	// ModeLocal means the remote directory is unconfigured or unreachable
	// and operations run against the local store.
	ModeLocal
)

// String returns the lowercase mode label used in logs and the admin
// dashboard's backend indicator.
func (m Mode) String() string {
	if m == ModeRemote {
		return "remote"
	}
	return "local"
}

// Prober decides, per access attempt, whether the remote directory is
// usable. Probe has no side effects and never caches: callers re-probe
// per operation.
type Prober interface {
	Probe(ctx context.Context) Mode
}

// dbProber probes by running a lightweight check query against the
// remote directory's connection pool.
type dbProber struct {
	db *sql.DB
}

// NewProber creates a prober over the remote directory handle. A nil
// handle (remote directory never configured) always probes local.
func NewProber(db *sql.DB) Prober {
	return &dbProber{db: db}
}

// Probe reports ModeLocal only when the handle is absent or the check
// query fails with a network-class error. A domain-level failure means
// the backend is up, so the mode stays remote and the real operation
// surfaces its own error.
func (p *dbProber) Probe(ctx context.Context) Mode {
	if p.db == nil {
		return ModeLocal
	}

	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
	if err == nil {
		return ModeRemote
	}
	if isTransportError(err) {
		return ModeLocal
	}
	return ModeRemote
}

// staticProber always reports a fixed mode. Used when the service runs
// local-only and by tests.
type staticProber struct {
	mode Mode
}

// NewStaticProber returns a prober pinned to the given mode.
func NewStaticProber(mode Mode) Prober {
	return &staticProber{mode: mode}
}

func (p *staticProber) Probe(context.Context) Mode {
	return p.mode
}
