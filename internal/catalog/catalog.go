// Package catalog keeps a sqlite journal of recording sessions: where their
// files went, how the link behaved and how they ended.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/eventbus"
	"github.com/srg/blerec/internal/groutine"
	_ "modernc.org/sqlite"
)

// schema.sql defines the sessions table and the per-session transition log.
//
//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Entry describes a session at its start.
type Entry struct {
	Peer       string
	Transport  string // "ble" or "simulated"
	OutputDir  string
	FilePrefix string
	StartedAt  time.Time
}

// Totals are the counters stored when a session ends.
type Totals struct {
	Frames        int64
	Readings      int64
	Missed        int64
	DecodeErrors  int64
	Reconnects    int64
	LocationFixes int64
}

// Session is a catalog row.
type Session struct {
	ID        string
	Entry
	EndedAt   time.Time // zero while running or after a crash
	EndReason string
	Totals
}

// Transition is one recorded link event.
type Transition struct {
	At     time.Time
	Kind   string
	Detail string
}

type Catalog struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time
}

// Open opens or creates the catalog database at path.
func Open(path string, logger *logrus.Logger) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// one writer; sqlite serializes anyway and this keeps :memory: on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	logger.WithField("path", path).Debug("Catalog opened")
	return &Catalog{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// BeginSession records a new session and returns its id.
func (c *Catalog) BeginSession(ctx context.Context, e Entry) (string, error) {
	id := uuid.NewString()
	if e.StartedAt.IsZero() {
		e.StartedAt = c.now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sessions (id, peer, transport, output_dir, file_prefix, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, e.Peer, e.Transport, e.OutputDir, e.FilePrefix, e.StartedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to begin session: %w", err)
	}
	return id, nil
}

// RecordTransition appends a link event to a session's log.
func (c *Catalog) RecordTransition(ctx context.Context, id, kind, detail string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO transitions (session_id, at, kind, detail) VALUES (?, ?, ?, ?)`,
		id, c.now().UnixMilli(), kind, detail)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// EndSession stores the end time, reason and totals of a session.
func (c *Catalog) EndSession(ctx context.Context, id, reason string, t Totals) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE sessions SET
			ended_at = ?, end_reason = ?,
			frames = ?, readings = ?, missed = ?, decode_errors = ?, reconnects = ?, location_fixes = ?
		WHERE id = ?`,
		c.now().UnixMilli(), reason,
		t.Frames, t.Readings, t.Missed, t.DecodeErrors, t.Reconnects, t.LocationFixes,
		id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Follow records the status events of a bus subscription as transitions of
// session id until ctx is done or the subscription is closed. It returns a
// channel closed when it stops.
func (c *Catalog) Follow(ctx context.Context, id string, sub *eventbus.Subscription) <-chan struct{} {
	return groutine.Go(ctx, "catalog-follow", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				detail := ""
				switch e := ev.(type) {
				case eventbus.Connected:
					detail = e.PeerName
				case eventbus.Disconnected:
					detail = e.Reason
				case eventbus.Reconnecting:
				default:
					continue
				}
				// the write must land even when ctx is cancelled by the shutdown it records
				if err := c.RecordTransition(context.WithoutCancel(ctx), id, string(ev.Kind()), detail); err != nil {
					c.logger.WithField("error", err).Warn("Failed to record transition")
				}
			}
		}
	})
}

// Sessions lists all sessions, newest first.
func (c *Catalog) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, peer, transport, output_dir, file_prefix, started_at, ended_at, end_reason,
		       frames, readings, missed, decode_errors, reconnects, location_fixes
		FROM sessions ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get returns one session.
func (c *Catalog) Get(ctx context.Context, id string) (Session, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, peer, transport, output_dir, file_prefix, started_at, ended_at, end_reason,
		       frames, readings, missed, decode_errors, reconnects, location_fixes
		FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, err
}

// Transitions returns the link events of a session in order.
func (c *Catalog) Transitions(ctx context.Context, id string) ([]Transition, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT at, kind, detail FROM transitions WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var at int64
		var t Transition
		if err := rows.Scan(&at, &t.Kind, &t.Detail); err != nil {
			return nil, fmt.Errorf("failed to read transition: %w", err)
		}
		t.At = time.UnixMilli(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
		reason  sql.NullString
	)
	err := row.Scan(&s.ID, &s.Peer, &s.Transport, &s.OutputDir, &s.FilePrefix, &started, &ended, &reason,
		&s.Frames, &s.Readings, &s.Missed, &s.DecodeErrors, &s.Reconnects, &s.LocationFixes)
	if err != nil {
		return Session{}, err
	}
	s.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		s.EndedAt = time.UnixMilli(ended.Int64)
	}
	s.EndReason = reason.String
	return s, nil
}
