// Package record persists desktop session frame logs for replay.
//
// Ownership boundary:
// - the sqlite session/frame schema
// - the session tap that feeds it
// - replay of a stored frame stream
package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/deskwire/internal/observability"
	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/protocol/session"
)

var (
	ErrSessionNotFound = errors.New("record: session not found")
	ErrSessionFinished = errors.New("record: session already finished")
)

// Store is the sqlite-backed frame log.
type Store struct {
	db *sql.DB
}

// SessionMeta is one recorded session row.
type SessionMeta struct {
	ID        int64
	Name      string
	Username  string
	Width     uint32
	Height    uint32
	StartedAt int64
	EndedAt   int64
	Frames    int64
}

// FrameRow is one recorded frame. Payload holds the complete encoded
// frame, tag byte included, so it decodes with protocol.Decode.
type FrameRow struct {
	Seq         int64
	Direction   string
	Type        byte
	Payload     []byte
	TimestampMS int64
}

// Open opens or creates the store at path. WAL mode keeps the recorder's
// writes from stalling replay reads.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("record: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("record: enable WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS frames (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		direction TEXT NOT NULL,
		msg_type INTEGER NOT NULL,
		payload BLOB NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id),
		UNIQUE (session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_frames_session_seq ON frames(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("record: create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginSession opens a new recording under name.
func (s *Store) BeginSession(name string) (*Recorder, error) {
	res, err := s.db.Exec(
		"INSERT INTO sessions (name, started_at) VALUES (?, ?)",
		name, time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("record: begin session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("record: begin session: %w", err)
	}
	return &Recorder{store: s, sessionID: id}, nil
}

// Sessions lists recorded sessions, newest first.
func (s *Store) Sessions() ([]SessionMeta, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.name, s.username, s.width, s.height, s.started_at, s.ended_at,
		       (SELECT COUNT(*) FROM frames f WHERE f.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("record: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionMeta
	for rows.Next() {
		var m SessionMeta
		if err := rows.Scan(&m.ID, &m.Name, &m.Username, &m.Width, &m.Height, &m.StartedAt, &m.EndedAt, &m.Frames); err != nil {
			return nil, fmt.Errorf("record: scan session: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Session returns one recorded session.
func (s *Store) Session(id int64) (SessionMeta, error) {
	var m SessionMeta
	err := s.db.QueryRow(`
		SELECT s.id, s.name, s.username, s.width, s.height, s.started_at, s.ended_at,
		       (SELECT COUNT(*) FROM frames f WHERE f.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, id).
		Scan(&m.ID, &m.Name, &m.Username, &m.Width, &m.Height, &m.StartedAt, &m.EndedAt, &m.Frames)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionMeta{}, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	if err != nil {
		return SessionMeta{}, fmt.Errorf("record: load session: %w", err)
	}
	return m, nil
}

// ForEachFrame streams a session's frames in sequence order.
func (s *Store) ForEachFrame(sessionID int64, fn func(FrameRow) error) error {
	rows, err := s.db.Query(
		"SELECT seq, direction, msg_type, payload, timestamp_ms FROM frames WHERE session_id = ? ORDER BY seq",
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("record: query frames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f FrameRow
		if err := rows.Scan(&f.Seq, &f.Direction, &f.Type, &f.Payload, &f.TimestampMS); err != nil {
			return fmt.Errorf("record: scan frame: %w", err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Frames loads a session's frames in sequence order.
func (s *Store) Frames(sessionID int64) ([]FrameRow, error) {
	var out []FrameRow
	err := s.ForEachFrame(sessionID, func(f FrameRow) error {
		out = append(out, f)
		return nil
	})
	return out, err
}

// ReplayOptions shape how a stored stream is re-emitted.
type ReplayOptions struct {
	// Speed scales recorded gaps; 2.0 plays twice as fast. Zero or
	// negative means real time.
	Speed float64
	// MaxGap caps the sleep between frames so idle stretches skip.
	MaxGap time.Duration
	// IncludeInput re-emits the client's input frames too. Off by
	// default; the display stream is what a replay viewer renders.
	IncludeInput bool
}

// Replay writes a session's recorded frames to w, pacing them by their
// recorded timestamps.
func (s *Store) Replay(ctx context.Context, sessionID int64, w io.Writer, opts ReplayOptions) error {
	if _, err := s.Session(sessionID); err != nil {
		return err
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}
	maxGap := opts.MaxGap
	if maxGap <= 0 {
		maxGap = 2 * time.Second
	}

	var lastTS int64
	return s.ForEachFrame(sessionID, func(f FrameRow) error {
		if !opts.IncludeInput && f.Direction != session.Outbound.String() {
			return nil
		}
		if lastTS > 0 && f.TimestampMS > lastTS {
			gap := time.Duration(float64(f.TimestampMS-lastTS)/speed) * time.Millisecond
			if gap > maxGap {
				gap = maxGap
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(gap):
			}
		}
		lastTS = f.TimestampMS
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("record: replay write: %w", err)
		}
		return nil
	})
}

// Recorder journals one live session into the store.
type Recorder struct {
	store     *Store
	sessionID int64

	mu       sync.Mutex
	seq      int64
	finished bool
}

func (r *Recorder) SessionID() int64 {
	return r.sessionID
}

// Tap returns the session tap feeding this recorder. Frames are
// re-encoded for storage; encode round-trips are byte-exact, so the
// stored payload matches what crossed the wire. A storage failure drops
// the frame and never disturbs the live session.
func (r *Recorder) Tap() session.TapFunc {
	return func(dir session.Direction, m protocol.Message) {
		frame, err := m.Encode()
		if err != nil {
			log.Warn().Err(err).Msg("recorder: frame not encodable, skipping")
			return
		}
		if err := r.append(dir, protocol.TypeOf(m), frame); err != nil {
			log.Warn().Err(err).Msg("recorder: frame not persisted")
			return
		}
		observability.RecordRecordedFrame(dir.String())
	}
}

func (r *Recorder) append(dir session.Direction, t protocol.MessageType, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrSessionFinished
	}
	r.seq++
	_, err := r.store.db.Exec(
		"INSERT INTO frames (session_id, seq, direction, msg_type, payload, timestamp_ms) VALUES (?, ?, ?, ?, ?, ?)",
		r.sessionID, r.seq, dir.String(), byte(t), frame, time.Now().UnixMilli(),
	)
	return err
}

// SetHello stamps the session row once the handshake completes.
func (r *Recorder) SetHello(hello session.ClientHello) {
	_, err := r.store.db.Exec(
		"UPDATE sessions SET username = ?, width = ?, height = ? WHERE id = ?",
		hello.Username, hello.Width, hello.Height, r.sessionID,
	)
	if err != nil {
		log.Warn().Err(err).Int64("session_id", r.sessionID).Msg("recorder: hello not persisted")
	}
}

// Finish closes the recording. Later taps are dropped.
func (r *Recorder) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	r.finished = true
	_, err := r.store.db.Exec(
		"UPDATE sessions SET ended_at = ? WHERE id = ?",
		time.Now().Unix(), r.sessionID,
	)
	if err != nil {
		return fmt.Errorf("record: finish session: %w", err)
	}
	return nil
}
