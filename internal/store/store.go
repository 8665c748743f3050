package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// ErrNotFound is returned by [Store.Get] when no detection has been saved for
// the requested audio file.
var ErrNotFound = errors.New("store: detection not found")

// Record is one persisted detection result. AudioFile is the key; FileSize
// and FileModTime form the freshness signature of the audio the detection
// was computed from.
type Record struct {
	AudioFile   string
	FileSize    int64
	FileModTime time.Time

	DetectedGapMs int64
	OriginalGapMs int64
	Method        gap.Method
	Semantics     gap.Semantics
	Confidence    float64
	Intervals     []gap.TimeInterval

	VocalsFile   string
	PreviewFile  string
	WaveformFile string

	Retries   int
	WindowSec float64
	UpdatedAt time.Time
}

// Store is the PostgreSQL-backed detection result store. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save upserts rec under its audio file path. UpdatedAt is set server-side.
func (s *Store) Save(ctx context.Context, rec Record) error {
	intervals, err := json.Marshal(rec.Intervals)
	if err != nil {
		return fmt.Errorf("store: marshal intervals: %w", err)
	}

	const q = `
		INSERT INTO detections
		    (audio_file, file_size, file_mtime, detected_gap_ms, original_gap_ms,
		     method, semantics, confidence, intervals,
		     vocals_file, preview_file, waveform_file, retries, window_sec, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (audio_file) DO UPDATE SET
		    file_size       = EXCLUDED.file_size,
		    file_mtime      = EXCLUDED.file_mtime,
		    detected_gap_ms = EXCLUDED.detected_gap_ms,
		    original_gap_ms = EXCLUDED.original_gap_ms,
		    method          = EXCLUDED.method,
		    semantics       = EXCLUDED.semantics,
		    confidence      = EXCLUDED.confidence,
		    intervals       = EXCLUDED.intervals,
		    vocals_file     = EXCLUDED.vocals_file,
		    preview_file    = EXCLUDED.preview_file,
		    waveform_file   = EXCLUDED.waveform_file,
		    retries         = EXCLUDED.retries,
		    window_sec      = EXCLUDED.window_sec,
		    updated_at      = now()`

	_, err = s.pool.Exec(ctx, q,
		rec.AudioFile,
		rec.FileSize,
		rec.FileModTime,
		rec.DetectedGapMs,
		rec.OriginalGapMs,
		string(rec.Method),
		rec.Semantics.String(),
		rec.Confidence,
		intervals,
		rec.VocalsFile,
		rec.PreviewFile,
		rec.WaveformFile,
		rec.Retries,
		rec.WindowSec,
	)
	if err != nil {
		return fmt.Errorf("store: save %q: %w", rec.AudioFile, err)
	}
	return nil
}

// Get returns the stored detection for audioFile, or [ErrNotFound].
func (s *Store) Get(ctx context.Context, audioFile string) (Record, error) {
	const q = selectColumns + `
		FROM  detections
		WHERE audio_file = $1`

	rows, err := s.pool.Query(ctx, q, audioFile)
	if err != nil {
		return Record{}, fmt.Errorf("store: get %q: %w", audioFile, err)
	}
	rec, err := pgx.CollectOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, audioFile)
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get %q: %w", audioFile, err)
	}
	return rec, nil
}

// Match returns the stored detection for audioFile if its recorded file
// signature still matches size and modTime. A stale or missing record
// returns ok=false; the caller should run a fresh detection.
func (s *Store) Match(ctx context.Context, audioFile string, size int64, modTime time.Time) (Record, bool, error) {
	rec, err := s.Get(ctx, audioFile)
	if errors.Is(err, ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if rec.FileSize != size || !rec.FileModTime.Equal(modTime) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete removes the stored detection for audioFile. Deleting a missing
// record is not an error.
func (s *Store) Delete(ctx context.Context, audioFile string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM detections WHERE audio_file = $1`, audioFile); err != nil {
		return fmt.Errorf("store: delete %q: %w", audioFile, err)
	}
	return nil
}

// Recent returns the most recently updated detections, newest first.
// limit ≤ 0 means 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = selectColumns + `
		FROM  detections
		ORDER BY updated_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

const selectColumns = `
		SELECT audio_file, file_size, file_mtime, detected_gap_ms, original_gap_ms,
		       method, semantics, confidence, intervals,
		       vocals_file, preview_file, waveform_file, retries, window_sec, updated_at`

// scanRecord scans one detections row into a Record.
func scanRecord(row pgx.CollectableRow) (Record, error) {
	var (
		rec       Record
		method    string
		semantics string
		intervals []byte
	)
	if err := row.Scan(
		&rec.AudioFile,
		&rec.FileSize,
		&rec.FileModTime,
		&rec.DetectedGapMs,
		&rec.OriginalGapMs,
		&method,
		&semantics,
		&rec.Confidence,
		&intervals,
		&rec.VocalsFile,
		&rec.PreviewFile,
		&rec.WaveformFile,
		&rec.Retries,
		&rec.WindowSec,
		&rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	rec.Method = gap.Method(method)
	rec.Semantics = parseSemantics(semantics)
	if len(intervals) > 0 {
		if err := json.Unmarshal(intervals, &rec.Intervals); err != nil {
			return Record{}, fmt.Errorf("unmarshal intervals: %w", err)
		}
	}
	return rec, nil
}

// parseSemantics is the inverse of [gap.Semantics.String]. Unknown strings
// map to silence, the conservative legacy interpretation.
func parseSemantics(s string) gap.Semantics {
	if s == gap.SemanticsSpeechStart.String() {
		return gap.SemanticsSpeechStart
	}
	return gap.SemanticsSilence
}
