// Package store persists detection results in PostgreSQL. One row per audio
// file, upserted on every successful detection, with the source file's size
// and mtime recorded so unchanged audio can reuse the stored result instead
// of separating stems again.
//
// Usage:
//
//	st, err := store.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.Save(ctx, rec)
//	rec, ok, _ := st.Match(ctx, audioFile, size, mtime)
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDetections = `
CREATE TABLE IF NOT EXISTS detections (
    audio_file      TEXT              PRIMARY KEY,
    file_size       BIGINT            NOT NULL,
    file_mtime      TIMESTAMPTZ       NOT NULL,
    detected_gap_ms BIGINT            NOT NULL,
    original_gap_ms BIGINT            NOT NULL,
    method          TEXT              NOT NULL,
    semantics       TEXT              NOT NULL,
    confidence      DOUBLE PRECISION  NOT NULL,
    intervals       JSONB             NOT NULL DEFAULT '[]',
    vocals_file     TEXT              NOT NULL DEFAULT '',
    preview_file    TEXT              NOT NULL DEFAULT '',
    waveform_file   TEXT              NOT NULL DEFAULT '',
    retries         INTEGER           NOT NULL DEFAULT 0,
    window_sec      DOUBLE PRECISION  NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_detections_updated_at
    ON detections (updated_at);

CREATE INDEX IF NOT EXISTS idx_detections_method
    ON detections (method);
`

// Migrate creates or ensures the detections table exists. It is idempotent
// (CREATE TABLE IF NOT EXISTS) and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDetections); err != nil {
		return fmt.Errorf("store migrate: %w", err)
	}
	return nil
}
