package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/landmarks"
	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store caches detections and run results in PostgreSQL.
type Store struct {
	conn *pgx.Conn
}

// Video is a cached input.
type Video struct {
	ID        string
	Path      string
	Frames    int
	Landmarks int
	IndexedAt time.Time
	Runs      int
}

// RunSettings records the options a run was made with.
type RunSettings struct {
	Template  string
	Mode      string
	Window    int
	GapPolicy string
}

// Run summarizes one stabilization run.
type Run struct {
	ID        uuid.UUID
	VideoID   string
	Settings  RunSettings
	CreatedAt time.Time
	Frames    int
	Absent    int
}

// Transform is one stored frame of a run. Raw is nil for absent frames.
type Transform struct {
	Index    int
	Raw      *geometry.Similarity
	Smoothed geometry.Similarity
	State    string
	Absence  string
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			frame_count INT NOT NULL DEFAULT 0,
			landmarks INT NOT NULL DEFAULT 0,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS face_detections (
			id BIGSERIAL PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES video_metadata(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			face_index INT NOT NULL,
			points DOUBLE PRECISION[] NOT NULL,
			box DOUBLE PRECISION[] NOT NULL,
			confidence DOUBLE PRECISION NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES video_metadata(id) ON DELETE CASCADE,
			template TEXT NOT NULL,
			mode TEXT NOT NULL,
			window_size INT NOT NULL,
			gap_policy TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS run_transforms (
			run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			raw DOUBLE PRECISION[],
			smoothed DOUBLE PRECISION[] NOT NULL,
			state TEXT NOT NULL,
			absence TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, frame_index)
		);
		CREATE INDEX IF NOT EXISTS face_detections_video_frame_idx ON face_detections (video_id, frame_index);
		CREATE INDEX IF NOT EXISTS runs_video_id_idx ON runs (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the path.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET path = EXCLUDED.path
	`, videoID, path)
	return err
}

// SaveDetections replaces the cached detections of a video with every
// candidate in records.
func (s *Store) SaveDetections(ctx context.Context, videoID string, cardinality int, records []pipeline.FrameRecord) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Re-indexing must not leave stale faces behind
	if _, err := tx.Exec(ctx, "DELETE FROM face_detections WHERE video_id = $1", videoID); err != nil {
		return err
	}

	var rows [][]any
	for _, rec := range records {
		for j, d := range rec.Candidates {
			rows = append(rows, []any{videoID, rec.Index, j, flatten(d.Points), boxArray(d.Box), d.Confidence})
		}
	}
	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"face_detections"},
			[]string{"video_id", "frame_index", "face_index", "points", "box", "confidence"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy detections: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE video_metadata SET frame_count = $2, landmarks = $3, indexed_at = NOW() WHERE id = $1
	`, videoID, len(records), cardinality)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LoadDetections returns the cached detections of a video as a landmark
// file. ok is false when the video was never indexed.
func (s *Store) LoadDetections(ctx context.Context, videoID string) (f *landmarks.File, ok bool, err error) {
	var path string
	var frames, cardinality int
	err = s.conn.QueryRow(ctx,
		"SELECT path, frame_count, landmarks FROM video_metadata WHERE id = $1", videoID,
	).Scan(&path, &frames, &cardinality)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if frames == 0 {
		return nil, false, nil
	}

	f = &landmarks.File{Version: landmarks.FormatVersion, Landmarks: cardinality, Frames: make([]landmarks.Frame, frames)}
	for i := range f.Frames {
		f.Frames[i] = landmarks.Frame{Index: i, Faces: []pipeline.Detection{}}
	}

	rows, err := s.conn.Query(ctx, `
		SELECT frame_index, points, box, confidence FROM face_detections
		WHERE video_id = $1 ORDER BY frame_index, face_index
	`, videoID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		var pts, box []float64
		var conf float64
		if err := rows.Scan(&idx, &pts, &box, &conf); err != nil {
			return nil, false, err
		}
		if idx < 0 || idx >= frames {
			return nil, false, fmt.Errorf("video %s: detection for frame %d outside 0..%d", videoID, idx, frames-1)
		}
		d := pipeline.Detection{Points: unflatten(pts), Confidence: conf}
		if len(box) == 4 {
			d.Box = geometry.Rect{MinX: box[0], MinY: box[1], MaxX: box[2], MaxY: box[3]}
		}
		f.Frames[idx].Faces = append(f.Frames[idx].Faces, d)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if err := f.Validate(); err != nil {
		return nil, false, fmt.Errorf("cached detections for video %s: %w", videoID, err)
	}
	return f, true, nil
}

// SaveRun records the raw and smoothed transform of every frame under a new
// run ID.
func (s *Store) SaveRun(ctx context.Context, videoID string, settings RunSettings, records []pipeline.FrameRecord) (uuid.UUID, error) {
	id := uuid.New()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, video_id, template, mode, window_size, gap_policy)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, videoID, settings.Template, settings.Mode, settings.Window, settings.GapPolicy)
	if err != nil {
		return uuid.Nil, err
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		var raw []float64
		if rec.HasRaw {
			raw = params(rec.Raw)
		}
		rows[i] = []any{id, rec.Index, raw, params(rec.Smoothed), rec.State.String(), string(rec.Absence)}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"run_transforms"},
		[]string{"run_id", "frame_index", "raw", "smoothed", "state", "absence"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return uuid.Nil, fmt.Errorf("copy transforms: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ListVideos returns every cached video, most recently indexed first.
func (s *Store) ListVideos(ctx context.Context) ([]Video, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT v.id, v.path, v.frame_count, v.landmarks, v.indexed_at, COUNT(r.id)
		FROM video_metadata v
		LEFT JOIN runs r ON r.video_id = v.id
		GROUP BY v.id
		ORDER BY v.indexed_at DESC, v.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.ID, &v.Path, &v.Frames, &v.Landmarks, &v.IndexedAt, &v.Runs); err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// ListRuns returns the runs of a video, newest first. An empty videoID lists
// every run.
func (s *Store) ListRuns(ctx context.Context, videoID string) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT r.id, r.video_id, r.template, r.mode, r.window_size, r.gap_policy, r.created_at,
			COUNT(t.frame_index), COUNT(t.frame_index) FILTER (WHERE t.raw IS NULL)
		FROM runs r
		LEFT JOIN run_transforms t ON t.run_id = r.id
		WHERE $1 = '' OR r.video_id = $1
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.id
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		err := rows.Scan(&r.ID, &r.VideoID, &r.Settings.Template, &r.Settings.Mode, &r.Settings.Window,
			&r.Settings.GapPolicy, &r.CreatedAt, &r.Frames, &r.Absent)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunTransforms returns the stored frames of a run in frame order.
func (s *Store) RunTransforms(ctx context.Context, runID uuid.UUID) ([]Transform, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT frame_index, raw, smoothed, state, absence FROM run_transforms
		WHERE run_id = $1 ORDER BY frame_index
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transform
	for rows.Next() {
		var t Transform
		var raw, smoothed []float64
		if err := rows.Scan(&t.Index, &raw, &smoothed, &t.State, &t.Absence); err != nil {
			return nil, err
		}
		if raw != nil {
			r, err := fromParams(raw)
			if err != nil {
				return nil, fmt.Errorf("run %s frame %d: %w", runID, t.Index, err)
			}
			t.Raw = &r
		}
		if t.Smoothed, err = fromParams(smoothed); err != nil {
			return nil, fmt.Errorf("run %s frame %d: %w", runID, t.Index, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS run_transforms CASCADE;
		DROP TABLE IF EXISTS runs CASCADE;
		DROP TABLE IF EXISTS face_detections CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}

// flatten stores points as x0, y0, x1, y1, ...
func flatten(pts []geometry.Point) []float64 {
	out := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		out = append(out, p.X, p.Y)
	}
	return out
}

func unflatten(v []float64) []geometry.Point {
	out := make([]geometry.Point, len(v)/2)
	for i := range out {
		out[i] = geometry.Point{X: v[2*i], Y: v[2*i+1]}
	}
	return out
}

func boxArray(r geometry.Rect) []float64 {
	return []float64{r.MinX, r.MinY, r.MaxX, r.MaxY}
}

// params orders a transform as scale, angle, tx, ty.
func params(t geometry.Similarity) []float64 {
	return []float64{t.Scale, t.Angle, t.Tx, t.Ty}
}

func fromParams(v []float64) (geometry.Similarity, error) {
	if len(v) != 4 {
		return geometry.Similarity{}, fmt.Errorf("transform has %d parameters, want 4", len(v))
	}
	return geometry.Similarity{Scale: v[0], Angle: v[1], Tx: v[2], Ty: v[3]}, nil
}
