package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adclip/adclip/internal/summary"
	"github.com/adclip/adclip/internal/transcript"
)

type Repository interface {
	UpsertVideo(ctx context.Context, v *Video) error
	GetVideoByPath(ctx context.Context, path string) (*Video, error)
	ListVideos(ctx context.Context) ([]*Video, error)

	GetTranscript(ctx context.Context, filename string) (*StoredTranscript, error)
	SaveTranscript(ctx context.Context, t *StoredTranscript) error

	GetShots(ctx context.Context, filename string) ([]transcript.Shot, error)
	SaveShots(ctx context.Context, filename string, shots []transcript.Shot) error

	RecordSummary(ctx context.Context, a summary.Audit) error
	CountSummaries(ctx context.Context, video string) (int, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	SetJobResult(ctx context.Context, id string, result json.RawMessage) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

var (
	_ Repository         = (*SQLiteRepository)(nil)
	_ summary.ShotStore  = (*SQLiteRepository)(nil)
	_ summary.AuditStore = (*SQLiteRepository)(nil)
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) UpsertVideo(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (id, path, filename, content_type, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_type = excluded.content_type,
			size = excluded.size
	`, v.ID, v.Path, v.Filename, v.ContentType, v.Size, v.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetVideoByPath(ctx context.Context, path string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, path, filename, content_type, size, created_at
		FROM videos WHERE path = ?
	`, path)

	var v Video
	var createdAt string
	err := row.Scan(&v.ID, &v.Path, &v.Filename, &v.ContentType, &v.Size, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &v, nil
}

func (r *SQLiteRepository) ListVideos(ctx context.Context) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, path, filename, content_type, size, created_at
		FROM videos ORDER BY created_at DESC, path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		var v Video
		var createdAt string
		if err := rows.Scan(&v.ID, &v.Path, &v.Filename, &v.ContentType, &v.Size, &createdAt); err != nil {
			return nil, err
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		videos = append(videos, &v)
	}
	return videos, rows.Err()
}

func (r *SQLiteRepository) GetTranscript(ctx context.Context, filename string) (*StoredTranscript, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT filename, language_code, speech_model, lines, created_at
		FROM transcripts WHERE filename = ?
	`, filename)

	var t StoredTranscript
	var lines, createdAt string
	err := row.Scan(&t.Filename, &t.LanguageCode, &t.SpeechModel, &lines, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(lines), &t.Lines); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", filename, err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

func (r *SQLiteRepository) SaveTranscript(ctx context.Context, t *StoredTranscript) error {
	lines, err := json.Marshal(t.Lines)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transcripts (filename, language_code, speech_model, lines, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			language_code = excluded.language_code,
			speech_model = excluded.speech_model,
			lines = excluded.lines
	`, t.Filename, t.LanguageCode, t.SpeechModel, string(lines), t.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// GetShots returns nil when no shots were recorded for filename.
func (r *SQLiteRepository) GetShots(ctx context.Context, filename string) ([]transcript.Shot, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, "SELECT shots FROM video_shots WHERE filename = ?", filename).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var shots []transcript.Shot
	if err := json.Unmarshal([]byte(raw), &shots); err != nil {
		return nil, fmt.Errorf("decode shots %s: %w", filename, err)
	}
	return shots, nil
}

func (r *SQLiteRepository) SaveShots(ctx context.Context, filename string, shots []transcript.Shot) error {
	if shots == nil {
		shots = []transcript.Shot{}
	}
	raw, err := json.Marshal(shots)
	if err != nil {
		return fmt.Errorf("encode shots: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO video_shots (filename, shots, created_at) VALUES (?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET shots = excluded.shots
	`, filename, string(raw), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) RecordSummary(ctx context.Context, a summary.Audit) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO summaries (id, video, full_text, summary, final_output, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, NewID(), a.Video, a.FullText, a.Summary, a.FinalOutput, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) CountSummaries(ctx context.Context, video string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM summaries WHERE video = ?", video).Scan(&n)
	return n, err
}

const jobColumns = `id, type, status, video_path, payload, result, progress, error, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.VideoPath), nullString(string(j.Payload)),
		nullString(string(j.Result)), j.Progress, nullString(j.Error),
		j.CreatedAt.UTC().Format(time.RFC3339), j.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var j Job
		var videoPath, payload, result, errMsg sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&j.ID, &j.Type, &j.Status, &videoPath, &payload, &result,
			&j.Progress, &errMsg, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.VideoPath = videoPath.String
		if payload.Valid {
			j.Payload = json.RawMessage(payload.String)
		}
		if result.Valid {
			j.Result = json.RawMessage(result.String)
		}
		j.Error = errMsg.String
		j.CreatedAt = parseTime(createdAt)
		j.UpdatedAt = parseTime(updatedAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, nullString(errorMsg), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = datetime('now') WHERE id = ?
	`, progress, id)
	return err
}

func (r *SQLiteRepository) SetJobResult(ctx context.Context, id string, result json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET result = ?, updated_at = datetime('now') WHERE id = ?
	`, nullString(string(result)), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// parseTime accepts both RFC 3339 and SQLite's datetime('now') format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
