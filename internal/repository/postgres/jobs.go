package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
)

type jobRow struct {
	ID         string         `db:"id"`
	Symbol     string         `db:"symbol"`
	Timeframes pq.StringArray `db:"timeframes"`
	Mode       string         `db:"mode"`
	Optimize   bool           `db:"optimize"`
	Status     string         `db:"status"`
	Progress   float64        `db:"progress"`
	Message    string         `db:"message"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r jobRow) toModel() *models.TrainingJob {
	tfs := make([]models.Timeframe, len(r.Timeframes))
	for i, tf := range r.Timeframes {
		tfs[i] = models.Timeframe(tf)
	}
	return &models.TrainingJob{
		ID: r.ID, Symbol: r.Symbol, Timeframes: tfs, Mode: models.JobMode(r.Mode), Optimize: r.Optimize,
		Status: models.JobStatus(r.Status), Progress: r.Progress, Message: r.Message,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

const jobColumns = `id, symbol, timeframes, mode, optimize, status, progress, message, created_at, updated_at`

func (s *Store) CreateJob(ctx context.Context, job *models.TrainingJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	tfs := make([]string, len(job.Timeframes))
	for i, tf := range job.Timeframes {
		tfs[i] = string(tf)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO training_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Symbol, pq.Array(tfs), string(job.Mode), job.Optimize, string(job.Status),
		job.Progress, job.Message, job.CreatedAt, job.UpdatedAt)
	return classify("create job", err)
}

// UpdateJob leaves terminal jobs untouched unless the status is unchanged.
func (s *Store) UpdateJob(ctx context.Context, id string, status models.JobStatus, progress float64, message string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE training_jobs
		SET status = $2, progress = $3, message = $4, updated_at = now()
		WHERE id = $1 AND (status NOT IN ('finished', 'error') OR status = $2)`,
		id, string(status), progress, message)
	if err != nil {
		return classify("update job", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return apperr.Conflict("update job", "job %s is terminal", id)
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.TrainingJob, error) {
	var r jobRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+jobColumns+` FROM training_jobs WHERE id = $1`, id); err != nil {
		return nil, classify("get job", err)
	}
	return r.toModel(), nil
}

func (s *Store) ActiveJob(ctx context.Context, symbol string) (*models.TrainingJob, error) {
	var r jobRow
	if err := s.db.GetContext(ctx, &r, `SELECT `+jobColumns+` FROM training_jobs
		WHERE symbol = $1 AND status IN ('queued', 'running')
		ORDER BY created_at DESC LIMIT 1`, symbol); err != nil {
		return nil, classify("active job", err)
	}
	return r.toModel(), nil
}

func (s *Store) AppendLog(ctx context.Context, e models.JobLog) error {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	var data sql.NullString
	if len(e.Data) > 0 {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return apperr.Invalid("append job log", "encode data: %v", err)
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO job_logs (job_id, ts, level, phase, message, data)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.JobID, e.TS, string(e.Level), e.Phase, e.Message, data)
	return classify("append job log", err)
}

type logRow struct {
	JobID   string    `db:"job_id"`
	TS      time.Time `db:"ts"`
	Level   string    `db:"level"`
	Phase   string    `db:"phase"`
	Message string    `db:"message"`
	Data    []byte    `db:"data"`
}

// Logs returns the last limit entries, oldest first.
func (s *Store) Logs(ctx context.Context, jobID string, limit int) ([]models.JobLog, error) {
	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT job_id, ts, level, phase, message, data FROM (
			SELECT id, job_id, ts, level, phase, message, data FROM job_logs
			WHERE job_id = $1 ORDER BY id DESC LIMIT $2
		) t ORDER BY id`, jobID, limit); err != nil {
		return nil, classify("job logs", err)
	}
	out := make([]models.JobLog, 0, len(rows))
	for _, r := range rows {
		e := models.JobLog{JobID: r.JobID, TS: r.TS.UTC(), Level: models.LogLevel(r.Level), Phase: r.Phase, Message: r.Message}
		if len(r.Data) > 0 {
			_ = json.Unmarshal(r.Data, &e.Data)
		}
		out = append(out, e)
	}
	return out, nil
}
