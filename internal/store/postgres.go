package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reelforge/reelforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, project_id, status, unit_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.ProjectID, job.Status, job.UnitCount, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, status, unit_count, created_at, updated_at, completed_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.ProjectID, &j.Status, &j.UnitCount, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1`
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query = `UPDATE jobs SET status = $2, updated_at = NOW(), completed_at = NOW() WHERE id = $1`
	}
	tag, err := s.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- History mirror ---

func (s *PostgresStore) UpsertHistoryEntry(ctx context.Context, entry *models.HistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO history_entries
		     (unit_id, job_id, sequence_number, prompt, aspect_ratio, status,
		      artifact_url, error_message, credential_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (unit_id) DO UPDATE SET
		     status = EXCLUDED.status,
		     artifact_url = EXCLUDED.artifact_url,
		     error_message = EXCLUDED.error_message,
		     credential_id = EXCLUDED.credential_id,
		     updated_at = EXCLUDED.updated_at`,
		entry.UnitID, entry.JobID, entry.SequenceNumber, entry.Prompt, entry.AspectRatio,
		entry.Status, entry.ArtifactURL, entry.ErrorMessage, entry.CredentialID,
		entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert history entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetHistoryEntry(ctx context.Context, unitID uuid.UUID) (*models.HistoryEntry, error) {
	var e models.HistoryEntry
	err := s.pool.QueryRow(ctx,
		`SELECT unit_id, job_id, sequence_number, prompt, aspect_ratio, status,
		        artifact_url, error_message, credential_id, created_at, updated_at
		 FROM history_entries WHERE unit_id = $1`, unitID,
	).Scan(&e.UnitID, &e.JobID, &e.SequenceNumber, &e.Prompt, &e.AspectRatio, &e.Status,
		&e.ArtifactURL, &e.ErrorMessage, &e.CredentialID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history entry: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) ListHistoryByJob(ctx context.Context, jobID uuid.UUID) ([]*models.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT unit_id, job_id, sequence_number, prompt, aspect_ratio, status,
		        artifact_url, error_message, credential_id, created_at, updated_at
		 FROM history_entries WHERE job_id = $1 ORDER BY sequence_number`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list history by job: %w", err)
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

func (s *PostgresStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]*models.HistoryEntry, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	arg := 1

	if filter.JobID != nil {
		where += fmt.Sprintf(" AND job_id = $%d", arg)
		args = append(args, *filter.JobID)
		arg++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", arg)
		args = append(args, filter.Status)
		arg++
	}
	if !filter.Since.IsZero() {
		where += fmt.Sprintf(" AND updated_at >= $%d", arg)
		args = append(args, filter.Since)
		arg++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM history_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := "SELECT unit_id, job_id, sequence_number, prompt, aspect_ratio, status, " +
		"artifact_url, error_message, credential_id, created_at, updated_at FROM history_entries" +
		where + fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d OFFSET $%d", arg, arg+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries, err := scanHistoryRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func scanHistoryRows(rows pgx.Rows) ([]*models.HistoryEntry, error) {
	var entries []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.UnitID, &e.JobID, &e.SequenceNumber, &e.Prompt, &e.AspectRatio,
			&e.Status, &e.ArtifactURL, &e.ErrorMessage, &e.CredentialID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Credentials ---

func (s *PostgresStore) ListCredentials(ctx context.Context) ([]*models.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, label, secret, is_active, request_count, last_used_at, created_at, updated_at
		 FROM credentials ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.Label, &c.Secret, &c.IsActive, &c.RequestCount,
			&c.LastUsedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

func (s *PostgresStore) CreateCredential(ctx context.Context, cred *models.Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (id, label, secret, is_active, request_count, last_used_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cred.ID, cred.Label, cred.Secret, cred.IsActive, cred.RequestCount,
		cred.LastUsedAt, cred.CreatedAt, cred.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetCredentialActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set credential active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateCredentialUsage(ctx context.Context, id uuid.UUID, requestCount int, lastUsedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE credentials SET request_count = $2, last_used_at = $3, updated_at = NOW() WHERE id = $1`,
		id, requestCount, lastUsedAt)
	if err != nil {
		return fmt.Errorf("update credential usage: %w", err)
	}
	return nil
}

// ReplaceCredentials swaps the entire pool contents in one
// transaction.
func (s *PostgresStore) ReplaceCredentials(ctx context.Context, creds []*models.Credential) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace credentials: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	for _, cred := range creds {
		if _, err := tx.Exec(ctx,
			`INSERT INTO credentials (id, label, secret, is_active, request_count, last_used_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			cred.ID, cred.Label, cred.Secret, cred.IsActive, cred.RequestCount,
			cred.LastUsedAt, cred.CreatedAt, cred.UpdatedAt); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// --- Rotation policy ---

func (s *PostgresStore) GetRotationPolicy(ctx context.Context) (*models.RotationPolicy, error) {
	var p models.RotationPolicy
	err := s.pool.QueryRow(ctx,
		`SELECT enabled, interval_minutes, max_requests_per_cred, units_per_batch, batch_delay_seconds
		 FROM rotation_policy WHERE id = TRUE`,
	).Scan(&p.Enabled, &p.IntervalMinutes, &p.MaxRequestsPerCredential, &p.UnitsPerBatch, &p.BatchDelaySeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rotation policy: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveRotationPolicy(ctx context.Context, policy *models.RotationPolicy) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rotation_policy SET enabled = $1, interval_minutes = $2,
		     max_requests_per_cred = $3, units_per_batch = $4, batch_delay_seconds = $5,
		     updated_at = NOW()
		 WHERE id = TRUE`,
		policy.Enabled, policy.IntervalMinutes, policy.MaxRequestsPerCredential,
		policy.UnitsPerBatch, policy.BatchDelaySeconds)
	if err != nil {
		return fmt.Errorf("save rotation policy: %w", err)
	}
	return nil
}

// isDuplicateKeyError reports whether err is a unique-constraint
// violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
