package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/roomscan/pkg/models"
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

const jobColumns = `job_id, status, blueprint_ref, blueprint_format, content_hash, result_ref, error,
	request_id, correlation_id, api_version, created_at, updated_at, expires_at`

func scanJob(row pgx.Row) (models.JobRecord, error) {
	var r models.JobRecord
	err := row.Scan(&r.JobID, &r.Status, &r.BlueprintRef, &r.BlueprintFormat, &r.ContentHash,
		&r.ResultRef, &r.Error, &r.RequestID, &r.CorrelationID, &r.APIVersion,
		&r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt)
	if err != nil {
		return models.JobRecord{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	return r, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, rec models.JobRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.JobID, rec.Status, rec.BlueprintRef, rec.BlueprintFormat, rec.ContentHash,
		rec.ResultRef, rec.Error, rec.RequestID, rec.CorrelationID, rec.APIVersion,
		rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt)
	if isDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (models.JobRecord, error) {
	r, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobRecord{}, ErrNotFound
	}
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("get job: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateJobIf(ctx context.Context, jobID string, expected JobVersion, upd JobUpdate) (models.JobRecord, error) {
	r, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs
		 SET status = $4, updated_at = $5, result_ref = COALESCE($6, result_ref), error = $7
		 WHERE job_id = $1 AND status = $2 AND updated_at = $3
		 RETURNING `+jobColumns,
		jobID, string(expected.Status), expected.UpdatedAt,
		string(upd.Status), upd.UpdatedAt, upd.ResultRef, upd.Error))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.JobRecord{}, fmt.Errorf("update job: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE job_id = $1)`, jobID).Scan(&exists); err != nil {
		return models.JobRecord{}, fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return models.JobRecord{}, ErrNotFound
	}
	return models.JobRecord{}, ErrConditionFailed
}

// --- Subscriptions ---

const subscriptionColumns = `connection_id, job_id, status, created_at, last_activity, expires_at`

func scanSubscriptions(rows pgx.Rows) ([]models.Subscription, error) {
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ConnectionID, &sub.JobID, &sub.Status,
			&sub.CreatedAt, &sub.LastActivity, &sub.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) PutSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (connection_id, job_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   last_activity = EXCLUDED.last_activity,
		   expires_at = EXCLUDED.expires_at`,
		sub.ConnectionID, sub.JobID, string(sub.Status), sub.CreatedAt, sub.LastActivity, sub.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, connectionID, jobID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM subscriptions WHERE connection_id = $1 AND job_id = $2`, connectionID, jobID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSubscriptionsByConnection(ctx context.Context, connectionID string) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE connection_id = $1 ORDER BY job_id`,
		connectionID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by connection: %w", err)
	}
	return scanSubscriptions(rows)
}

func (s *PostgresStore) ListSubscriptionsByJob(ctx context.Context, jobID string, now time.Time) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE job_id = $1 AND status = $2 AND expires_at > $3
		 ORDER BY connection_id`,
		jobID, string(models.SubscriptionSubscribed), now)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by job: %w", err)
	}
	return scanSubscriptions(rows)
}

func (s *PostgresStore) TouchConnection(ctx context.Context, connectionID string, at, expiresAt time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET last_activity = $2, expires_at = $3 WHERE connection_id = $1`,
		connectionID, at, expiresAt)
	if err != nil {
		return 0, fmt.Errorf("touch connection: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Feedback ---

const feedbackColumns = `feedback_id, job_id, feedback_type, room_id, correction, created_at`

func (s *PostgresStore) CreateFeedback(ctx context.Context, fb models.Feedback) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (`+feedbackColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		fb.ID, fb.JobID, string(fb.Type), fb.RoomID, fb.Correction, fb.CreatedAt)
	if isDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if isForeignKeyError(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeedbackByJob(ctx context.Context, jobID string) ([]models.Feedback, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE job_id = $1 ORDER BY created_at, feedback_id`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []models.Feedback
	for rows.Next() {
		var fb models.Feedback
		var correction []byte
		if err := rows.Scan(&fb.ID, &fb.JobID, &fb.Type, &fb.RoomID, &correction, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if correction != nil {
			fb.Correction = correction
		}
		fb.CreatedAt = fb.CreatedAt.UTC()
		out = append(out, fb)
	}
	return out, rows.Err()
}

// --- Retention ---

// PurgeExpired deletes jobs and subscriptions whose expiry has passed.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	var res PurgeResult

	rows, err := s.pool.Query(ctx, `DELETE FROM jobs WHERE expires_at <= $1 RETURNING job_id`, now)
	if err != nil {
		return res, fmt.Errorf("purge jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return res, fmt.Errorf("purge jobs: %w", err)
	}
	res.JobIDs = ids

	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE expires_at <= $1`, now)
	if err != nil {
		return res, fmt.Errorf("purge subscriptions: %w", err)
	}
	res.Subscriptions = tag.RowsAffected()
	return res, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
