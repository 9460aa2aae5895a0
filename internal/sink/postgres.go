package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"pixdesk/internal/pix"
)

const (
	REDIS_KEY_SUBMISSION = "intake:submission:"
	SUBMISSION_CACHE_TTL = 10 * time.Minute
	DEFAULT_LIST_LIMIT   = 50
	MAX_LIST_LIMIT       = 200
)

// PostgresStore persists submissions in the submissions table and mirrors
// fresh ones into Redis so dashboard polls skip the database.
type PostgresStore struct {
	pool        *pgxpool.Pool
	redisClient *redis.Client
}

// NewPostgresStore builds a store around an existing pool. redisClient may be
// nil; caching is then skipped.
func NewPostgresStore(pool *pgxpool.Pool, redisClient *redis.Client) *PostgresStore {
	return &PostgresStore{pool: pool, redisClient: redisClient}
}

// Submit inserts rec as a PENDING submission and returns its id. Store
// failures come back wrapped in ErrUnavailable so callers know to retry.
func (s *PostgresStore) Submit(ctx context.Context, rec Record) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO submissions
			(id, owner_id, display_name, key_type, pix_key, image_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		id, rec.OwnerID, rec.DisplayName, string(rec.KeyType), rec.Key.Normalized, rec.ImageRef, StatusPending, now,
	)
	if err != nil {
		log.Printf("[SINK] Insert failed for owner %s: %v", rec.OwnerID, err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.cache(ctx, Submission{
		ID:          id,
		OwnerID:     rec.OwnerID,
		DisplayName: rec.DisplayName,
		KeyType:     rec.KeyType,
		PixKey:      rec.Key.Normalized,
		ImageRef:    rec.ImageRef,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})

	log.Printf("[SINK] Stored submission %s for %s (%s)", id, rec.DisplayName, rec.KeyType)
	return id, nil
}

// List returns submissions, newest first, optionally filtered by status.
func (s *PostgresStore) List(ctx context.Context, status string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = DEFAULT_LIST_LIMIT
	}
	if limit > MAX_LIST_LIMIT {
		limit = MAX_LIST_LIMIT
	}

	query := `
		SELECT id, owner_id, display_name, key_type, pix_key, image_ref, status, COALESCE(reason, ''), created_at, updated_at
		FROM submissions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		var keyType string
		if err := rows.Scan(&sub.ID, &sub.OwnerID, &sub.DisplayName, &keyType, &sub.PixKey,
			&sub.ImageRef, &sub.Status, &sub.Reason, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		sub.KeyType = pix.KeyType(keyType)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Review approves or rejects a pending submission.
func (s *PostgresStore) Review(ctx context.Context, id string, approve bool, reason string) (Submission, error) {
	status := StatusRejected
	if approve {
		status = StatusApproved
	}

	var sub Submission
	var keyType string
	err := s.pool.QueryRow(ctx, `
		UPDATE submissions
		SET status = $2, reason = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING id, owner_id, display_name, key_type, pix_key, image_ref, status, COALESCE(reason, ''), created_at, updated_at`,
		id, status, reason,
	).Scan(&sub.ID, &sub.OwnerID, &sub.DisplayName, &keyType, &sub.PixKey,
		&sub.ImageRef, &sub.Status, &sub.Reason, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sub.KeyType = pix.KeyType(keyType)

	s.cache(ctx, sub)
	log.Printf("[SINK] Submission %s reviewed: %s", id, status)
	return sub, nil
}

func (s *PostgresStore) cache(ctx context.Context, sub Submission) {
	if s.redisClient == nil {
		return
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return
	}
	if err := s.redisClient.Set(ctx, REDIS_KEY_SUBMISSION+sub.ID, data, SUBMISSION_CACHE_TTL).Err(); err != nil {
		log.Printf("[SINK] Cache write failed for %s: %v", sub.ID, err)
	}
}

// GetCached fetches a submission summary from Redis, if still cached.
func (s *PostgresStore) GetCached(ctx context.Context, id string) (Submission, bool) {
	if s.redisClient == nil {
		return Submission{}, false
	}
	data, err := s.redisClient.Get(ctx, REDIS_KEY_SUBMISSION+id).Bytes()
	if err != nil {
		return Submission{}, false
	}
	var sub Submission
	if json.Unmarshal(data, &sub) != nil {
		return Submission{}, false
	}
	return sub, true
}
