package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"waitpoint/internal/apperrors"
	"waitpoint/internal/token"
)

// incrementScript bumps the attempt counter only if the record exists,
// so a poll against an unknown job cannot create a stray hash.
var incrementScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempt_count', 1)
`)

// transitionScript is the conditional status update: set status (and
// completed_at when provided) only if the current status matches ARGV[1].
// Returns 1 when the swap wins, 0 when another poll already resolved the
// token, -1 when the record does not exist.
var transitionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'completed_at', ARGV[3])
end
return 1
`)

// Tokens exposes the store through the token.Store interface.
func (s *Store) Tokens() token.Store { return &tokenStore{s} }

type tokenStore struct{ s *Store }

// Put persists a new token record as a hash and indexes its job ID.
func (t *tokenStore) Put(ctx context.Context, rec *token.Record) error {
	key := tokenKey(rec.JobID)

	exists, err := t.s.client.Exists(ctx, key).Result()
	if err != nil {
		return apperrors.Internal("redis.putToken", err)
	}
	if exists > 0 {
		return apperrors.Conflict("token", rec.JobID, "token already registered for job")
	}

	pipe := t.s.client.TxPipeline()
	pipe.HSet(ctx, key, tokenToMap(rec))
	pipe.SAdd(ctx, tokenIDsKey, rec.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Internal("redis.putToken", err)
	}
	return nil
}

// Get retrieves a token record by job ID.
func (t *tokenStore) Get(ctx context.Context, jobID string) (*token.Record, error) {
	fields, err := t.s.client.HGetAll(ctx, tokenKey(jobID)).Result()
	if err != nil {
		return nil, apperrors.Internal("redis.getToken", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.NotFound("token", jobID)
	}
	return mapToToken(fields)
}

// IncrementAttempts atomically bumps the attempt counter on the server.
func (t *tokenStore) IncrementAttempts(ctx context.Context, jobID string) (int, error) {
	n, err := incrementScript.Run(ctx, t.s.client, []string{tokenKey(jobID)}).Int()
	if err != nil {
		return 0, apperrors.Internal("redis.incrementAttempts", err)
	}
	if n < 0 {
		return 0, apperrors.NotFound("token", jobID)
	}
	return n, nil
}

// TransitionStatus performs the conditional status swap on the server.
func (t *tokenStore) TransitionStatus(ctx context.Context, jobID string, from, to token.Status, completedAt time.Time) (bool, error) {
	completed := ""
	if to.Terminal() {
		completed = completedAt.Format(time.RFC3339Nano)
	}

	n, err := transitionScript.Run(ctx, t.s.client,
		[]string{tokenKey(jobID)},
		string(from), string(to), completed,
	).Int()
	if err != nil {
		return false, apperrors.Internal("redis.transitionStatus", err)
	}
	if n < 0 {
		return false, apperrors.NotFound("token", jobID)
	}
	return n == 1, nil
}

// List returns all token records.
func (t *tokenStore) List(ctx context.Context) ([]*token.Record, error) {
	ids, err := t.s.client.SMembers(ctx, tokenIDsKey).Result()
	if err != nil {
		return nil, apperrors.Internal("redis.listTokens", err)
	}

	records := make([]*token.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := t.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListExpired returns POLLING records whose expiry has passed.
func (t *tokenStore) ListExpired(ctx context.Context, now time.Time) ([]*token.Record, error) {
	all, err := t.List(ctx)
	if err != nil {
		return nil, err
	}

	var expired []*token.Record
	for _, rec := range all {
		if rec.Expired(now) {
			expired = append(expired, rec)
		}
	}
	return expired, nil
}

// Ready checks that Redis is reachable.
func (t *tokenStore) Ready(ctx context.Context) error { return t.s.Ready(ctx) }

func tokenToMap(rec *token.Record) map[string]any {
	fields := map[string]any{
		"job_id":        rec.JobID,
		"task_token":    rec.TaskToken,
		"execution_id":  rec.ExecutionID,
		"attempt_count": rec.AttemptCount,
		"max_attempts":  rec.MaxAttempts,
		"status":        string(rec.Status),
		"created_at":    rec.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":    rec.ExpiresAt.Format(time.RFC3339Nano),
	}
	if rec.CompletedAt != nil {
		fields["completed_at"] = rec.CompletedAt.Format(time.RFC3339Nano)
	}
	return fields
}

func mapToToken(fields map[string]string) (*token.Record, error) {
	rec := &token.Record{
		JobID:       fields["job_id"],
		TaskToken:   fields["task_token"],
		ExecutionID: fields["execution_id"],
		Status:      token.Status(fields["status"]),
	}

	var err error
	if rec.AttemptCount, err = strconv.Atoi(fields["attempt_count"]); err != nil {
		return nil, apperrors.Internal("redis.decodeToken", err)
	}
	if rec.MaxAttempts, err = strconv.Atoi(fields["max_attempts"]); err != nil {
		return nil, apperrors.Internal("redis.decodeToken", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, apperrors.Internal("redis.decodeToken", err)
	}
	if rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, apperrors.Internal("redis.decodeToken", err)
	}
	if v, ok := fields["completed_at"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, apperrors.Internal("redis.decodeToken", err)
		}
		rec.CompletedAt = &t
	}
	return rec, nil
}

// Verify interface conformance
var _ token.Store = (*tokenStore)(nil)
