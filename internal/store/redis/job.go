package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"waitpoint/internal/apperrors"
	"waitpoint/internal/job"
)

// Put stores the job as a hash.
func (s *Store) Put(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return apperrors.Internal("redis.putJob", err)
	}
	if exists > 0 {
		return apperrors.Conflict("job", j.ID, "job already exists")
	}

	if err := s.client.HSet(ctx, key, jobToMap(j)).Err(); err != nil {
		return apperrors.Internal("redis.putJob", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*job.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, apperrors.Internal("redis.getJob", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.NotFound("job", jobID)
	}
	return mapToJob(fields)
}

// Update overwrites an existing job.
func (s *Store) Update(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return apperrors.Internal("redis.updateJob", err)
	}
	if exists == 0 {
		return apperrors.NotFound("job", j.ID)
	}

	if err := s.client.HSet(ctx, key, jobToMap(j)).Err(); err != nil {
		return apperrors.Internal("redis.updateJob", err)
	}
	return nil
}

func jobToMap(j *job.Job) map[string]any {
	fields := map[string]any{
		"id":               j.ID,
		"status":           string(j.Status),
		"poll_count":       j.PollCount,
		"completion_polls": j.CompletionPolls,
		"outcome":          string(j.Outcome),
		"created_at":       j.CreatedAt.Format(time.RFC3339Nano),
	}
	if j.CompletedAt != nil {
		fields["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if len(j.Meta) > 0 {
		meta, _ := json.Marshal(j.Meta)
		fields["meta"] = string(meta)
	}
	return fields
}

func mapToJob(fields map[string]string) (*job.Job, error) {
	j := &job.Job{
		ID:      fields["id"],
		Status:  job.Status(fields["status"]),
		Outcome: job.Status(fields["outcome"]),
	}

	var err error
	if j.PollCount, err = strconv.Atoi(fields["poll_count"]); err != nil {
		return nil, apperrors.Internal("redis.decodeJob", err)
	}
	if j.CompletionPolls, err = strconv.Atoi(fields["completion_polls"]); err != nil {
		return nil, apperrors.Internal("redis.decodeJob", err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, apperrors.Internal("redis.decodeJob", err)
	}
	if v, ok := fields["completed_at"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, apperrors.Internal("redis.decodeJob", err)
		}
		j.CompletedAt = &t
	}
	if v, ok := fields["meta"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &j.Meta); err != nil {
			return nil, apperrors.Internal("redis.decodeJob", err)
		}
	}
	return j, nil
}

// Verify interface conformance
var _ job.Store = (*Store)(nil)
