package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// createScript stores the job hash and indexes it unless the key exists
// or, for a retry, the source already has one.
//
// KEYS: job hash, created index, completed index, retry link.
// ARGV: job id, created score, completed score ("" when not completed),
// retry_of ("" when not a retry), then hash field/value pairs.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
if ARGV[4] ~= '' and redis.call('SETNX', KEYS[4], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
if ARGV[3] ~= '' then
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
end
return 1
`)

// transitionScript is the server-side compare-and-set. It returns 0 when
// the job is missing, -1 when the stored status is not the expected one,
// and the updated hash otherwise.
//
// KEYS: job hash, completed index.
// ARGV: from, to, at (unix nanos), terminal flag, failed flag, error,
// completed score, job id.
var transitionScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return 0
end
if cur ~= ARGV[1] then
  return -1
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
redis.call('HSETNX', KEYS[1], 'started_at', ARGV[3])
if ARGV[4] == '1' then
  redis.call('HSET', KEYS[1], 'completed_at', ARGV[3])
end
if ARGV[5] == '1' then
  redis.call('HSET', KEYS[1], 'error', ARGV[6])
end
if ARGV[2] == 'completed' then
  redis.call('ZADD', KEYS[2], ARGV[7], ARGV[8])
end
return redis.call('HGETALL', KEYS[1])
`)

// CreateJob stores the job as a Hash and adds it to the creation index.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	completedScore := ""
	if j.State == job.StateCompleted && j.CompletedAt != nil {
		completedScore = score(*j.CompletedAt)
	}
	retryOf := j.RetryOf.String()
	args := []any{jID, score(j.CreatedAt), completedScore, retryOf}
	for k, v := range jobToMap(j) {
		args = append(args, k, v)
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{jobKey(jID), jobsByCreatedKey, completedKey, retryLinkKey(retryOf)}, args...,
	).Int()
	if err != nil {
		return fmt.Errorf("clipqueue/redis: create job: %w", err)
	}
	if created == 0 {
		return clipqueue.ErrJobAlreadyExists
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("clipqueue/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, clipqueue.ErrJobNotFound
	}
	return mapToJob(vals)
}

// TransitionJob runs the compare-and-set script and decodes the updated
// hash it returns.
func (s *Store) TransitionJob(ctx context.Context, t job.Transition) (*job.Job, error) {
	jID := t.JobID.String()
	at := t.At.UTC()

	res, err := transitionScript.Run(ctx, s.client,
		[]string{jobKey(jID), completedKey},
		string(t.From), string(t.To), nanos(at),
		flag(t.To.Terminal()), flag(t.To == job.StateFailed), t.Error,
		score(at), jID,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("clipqueue/redis: transition job: %w", err)
	}

	switch v := res.(type) {
	case int64:
		if v == 0 {
			return nil, clipqueue.ErrJobNotFound
		}
		return nil, clipqueue.ErrStateConflict
	case []any:
		return mapToJob(pairsToMap(v))
	default:
		return nil, fmt.Errorf("clipqueue/redis: transition job: unexpected reply %T", res)
	}
}

// ListJobs walks the creation index in order and filters client-side.
// CreatedAfter and CreatedBefore narrow the index range first.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	var out []*job.Job
	skip := f.Offset
	err := s.scan(ctx, f, func(j *job.Job) bool {
		if !f.Matches(j) {
			return true
		}
		if skip > 0 {
			skip--
			return true
		}
		out = append(out, j)
		return f.Limit <= 0 || len(out) < f.Limit
	})
	if err != nil {
		return nil, fmt.Errorf("clipqueue/redis: list jobs: %w", err)
	}
	return out, nil
}

// CountJobs returns the number of jobs matching f.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	var n int64
	err := s.scan(ctx, f, func(j *job.Job) bool {
		if f.Matches(j) {
			n++
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("clipqueue/redis: count jobs: %w", err)
	}
	return n, nil
}

// DeleteCompletedBefore removes completed jobs finished before cutoff,
// using the completed index to find candidates.
func (s *Store) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, completedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: score(cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("clipqueue/redis: delete completed range: %w", err)
	}

	var deleted int64
	for start := 0; start < len(ids); start += s.scanBatch {
		chunk := ids[start:min(start+s.scanBatch, len(ids))]
		jobs, err := s.fetch(ctx, chunk)
		if err != nil {
			return deleted, fmt.Errorf("clipqueue/redis: delete completed fetch: %w", err)
		}

		pipe := s.client.TxPipeline()
		var n int64
		for i, jID := range chunk {
			j := jobs[i]
			if j != nil && (j.State != job.StateCompleted || j.CompletedAt == nil || !j.CompletedAt.Before(cutoff)) {
				continue
			}
			// A nil job is a stale index entry; drop it alongside.
			pipe.Del(ctx, jobKey(jID))
			pipe.ZRem(ctx, jobsByCreatedKey, jID)
			pipe.ZRem(ctx, completedKey, jID)
			if j != nil {
				if !j.RetryOf.IsNil() {
					pipe.Del(ctx, retryLinkKey(j.RetryOf.String()))
				}
				n++
			}
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return deleted, fmt.Errorf("clipqueue/redis: delete completed: %w", err)
		}
		deleted += n
	}
	return deleted, nil
}

// ── helpers ──

// scan pages through the creation index, oldest first, and calls fn for
// every job until fn returns false.
func (s *Store) scan(ctx context.Context, f job.Filter, fn func(*job.Job) bool) error {
	rng := &goredis.ZRangeBy{Min: "-inf", Max: "+inf", Count: int64(s.scanBatch)}
	if !f.CreatedAfter.IsZero() {
		rng.Min = score(f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		// Scores are truncated to microseconds, so the bound stays
		// inclusive and Matches applies the exact comparison.
		rng.Max = score(f.CreatedBefore)
	}

	for {
		ids, err := s.client.ZRangeByScore(ctx, jobsByCreatedKey, rng).Result()
		if err != nil {
			return err
		}
		jobs, err := s.fetch(ctx, ids)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			if j == nil {
				continue
			}
			if !fn(j) {
				return nil
			}
		}
		if int64(len(ids)) < rng.Count {
			return nil
		}
		rng.Offset += rng.Count
	}
}

// fetch loads the hashes for ids in one pipeline. Missing jobs come back
// as nil entries.
func (s *Store) fetch(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, err
	}

	out := make([]*job.Job, len(ids))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			continue
		}
		j, err := mapToJob(vals)
		if err != nil {
			return nil, err
		}
		out[i] = j
	}
	return out, nil
}

// score is the index score for t: unix microseconds, which a float64
// holds exactly.
func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func nanos(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixNano(), 10)
}

func fromNanos(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":                j.ID.String(),
		"type":              string(j.Type),
		"status":            string(j.State),
		"priority":          strconv.Itoa(j.Priority),
		"tier":              j.Tier,
		"owner_id":          j.OwnerID,
		"related_entity_id": j.RelatedEntityID,
		"payload":           string(j.Payload),
		"payload_version":   strconv.Itoa(j.PayloadVersion),
		"batch_id":          j.BatchID.String(),
		"attempt":           strconv.Itoa(j.Attempt),
		"retry_of":          j.RetryOf.String(),
		"error":             j.Error,
		"created_at":        nanos(j.CreatedAt),
		"updated_at":        nanos(j.UpdatedAt),
	}
	if j.StartedAt != nil {
		m["started_at"] = nanos(*j.StartedAt)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = nanos(*j.CompletedAt)
	}
	return m
}

func pairsToMap(pairs []any) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		v, _ := pairs[i+1].(string)
		m[k] = v
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("clipqueue/redis: parse job id: %w", err)
	}
	batchID, err := id.ParseOptional(m["batch_id"], id.PrefixBatch)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/redis: parse batch id: %w", err)
	}
	retryOf, err := id.ParseOptional(m["retry_of"], id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/redis: parse retry_of: %w", err)
	}
	createdAt, err := fromNanos(m["created_at"])
	if err != nil {
		return nil, fmt.Errorf("clipqueue/redis: parse created_at: %w", err)
	}
	updatedAt, err := fromNanos(m["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("clipqueue/redis: parse updated_at: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])              //nolint:errcheck // written by jobToMap
	payloadVersion, _ := strconv.Atoi(m["payload_version"]) //nolint:errcheck // written by jobToMap
	attempt, _ := strconv.Atoi(m["attempt"])                //nolint:errcheck // written by jobToMap

	j := &job.Job{
		Entity: clipqueue.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:              jID,
		Type:            job.Type(m["type"]),
		State:           job.State(m["status"]),
		Priority:        priority,
		Tier:            m["tier"],
		OwnerID:         m["owner_id"],
		RelatedEntityID: m["related_entity_id"],
		Payload:         []byte(m["payload"]),
		PayloadVersion:  payloadVersion,
		BatchID:         batchID,
		Attempt:         attempt,
		RetryOf:         retryOf,
		Error:           m["error"],
	}
	if v := m["started_at"]; v != "" {
		t, err := fromNanos(v)
		if err != nil {
			return nil, fmt.Errorf("clipqueue/redis: parse started_at: %w", err)
		}
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, err := fromNanos(v)
		if err != nil {
			return nil, fmt.Errorf("clipqueue/redis: parse completed_at: %w", err)
		}
		j.CompletedAt = &t
	}
	return j, nil
}
