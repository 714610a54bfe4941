package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/filepreview/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each job in a hash and indexes it in three sorted sets:
// queued (scored by run_at), active (by lease_until) and finished (by finished_at).
// The immutable request part of a job is msgpack-encoded into the payload field;
// lifecycle fields are plain hash fields so the Lua scripts can compare-and-set them.
type RedisStore struct {
	client *redis.Client
	keys   redisKeys
}

// NewRedisStore wraps an existing client. prefix namespaces every key.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, keys: redisKeys{prefix: prefix}}
}

// ConnectRedis parses a Redis URL and verifies the server answers.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type redisKeys struct {
	prefix string
}

func (k redisKeys) job(id string) string { return k.prefix + ":job:" + id }
func (k redisKeys) jobPrefix() string    { return k.prefix + ":job:" }
func (k redisKeys) queued() string       { return k.prefix + ":queued" }
func (k redisKeys) active() string       { return k.prefix + ":active" }
func (k redisKeys) finished() string     { return k.prefix + ":finished" }

// payload is the part of a job fixed at submission.
type payload struct {
	Options     models.Options `msgpack:"options"`
	DownloadURL string         `msgpack:"download_url"`
	SignedS3URL string         `msgpack:"signed_s3_url"`
	CallbackURL string         `msgpack:"callback_url"`
	MaxAttempts int            `msgpack:"max_attempts"`
	CreatedAt   time.Time      `msgpack:"created_at"`
}

// claimScript pops the earliest due job from the queued set, leases it and
// returns {id, hash}.
// KEYS: queued, active. ARGV: now score, lease score, now, lease, job key prefix.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
local key = ARGV[5] .. id
redis.call('ZREM', KEYS[1], id)
redis.call('HINCRBY', key, 'attempts_made', 1)
redis.call('HSET', key, 'state', 'active', 'lease_until', ARGV[4], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], id)
return {id, redis.call('HGETALL', key)}
`)

// transitionScript moves an active job owned by the given attempt to a new state.
// KEYS: job, active, target set. ARGV: id, attempt, state, target score, now, then field/value pairs.
// Returns -1 if the job is gone, 0 if the claim is stale, or the updated hash.
var transitionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'state') ~= 'active' then
  return 0
end
if redis.call('HGET', KEYS[1], 'attempts_made') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
redis.call('HDEL', KEYS[1], 'lease_until')
redis.call('HSET', KEYS[1], 'state', ARGV[3], 'updated_at', ARGV[5])
for i = 6, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return redis.call('HGETALL', KEYS[1])
`)

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Enqueue(ctx context.Context, job *models.Job) error {
	id := job.ID.String()
	key := s.keys.job(id)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("enqueue check exists: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateKey
	}

	data, err := msgpack.Marshal(payload{
		Options:     job.Options,
		DownloadURL: job.DownloadURL,
		SignedS3URL: job.SignedS3URL,
		CallbackURL: job.CallbackURL,
		MaxAttempts: job.MaxAttempts,
		CreatedAt:   job.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"payload", data,
		"state", string(job.State),
		"attempts_made", job.AttemptsMade,
		"run_at", formatTime(job.RunAt),
		"updated_at", formatTime(job.UpdatedAt),
	)
	pipe.ZAdd(ctx, s.keys.queued(), redis.Z{Score: float64(score(job.RunAt)), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, now time.Time, lease time.Duration) (*models.Job, error) {
	until := now.Add(lease)
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.keys.queued(), s.keys.active()},
		score(now), score(until), formatTime(now), formatTime(until), s.keys.jobPrefix(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("claim job: unexpected script reply of length %d", len(res))
	}

	id, ok := res[0].(string)
	if !ok {
		return nil, fmt.Errorf("claim job: unexpected id type %T", res[0])
	}
	fields, ok := res[1].([]any)
	if !ok {
		return nil, fmt.Errorf("claim job: unexpected hash type %T", res[1])
	}
	vals, err := hashReply(fields)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return decodeJob(id, vals)
}

func (s *RedisStore) Retry(ctx context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string) error {
	_, err := s.transition(ctx, id, attempt, models.JobStateQueued, s.keys.queued(), runAt,
		"run_at", formatTime(runAt),
		"last_error", lastErr,
	)
	return err
}

func (s *RedisStore) Complete(ctx context.Context, id uuid.UUID, attempt int, result string) (*models.Job, error) {
	now := time.Now().UTC()
	vals, err := s.transition(ctx, id, attempt, models.JobStateCompleted, s.keys.finished(), now,
		"result", result,
		"finished_at", formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	return decodeJob(id.String(), vals)
}

func (s *RedisStore) Fail(ctx context.Context, id uuid.UUID, attempt int, msg string) (*models.Job, error) {
	now := time.Now().UTC()
	vals, err := s.transition(ctx, id, attempt, models.JobStateFailed, s.keys.finished(), now,
		"last_error", msg,
		"finished_at", formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	return decodeJob(id.String(), vals)
}

// transition commits the compare-and-set and returns the record as written,
// read inside the same script so the caller never needs a second round trip.
func (s *RedisStore) transition(ctx context.Context, id uuid.UUID, attempt int, state models.JobState,
	target string, at time.Time, fields ...string) (map[string]string, error) {
	args := []any{id.String(), strconv.Itoa(attempt), string(state), score(at), formatTime(time.Now().UTC())}
	for _, f := range fields {
		args = append(args, f)
	}

	res, err := transitionScript.Run(ctx, s.client,
		[]string{s.keys.job(id.String()), s.keys.active(), target}, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("transition job to %s: %w", state, err)
	}

	switch v := res.(type) {
	case int64:
		if v == -1 {
			return nil, ErrNotFound
		}
		return nil, ErrStaleClaim
	case []any:
		vals, err := hashReply(v)
		if err != nil {
			return nil, fmt.Errorf("transition job to %s: %w", state, err)
		}
		return vals, nil
	default:
		return nil, fmt.Errorf("transition job to %s: unexpected script reply %T", state, res)
	}
}

// hashReply turns a flat HGETALL array from a script into a field map.
func hashReply(reply []any) (map[string]string, error) {
	if len(reply)%2 != 0 {
		return nil, fmt.Errorf("odd hash reply length %d", len(reply))
	}
	vals := make(map[string]string, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		field, ok1 := reply[i].(string)
		value, ok2 := reply[i+1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("unexpected hash entry types %T, %T", reply[i], reply[i+1])
		}
		vals[field] = value
	}
	return vals, nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.load(ctx, id.String())
}

func (s *RedisStore) Expired(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.active(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(score(now), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *RedisStore) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.finished(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(score(before), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list finished jobs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.keys.job(id))
		pipe.ZRem(ctx, s.keys.finished(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return len(ids), nil
}

func (s *RedisStore) load(ctx context.Context, id string) (*models.Job, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return decodeJob(id, vals)
}

func decodeJob(id string, vals map[string]string) (*models.Job, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}

	var p payload
	if err := msgpack.Unmarshal([]byte(vals["payload"]), &p); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}

	attempts, err := strconv.Atoi(vals["attempts_made"])
	if err != nil {
		return nil, fmt.Errorf("parse attempts_made: %w", err)
	}

	j := &models.Job{
		ID:           jobID,
		Options:      p.Options,
		DownloadURL:  p.DownloadURL,
		SignedS3URL:  p.SignedS3URL,
		CallbackURL:  p.CallbackURL,
		MaxAttempts:  p.MaxAttempts,
		AttemptsMade: attempts,
		State:        models.JobState(vals["state"]),
		CreatedAt:    p.CreatedAt,
		Result:       optString(vals, "result"),
		LastError:    optString(vals, "last_error"),
		LeaseUntil:   optTime(vals, "lease_until"),
		FinishedAt:   optTime(vals, "finished_at"),
	}
	if t := optTime(vals, "run_at"); t != nil {
		j.RunAt = *t
	}
	if t := optTime(vals, "updated_at"); t != nil {
		j.UpdatedAt = *t
	}
	return j, nil
}

func optString(vals map[string]string, field string) *string {
	v, ok := vals[field]
	if !ok {
		return nil
	}
	return &v
}

func optTime(vals map[string]string, field string) *time.Time {
	v, ok := vals[field]
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func score(t time.Time) int64 {
	return t.UnixMilli()
}
