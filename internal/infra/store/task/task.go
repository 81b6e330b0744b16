package taskstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/you-humble/degreegen/internal/domain"

	"github.com/redis/go-redis/v9"
)

// claimScript moves a pending task to processing; returns 1 on success.
var claimScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") == ARGV[1] then
	redis.call("HSET", KEYS[1], "status", ARGV[2], "updated_at", ARGV[3])
	return 1
end
return 0
`)

// progressScript stores ARGV[1] only if it is larger than the stored
// progress, keeping progress monotonic under concurrent writers.
var progressScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local cur = tonumber(redis.call("HGET", KEYS[1], "progress") or "0")
local val = tonumber(ARGV[1])
if val > cur then
	redis.call("HSET", KEYS[1], "progress", ARGV[1], "updated_at", ARGV[2])
	return val
end
return cur
`)

type redisTaskStore struct {
	rdb redis.Cmdable
}

func NewRedisTaskStore(rdb redis.Cmdable) *redisTaskStore {
	return &redisTaskStore{rdb: rdb}
}

// CreateTask registers a pending task. It fails with domain.ErrTaskExists
// if the id is already known, which guarantees one run per id.
func (s *redisTaskStore) CreateTask(ctx context.Context, p domain.CreateTaskParams) error {
	if p.ID == "" {
		return fmt.Errorf("empty task id")
	}
	if p.TTL <= 0 {
		p.TTL = time.Hour
	}
	hk := taskKey(p.ID)

	created, err := s.rdb.HSetNX(ctx, hk, "status", string(domain.StatusPending)).Result()
	if err != nil {
		return fmt.Errorf("redis CreateTask: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", domain.ErrTaskExists, p.ID)
	}

	now := time.Now()
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk,
		"format", string(p.Format),
		"total", p.Total,
		"progress", 0,
		"created_at", now.UnixNano(),
		"updated_at", now.UnixNano(),
		"expires_at", now.Add(p.TTL).UnixNano(),
	)
	pipe.ZAdd(ctx, tasksByCreatedKey(), redis.Z{Score: float64(now.Unix()), Member: p.ID})
	pipe.Expire(ctx, hk, 2*p.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		_ = s.rdb.Del(ctx, hk).Err()
		return fmt.Errorf("redis CreateTask: %w", err)
	}
	return nil
}

func (s *redisTaskStore) Task(ctx context.Context, id string) (domain.Task, error) {
	res, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return domain.Task{}, fmt.Errorf("redis Task: %w", err)
	}
	if len(res) == 0 {
		return domain.Task{}, domain.ErrTaskNotFound
	}

	t := domain.Task{
		ID:          id,
		Status:      domain.TaskStatus(res["status"]),
		Format:      domain.OutputFormat(res["format"]),
		ArchiveName: res["archive"],
		Error:       res["error"],
		Total:       atoi(res["total"]),
		Progress:    atoi(res["progress"]),
		CreatedAt:   unixNano(res["created_at"]),
		UpdatedAt:   unixNano(res["updated_at"]),
		ExpiresAt:   unixNano(res["expires_at"]),
	}
	return t, nil
}

// Claim marks a pending task as processing. It returns false when another
// run already claimed it or it is in a terminal state.
func (s *redisTaskStore) Claim(ctx context.Context, id string) (bool, error) {
	n, err := claimScript.Run(ctx, s.rdb, []string{taskKey(id)},
		string(domain.StatusPending),
		string(domain.StatusProcessing),
		time.Now().UnixNano(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis Claim: %w", err)
	}
	return n == 1, nil
}

// SetProgress stores progress if it is larger than the stored value and
// returns the value now stored.
func (s *redisTaskStore) SetProgress(ctx context.Context, id string, progress int) (int, error) {
	n, err := progressScript.Run(ctx, s.rdb, []string{taskKey(id)}, progress, time.Now().UnixNano()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis SetProgress: %w", err)
	}
	if n < 0 {
		return 0, domain.ErrTaskNotFound
	}
	return n, nil
}

func (s *redisTaskStore) SetResult(ctx context.Context, id string, archive string) error {
	hk := taskKey(id)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk,
		"archive", archive,
		"error", "",
		"progress", 100,
		"status", string(domain.StatusDone),
		"updated_at", time.Now().UnixNano(),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SetResult: %w", err)
	}
	return nil
}

func (s *redisTaskStore) UpdateStatus(ctx context.Context, id string, newStatus domain.TaskStatus, errReason string) {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, taskKey(id),
		"status", string(newStatus),
		"error", errReason,
		"updated_at", time.Now().UnixNano(),
	)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis UpdateStatus",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// ExpiredTasks marks tasks past their expiry as expired and returns them.
func (s *redisTaskStore) ExpiredTasks(ctx context.Context, now time.Time) []domain.Task {
	ids, err := s.rdb.ZRangeByScore(ctx, tasksByCreatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		slog.Warn("redis ExpiredTasks", slog.String("error", err.Error()))
		return nil
	}

	var expired []domain.Task
	for _, id := range ids {
		t, err := s.Task(ctx, id)
		if err != nil {
			continue
		}
		if now.After(t.ExpiresAt) && t.Status != domain.StatusExpired {
			s.UpdateStatus(ctx, id, domain.StatusExpired, domain.ErrTaskExpired.Error())
			t.Status = domain.StatusExpired
			expired = append(expired, t)
		}
	}
	return expired
}

// DeleteExpired drops tasks created more than ttl before now, including
// ids whose hash already expired in redis.
func (s *redisTaskStore) DeleteExpired(ctx context.Context, now time.Time, ttl time.Duration) int {
	border := now.Add(-ttl).Unix()

	ids, err := s.rdb.ZRangeByScore(ctx, tasksByCreatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(border, 10),
	}).Result()
	if err != nil {
		return 0
	}

	deleted := 0
	for _, id := range ids {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, taskKey(id))
		pipe.ZRem(ctx, tasksByCreatedKey(), id)

		if _, err := pipe.Exec(ctx); err == nil {
			deleted++
		}
	}
	return deleted
}

func atoi(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func unixNano(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrTaskNotFound)
}

func taskKey(id string) string {
	return "degree:task:" + id
}

func tasksByCreatedKey() string {
	return "degree:tasks:by_created"
}
