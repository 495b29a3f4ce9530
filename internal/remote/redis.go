package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"dayroll/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisProvider stores each day as a JSON string and keeps an index set of
// days per principal.
type RedisProvider struct {
	client *redis.Client
	prefix string
}

func NewRedisProvider(client *redis.Client, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = "dayroll"
	}
	return &RedisProvider{client: client, prefix: prefix}
}

func (r *RedisProvider) Name() string { return "redis" }

func (r *RedisProvider) dayKey(p models.Principal, day models.Day) string {
	return fmt.Sprintf("%s:remote:%s:day:%s", r.prefix, p.ID, day)
}

func (r *RedisProvider) indexKey(p models.Principal) string {
	return fmt.Sprintf("%s:remote:%s:days", r.prefix, p.ID)
}

func (r *RedisProvider) ListDays(ctx context.Context, p models.Principal) ([]models.Day, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	members, err := r.client.SMembers(ctx, r.indexKey(p)).Result()
	if err != nil {
		return nil, Unavailable("redis list days", err)
	}
	days := make([]models.Day, 0, len(members))
	for _, m := range members {
		days = append(days, models.Day(m))
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

func (r *RedisProvider) GetTasksForDate(ctx context.Context, p models.Principal, day models.Day) ([]models.Task, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	raw, err := r.client.Get(ctx, r.dayKey(p, day)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []models.Task{}, nil
	}
	if err != nil {
		return nil, Unavailable("redis get day", err)
	}
	var tasks []models.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decode remote day %s: %w", day, err)
	}
	return tasks, nil
}

func (r *RedisProvider) ReplaceTasks(ctx context.Context, p models.Principal, tasks []models.Task, day models.Day) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	var raw []byte
	if len(tasks) > 0 {
		var err error
		if raw, err = json.Marshal(tasks); err != nil {
			return fmt.Errorf("encode remote day %s: %w", day, err)
		}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(tasks) == 0 {
			pipe.Del(ctx, r.dayKey(p, day))
			pipe.SRem(ctx, r.indexKey(p), string(day))
			return nil
		}
		pipe.Set(ctx, r.dayKey(p, day), raw, 0)
		pipe.SAdd(ctx, r.indexKey(p), string(day))
		return nil
	})
	if err != nil {
		return Unavailable("redis replace day", err)
	}
	return nil
}
