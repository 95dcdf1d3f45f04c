package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"todo-api/api"

	"github.com/redis/go-redis/v9"
)

// Todos is the task persistence surface that CachedTasks decorates.
type Todos interface {
	GetUserTodos(ctx context.Context, userID int64) ([]api.Todo, error)
	CreateUserTodo(ctx context.Context, t api.Todo) (api.Todo, error)
	GetTodo(ctx context.Context, id int64) (api.Todo, error)
	UpdateTodo(ctx context.Context, t api.Todo) error
	DeleteTodo(ctx context.Context, id int64) error
}

// CachedTasks puts a Redis read-through cache in front of single-todo
// lookups. Writes go to the backing store first and then drop the cached
// entry. Redis failures are logged and never fail the request.
type CachedTasks struct {
	Todos
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedTasks(inner Todos, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedTasks {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedTasks{Todos: inner, rdb: rdb, ttl: ttl, logger: logger}
}

// InitRedis connects to addr and pings it.
func InitRedis(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	logger.Info("Redis connection successful", "addr", addr)
	return rdb, nil
}

func cacheKey(id int64) string {
	return fmt.Sprintf("todo:%d", id)
}

func (c *CachedTasks) GetTodo(ctx context.Context, id int64) (api.Todo, error) {
	key := cacheKey(id)

	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var t api.Todo
		if err := json.Unmarshal([]byte(val), &t); err == nil {
			c.logger.Debug("cache hit", "key", key)
			return t, nil
		}
		c.logger.Warn("discarding unreadable cache entry", "key", key)
	case errors.Is(err, redis.Nil):
		c.logger.Debug("cache miss", "key", key)
	default:
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}

	t, err := c.Todos.GetTodo(ctx, id)
	if err != nil {
		return api.Todo{}, err
	}

	data, err := json.Marshal(t)
	if err != nil {
		c.logger.Warn("cache marshal failed", "key", key, "error", err)
		return t, nil
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return t, nil
}

func (c *CachedTasks) UpdateTodo(ctx context.Context, t api.Todo) error {
	if err := c.Todos.UpdateTodo(ctx, t); err != nil {
		return err
	}
	c.invalidate(ctx, t.ID)
	return nil
}

func (c *CachedTasks) DeleteTodo(ctx context.Context, id int64) error {
	if err := c.Todos.DeleteTodo(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *CachedTasks) invalidate(ctx context.Context, id int64) {
	key := cacheKey(id)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", "key", key, "error", err)
	}
}
