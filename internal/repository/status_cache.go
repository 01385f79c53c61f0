package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
)

// FileStatusCache writes job_{id}.status.json and appends job_{id}.log as JSON lines.
type FileStatusCache struct {
	dir string
	mu  sync.Mutex
}

func NewFileStatusCache(dir string) (*FileStatusCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("status dir: %w", err)
	}
	return &FileStatusCache{dir: dir}, nil
}

func (c *FileStatusCache) statusPath(jobID string) string {
	return filepath.Join(c.dir, fmt.Sprintf("job_%s.status.json", jobID))
}

func (c *FileStatusCache) logPath(jobID string) string {
	return filepath.Join(c.dir, fmt.Sprintf("job_%s.log", jobID))
}

// WriteStatus replaces the file through a rename so readers never see a partial record.
func (c *FileStatusCache) WriteStatus(_ context.Context, jobID string, rec models.JobStatusRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tmp := c.statusPath(jobID) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.Rename(tmp, c.statusPath(jobID)); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

func (c *FileStatusCache) ReadStatus(_ context.Context, jobID string) (*models.JobStatusRecord, error) {
	raw, err := os.ReadFile(c.statusPath(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.Unavailable("read status", "no status for job %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	var rec models.JobStatusRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &rec, nil
}

func (c *FileStatusCache) AppendLog(_ context.Context, jobID string, entry models.JobLog) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.OpenFile(c.logPath(jobID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open job log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// RedisStatusCache keeps the status record as a JSON string and the log as a capped list.
type RedisStatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	maxLog int64
}

func NewRedisStatusCache(client *redis.Client, prefix string, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{client: client, prefix: prefix, ttl: ttl, maxLog: 5000}
}

func (c *RedisStatusCache) key(jobID, kind string) string {
	return fmt.Sprintf("%s:job:%s:%s", c.prefix, jobID, kind)
}

func (c *RedisStatusCache) WriteStatus(ctx context.Context, jobID string, rec models.JobStatusRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return c.client.Set(ctx, c.key(jobID, "status"), raw, c.ttl).Err()
}

func (c *RedisStatusCache) ReadStatus(ctx context.Context, jobID string) (*models.JobStatusRecord, error) {
	raw, err := c.client.Get(ctx, c.key(jobID, "status")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.Unavailable("read status", "no status for job %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	var rec models.JobStatusRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &rec, nil
}

func (c *RedisStatusCache) AppendLog(ctx context.Context, jobID string, entry models.JobLog) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	key := c.key(jobID, "log")
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -c.maxLog, -1)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}
