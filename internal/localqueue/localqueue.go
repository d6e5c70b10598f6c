// Package localqueue implements spec §5's local-queue degradation buffer: a
// redis-backed FIFO that holds validated-but-unwritten uploads while the
// graph/search/vector backends are unreachable, drained by replay once the
// degrade controller reports recovery.
package localqueue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"qsrcore/internal/config"
)

// Job is the durable record of one queued-for-replay ingestion: enough to
// re-run the pipeline from the already-stored blob without re-uploading.
type Job struct {
	ProcessID  string `json:"process_id"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	BlobPath   string `json:"blob_path"`
}

// Queue is a nil-safe handle to the redis-backed replay buffer. A nil or
// disabled Queue makes Push/Drain/Len no-ops, so callers do not need to
// branch on whether local-queue degradation is configured.
type Queue struct {
	client redis.UniversalClient
	key    string
}

// New constructs a Queue. Returns (nil, nil) when cfg.Redis is disabled.
func New(cfg config.LocalQueueConfig) (*Queue, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	if cfg.Redis.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("localqueue: redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "qsrcore:localqueue"
	}
	return &Queue{client: client, key: prefix + ":jobs"}, nil
}

// Push enqueues one job for later replay.
func (q *Queue) Push(ctx context.Context, job Job) error {
	if q == nil {
		return nil
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("localqueue: marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, b).Err(); err != nil {
		return fmt.Errorf("localqueue: rpush: %w", err)
	}
	return nil
}

// Len reports how many jobs are currently queued. Returns 0 for a nil Queue.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	if q == nil {
		return 0, nil
	}
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("localqueue: llen: %w", err)
	}
	return n, nil
}

// Drain pops every currently queued job in FIFO order. A job that fails to
// unmarshal is logged and skipped rather than blocking the rest of the
// drain. Returns an empty slice for a nil Queue.
func (q *Queue) Drain(ctx context.Context) ([]Job, error) {
	if q == nil {
		return nil, nil
	}
	var jobs []Job
	for {
		val, err := q.client.LPop(ctx, q.key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return jobs, fmt.Errorf("localqueue: lpop: %w", err)
		}
		var j Job
		if err := json.Unmarshal([]byte(val), &j); err != nil {
			log.Error().Err(err).Msg("localqueue: dropping malformed queued job")
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
