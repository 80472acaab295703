// Package signal carries stop requests and progress snapshots between
// instances that share a Redis server.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
)

// StopSignal records stop requests where any instance running the job can
// see them.
type StopSignal interface {
	Request(ctx context.Context, jobID string) error
	Requested(ctx context.Context, jobID string) (bool, error)
}

// ProgressPublisher stores the latest counters of a running job.
type ProgressPublisher interface {
	Publish(ctx context.Context, jobID string, p model.Progress) error
}

// Snapshot is a published progress record.
type Snapshot struct {
	JobID     string         `json:"job_id"`
	Progress  model.Progress `json:"progress"`
	UpdatedAt time.Time      `json:"updated_at"`
}

const (
	stopPrefix     = "tam:stop:"
	progressPrefix = "tam:progress:"
)

// RedisSignal implements StopSignal and ProgressPublisher with expiring
// Redis keys.
type RedisSignal struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisSignal wraps an existing client. Keys expire after ttl.
func NewRedisSignal(rdb redis.UniversalClient, ttl time.Duration) *RedisSignal {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSignal{rdb: rdb, ttl: ttl}
}

// Connect parses url, verifies the server answers, and returns a signal
// backed by it.
func Connect(ctx context.Context, url string, ttl time.Duration) (*RedisSignal, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "signal: parse redis url")
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "signal: ping redis")
	}
	return NewRedisSignal(rdb, ttl), nil
}

// Request marks jobID as stopped.
func (s *RedisSignal) Request(ctx context.Context, jobID string) error {
	return eris.Wrap(s.rdb.Set(ctx, stopPrefix+jobID, time.Now().UTC().Format(time.RFC3339), s.ttl).Err(), "signal: request stop")
}

// Requested reports whether a stop was requested for jobID.
func (s *RedisSignal) Requested(ctx context.Context, jobID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, stopPrefix+jobID).Result()
	if err != nil {
		return false, eris.Wrap(err, "signal: check stop")
	}
	return n > 0, nil
}

// Clear drops the stop request and progress snapshot for jobID.
func (s *RedisSignal) Clear(ctx context.Context, jobID string) error {
	return eris.Wrap(s.rdb.Del(ctx, stopPrefix+jobID, progressPrefix+jobID).Err(), "signal: clear")
}

// Publish stores p as the latest snapshot for jobID.
func (s *RedisSignal) Publish(ctx context.Context, jobID string, p model.Progress) error {
	b, err := json.Marshal(Snapshot{JobID: jobID, Progress: p, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "signal: marshal snapshot")
	}
	return eris.Wrap(s.rdb.Set(ctx, progressPrefix+jobID, b, s.ttl).Err(), "signal: publish progress")
}

// Progress returns the latest snapshot for jobID, or nil when none was
// published.
func (s *RedisSignal) Progress(ctx context.Context, jobID string) (*Snapshot, error) {
	b, err := s.rdb.Get(ctx, progressPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "signal: get progress")
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, eris.Wrap(err, "signal: decode snapshot")
	}
	return &snap, nil
}

// Close closes the underlying client.
func (s *RedisSignal) Close() error {
	return s.rdb.Close()
}
