// Package stats persists periodic RunStats snapshots for external
// dashboards. This is observability history, not the task queue itself —
// distwq's task queue stays purely in-memory per spec.md's non-goals.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Snapshot is one point-in-time capture of a controller's RunStats.
type Snapshot struct {
	ID        uint `gorm:"primaryKey"`
	RunID     string
	CapturedAt time.Time
	Mean      float64
	StdDev    float64
	CoeffVar  float64
	Elapsed   float64
	NProcessed json.RawMessage `gorm:"type:jsonb"`
	TotalTime  json.RawMessage `gorm:"type:jsonb"`
}

// Repository persists Snapshots. Mirrors the Create/ListRecent shape of the
// engine's execution repository, scoped down to what a stats reporter
// needs.
type Repository interface {
	Save(ctx context.Context, snap *Snapshot) error
	ListRecent(ctx context.Context, runID string, limit int) ([]*Snapshot, error)
}

// InMemoryRepository is the default, zero-dependency Repository.
type InMemoryRepository struct {
	mu        sync.RWMutex
	snapshots []*Snapshot
}

// NewInMemoryRepository returns an empty InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) Save(ctx context.Context, snap *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snap)
	return nil
}

func (r *InMemoryRepository) ListRecent(ctx context.Context, runID string, limit int) ([]*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Snapshot
	for i := len(r.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		if r.snapshots[i].RunID == runID {
			out = append(out, r.snapshots[i])
		}
	}
	return out, nil
}

// PostgresRepository persists snapshots via gorm, for long-running
// controllers that want durable history across process restarts.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository wraps an already-connected *gorm.DB and ensures the
// snapshots table exists.
func NewPostgresRepository(db *gorm.DB) (*PostgresRepository, error) {
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, fmt.Errorf("stats: migrate snapshots table: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Save(ctx context.Context, snap *Snapshot) error {
	return r.db.WithContext(ctx).Create(snap).Error
}

func (r *PostgresRepository) ListRecent(ctx context.Context, runID string, limit int) ([]*Snapshot, error) {
	var out []*Snapshot
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("captured_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RedisRepository keeps only the most recent N snapshots per run in a
// capped Redis list, for deployments that want cheap recent-history reads
// without standing up Postgres.
type RedisRepository struct {
	client *redis.Client
	maxLen int64
}

// NewRedisRepository wraps an already-connected *redis.Client.
func NewRedisRepository(client *redis.Client, maxLen int64) *RedisRepository {
	if maxLen <= 0 {
		maxLen = 100
	}
	return &RedisRepository{client: client, maxLen: maxLen}
}

func (r *RedisRepository) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("stats: marshal snapshot: %w", err)
	}
	key := "distwq:stats:" + snap.RunID
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.maxLen-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) ListRecent(ctx context.Context, runID string, limit int) ([]*Snapshot, error) {
	key := "distwq:stats:" + runID
	raw, err := r.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(raw))
	for _, item := range raw {
		var snap Snapshot
		if err := json.Unmarshal([]byte(item), &snap); err != nil {
			continue
		}
		out = append(out, &snap)
	}
	return out, nil
}
