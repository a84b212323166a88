package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/domain"
	"github.com/osvaldoandrade/netdemo/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// maxUpdateAttempts bounds optimistic-lock retries on a contended job key.
const maxUpdateAttempts = 16

type jobRedisRepo struct {
	rdb       *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewJobRepository returns a Redis-backed persistence.JobStorage.
//
// Layout:
//
//	netdemo:job:<id>     STRING  job JSON
//	netdemo:jobs         SET     every stored id
//	netdemo:jobs:ttl     ZSET    member=id, score=retention expiry (epoch), terminal jobs only
//	netdemo:q:pending    LIST    FIFO of pending ids (LPUSH / BRPOP)
func NewJobRepository(rdb *redis.Client, retention time.Duration, now func() time.Time) persistence.JobStorage {
	if retention <= 0 {
		retention = persistence.DefaultRetention
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &jobRedisRepo{rdb: rdb, retention: retention, now: now}
}

// ===== Keys =====
const (
	KeyJobsSet      = "netdemo:jobs"
	KeyTTLIndex     = "netdemo:jobs:ttl"
	KeyQueuePending = "netdemo:q:pending"
)

func (r *jobRedisRepo) keyJob(id string) string { return fmt.Sprintf("netdemo:job:%s", id) }
func (r *jobRedisRepo) keyJobsSet() string      { return KeyJobsSet }
func (r *jobRedisRepo) keyTTLIndex() string     { return KeyTTLIndex }
func (r *jobRedisRepo) keyQueuePending() string { return KeyQueuePending }

func marshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalJob(js string) (*domain.Job, error) {
	var j domain.Job
	if err := json.Unmarshal([]byte(js), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobRedisRepo) Submit(ctx context.Context, job *domain.Job) error {
	ok, err := r.rdb.SetNX(ctx, r.keyJob(job.ID), marshal(job), 0).Result()
	if err != nil {
		return fmt.Errorf("redis SETNX job: %w", err)
	}
	if !ok {
		return persistence.ErrAlreadyExists
	}
	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, r.keyJobsSet(), job.ID)
	pipe.LPush(ctx, r.keyQueuePending(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = r.rdb.Del(ctx, r.keyJob(job.ID)).Err()
		return fmt.Errorf("redis LPUSH queue: %w", err)
	}
	return nil
}

func (r *jobRedisRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	js, err := r.rdb.Get(ctx, r.keyJob(id)).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GET job: %w", err)
	}
	j, err := unmarshalJob(js)
	if err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return j, nil
}

func (r *jobRedisRepo) Update(ctx context.Context, id string, status domain.JobStatus, result *domain.ExecutionResult) (*domain.Job, bool, error) {
	key := r.keyJob(id)
	var (
		job     *domain.Job
		changed bool
	)
	txf := func(tx *redis.Tx) error {
		js, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return persistence.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("GET job: %w", err)
		}
		job, err = unmarshalJob(js)
		if err != nil {
			return fmt.Errorf("unmarshal job: %w", err)
		}
		now := r.now()
		changed, err = job.Transition(status, result, now)
		if err != nil || !changed {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, marshal(job), 0)
			if job.Status.Terminal() {
				expireAt := now.Add(r.retention).UTC().Unix()
				pipe.ZAdd(ctx, r.keyTTLIndex(), &redis.Z{Score: float64(expireAt), Member: id})
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return job, false, err
		}
		return job, changed, nil
	}
	return nil, false, fmt.Errorf("update job %s: too much contention", id)
}

func (r *jobRedisRepo) Dequeue(ctx context.Context, wait time.Duration) (string, bool, error) {
	if wait <= 0 {
		id, err := r.rdb.RPop(ctx, r.keyQueuePending()).Result()
		if err == redis.Nil {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("RPOP pending: %w", err)
		}
		return id, true, nil
	}
	// BRPOP timeouts are whole seconds.
	if wait < time.Second {
		wait = time.Second
	}
	res, err := r.rdb.BRPop(ctx, wait, r.keyQueuePending()).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, fmt.Errorf("BRPOP pending: %w", err)
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

func (r *jobRedisRepo) PendingLength(ctx context.Context) (int64, error) {
	n, err := r.rdb.LLen(ctx, r.keyQueuePending()).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return n, nil
}

func (r *jobRedisRepo) Count(ctx context.Context) (int64, error) {
	n, err := r.rdb.SCard(ctx, r.keyJobsSet()).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return n, nil
}

func (r *jobRedisRepo) CleanupExpired(ctx context.Context, limit int, before time.Time) (int, error) {
	if limit <= 0 {
		limit = persistence.DefaultCleanupLimit
	}
	ids, err := r.rdb.ZRangeByScore(ctx, r.keyTTLIndex(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.UTC().Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("ZRANGEBYSCORE ttl-index: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := r.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.keyJob(id))
		pipe.SRem(ctx, r.keyJobsSet(), id)
		pipe.ZRem(ctx, r.keyTTLIndex(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	return len(ids), nil
}
