// Package sequence hands out human-facing order numbers. Every backend is an
// atomic increment; none reads the current maximum.
package sequence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/nazeru/medstore-orders-go/internal/order/store"
)

// Start is the first number issued by a fresh sequence.
const Start int64 = 1000

const redisKey = "medstore:order_number"

var (
	_ store.Sequencer = (*Postgres)(nil)
	_ store.Sequencer = (*Redis)(nil)
	_ store.Sequencer = (*Memory)(nil)
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres draws from order_number_seq.
type Postgres struct {
	db rowQuerier
}

func NewPostgres(db rowQuerier) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Next(ctx context.Context) (int64, error) {
	var n int64
	if err := p.db.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return n, nil
}

// RedisClient is the part of *redis.Client the sequencer uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Redis increments a single key with INCR. The key is seeded once so the
// first number issued is Start.
type Redis struct {
	client RedisClient
	seeded atomic.Bool
}

func NewRedis(client RedisClient) *Redis {
	return &Redis{client: client}
}

func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

func (r *Redis) Next(ctx context.Context) (int64, error) {
	if !r.seeded.Load() {
		if err := r.client.SetNX(ctx, redisKey, Start-1, 0).Err(); err != nil {
			return 0, fmt.Errorf("seed order number: %w", err)
		}
		r.seeded.Store(true)
	}
	n, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return n, nil
}

// Memory is a process-local counter for tests and demo mode.
type Memory struct {
	last atomic.Int64
}

func NewMemory() *Memory {
	m := &Memory{}
	m.last.Store(Start - 1)
	return m
}

func (m *Memory) Next(context.Context) (int64, error) {
	return m.last.Add(1), nil
}
