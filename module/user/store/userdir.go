package store

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// UserDirectory 用户目录里的持久化在线状态投影。
// 真实可见状态以 fleet 在线集为准（TTL 收敛）；这一列是落库投影，
// 给离线查询和后台报表用。
type UserDirectory interface {
	SetStatus(ctx context.Context, userID, status string, lastSeenAt time.Time) error
	GetStatus(ctx context.Context, userID string) (status string, lastSeenAt time.Time, err error)
}

// ===== Postgres 实现 =====

type PgUserDirectory struct {
	pool *pgxpool.Pool
}

func OpenPg(ctx context.Context, databaseURL string) (*PgUserDirectory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "pg connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pg ping")
	}
	return &PgUserDirectory{pool: pool}, nil
}

func (d *PgUserDirectory) Close() { d.pool.Close() }

func (d *PgUserDirectory) SetStatus(ctx context.Context, userID, status string, lastSeenAt time.Time) error {
	// upsert：users 行不存在也能落状态
	_, err := d.pool.Exec(ctx, `
		INSERT INTO user_presence (user_id, status, last_seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET status = EXCLUDED.status, last_seen_at = EXCLUDED.last_seen_at`,
		userID, status, lastSeenAt)
	return errors.Wrap(err, "set status")
}

func (d *PgUserDirectory) GetStatus(ctx context.Context, userID string) (string, time.Time, error) {
	var status string
	var lastSeen time.Time
	err := d.pool.QueryRow(ctx,
		`SELECT status, last_seen_at FROM user_presence WHERE user_id = $1`,
		userID).Scan(&status, &lastSeen)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "get status")
	}
	return status, lastSeen, nil
}

// ===== 内存实现（单测） =====

type MemUserDirectory struct {
	mu sync.Mutex
	m  map[string]memStatus
}

type memStatus struct {
	status   string
	lastSeen time.Time
}

func NewMemUserDirectory() *MemUserDirectory {
	return &MemUserDirectory{m: make(map[string]memStatus)}
}

func (d *MemUserDirectory) SetStatus(_ context.Context, userID, status string, lastSeenAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[userID] = memStatus{status: status, lastSeen: lastSeenAt}
	return nil
}

func (d *MemUserDirectory) GetStatus(_ context.Context, userID string) (string, time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.m[userID]
	if !ok {
		return "", time.Time{}, errors.New("user not found")
	}
	return s.status, s.lastSeen, nil
}
