// Package repository содержит хранилище окон ограничения запросов в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/cvbuilder-pay/internal/ratelimit"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRateLimitStore хранит отметки запросов в PostgreSQL и позволяет
// нескольким экземплярам сервиса разделять один лимит.
type PostgresRateLimitStore struct {
	pool       *pgxpool.Pool
	rule       ratelimit.Rule
	now        func() time.Time
	maxRetries uint64
	retryBase  time.Duration
}

var _ ratelimit.Store = (*PostgresRateLimitStore)(nil)

// NewPostgresRateLimitStore создаёт хранилище и инициализирует схему БД через миграции.
func NewPostgresRateLimitStore(dsn string, rule ratelimit.Rule) (*PostgresRateLimitStore, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresRateLimitStore{
		pool:       pool,
		rule:       rule,
		now:        time.Now,
		maxRetries: 3,
		retryBase:  50 * time.Millisecond,
	}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresRateLimitStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (s *PostgresRateLimitStore) Close() error {
	s.pool.Close()
	return nil
}

// Allow учитывает запрос клиента key. Проверка и запись выполняются в одной
// транзакции под advisory-блокировкой ключа.
func (s *PostgresRateLimitStore) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	var decision ratelimit.Decision

	err := s.withRetry(ctx, func() error {
		d, err := s.allowOnce(ctx, key)
		if err != nil {
			return err
		}
		decision = d
		return nil
	})
	if err != nil {
		return ratelimit.Decision{}, err
	}

	return decision, nil
}

func (s *PostgresRateLimitStore) allowOnce(ctx context.Context, key string) (ratelimit.Decision, error) {
	now := s.now()
	cutoff := now.Add(-s.rule.Window)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("lock client key: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM rate_limit_hits WHERE client_key = $1 AND hit_at <= $2`,
		key, cutoff,
	); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("delete expired hits: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM rate_limit_hits WHERE client_key = $1`,
		key,
	).Scan(&count); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("count hits: %w", err)
	}

	if count >= s.rule.Requests {
		if err := tx.Commit(ctx); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("commit tx: %w", err)
		}
		return ratelimit.Decision{Allowed: false, RetryAfter: s.rule.Window}, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO rate_limit_hits (client_key, hit_at) VALUES ($1, $2)`,
		key, now,
	); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("insert hit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("commit tx: %w", err)
	}

	return ratelimit.Decision{Allowed: true, Remaining: s.rule.Requests - count - 1}, nil
}

// Sweep удаляет отметки всех клиентов, вышедшие за окно.
func (s *PostgresRateLimitStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rate_limit_hits WHERE hit_at <= $1`,
		s.now().Add(-s.rule.Window),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep hits: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Run периодически очищает таблицу до отмены контекста.
func (s *PostgresRateLimitStore) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = s.rule.Window
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}

// withRetry повторяет fn с экспоненциальной задержкой, пока ошибка остаётся
// временной: конфликт сериализации, взаимоблокировка или обрыв соединения.
func (s *PostgresRateLimitStore) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.retryBase))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}
