// Package ratelimit ограничивает частоту запросов по идентификатору клиента.
//
// Хранилище окон внедряется через интерфейс Store: в одном процессе достаточно
// MemoryStore, при нескольких экземплярах сервиса используется общий RedisStore
// или хранилище в PostgreSQL из пакета repository.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLimited возвращается, когда клиент исчерпал лимит запросов в окне.
var ErrLimited = errors.New("rate limit exceeded")

// Rule задаёт лимит: не более Requests запросов за скользящее окно Window.
type Rule struct {
	Requests int
	Window   time.Duration
}

// Validate проверяет, что правило задано положительными значениями.
func (r Rule) Validate() error {
	if r.Requests <= 0 || r.Window <= 0 {
		return fmt.Errorf("rate limit rule must have positive values, got %d per %s", r.Requests, r.Window)
	}
	return nil
}

// Decision описывает результат проверки лимита.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Err возвращает ErrLimited для отклонённого запроса.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrLimited
}

// Store учитывает запрос клиента и решает, можно ли его пропустить.
// Отклонённые запросы в окне не учитываются.
type Store interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func allowed(rule Rule, count int) Decision {
	return Decision{Allowed: true, Remaining: rule.Requests - count}
}

func denied(rule Rule) Decision {
	return Decision{Allowed: false, RetryAfter: rule.Window}
}
