package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore хранит отметки времени запросов в памяти процесса.
// Состояние теряется при перезапуске.
type MemoryStore struct {
	rule Rule
	now  func() time.Time

	mu       sync.Mutex
	requests map[string][]time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore создаёт хранилище окон в памяти.
func NewMemoryStore(rule Rule) (*MemoryStore, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	return &MemoryStore{
		rule:     rule,
		now:      time.Now,
		requests: make(map[string][]time.Time),
	}, nil
}

// Allow учитывает запрос клиента key.
func (s *MemoryStore) Allow(_ context.Context, key string) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.recent(key, now)
	if len(recent) >= s.rule.Requests {
		s.requests[key] = recent
		return denied(s.rule), nil
	}

	recent = append(recent, now)
	s.requests[key] = recent

	return allowed(s.rule, len(recent)), nil
}

// recent возвращает отметки, попадающие в окно. Вызывается под мьютексом.
func (s *MemoryStore) recent(key string, now time.Time) []time.Time {
	times := s.requests[key]

	i := 0
	for i < len(times) && now.Sub(times[i]) >= s.rule.Window {
		i++
	}
	if i == 0 {
		return times
	}

	return append(times[:0:0], times[i:]...)
}

// Sweep удаляет устаревшие отметки и пустые окна.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.requests {
		recent := s.recent(key, now)
		if len(recent) == 0 {
			delete(s.requests, key)
			removed++
			continue
		}
		s.requests[key] = recent
	}

	return removed
}

// Len возвращает количество отслеживаемых клиентов.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Run периодически очищает хранилище до отмены контекста.
func (s *MemoryStore) Run(ctx context.Context, every time.Duration) {
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
			s.Sweep()
		}
	}
}
