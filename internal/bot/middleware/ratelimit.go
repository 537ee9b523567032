package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter ограничивает частоту запросов каждого пользователя:
// не больше limit запросов за window, с равномерным пополнением.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	every   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter создаёт ограничитель и запускает очистку простаивающих корзин.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		buckets: make(map[int64]*bucket),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Close останавливает фоновую очистку.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow сообщает, можно ли обработать ещё один запрос пользователя.
func (rl *RateLimiter) Allow(userID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[userID]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.every, rl.burst)}
		rl.buckets[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// sweep удаляет корзины, которые простаивали дольше окна:
// за это время они гарантированно пополнились до полной.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.idle)
	for id, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, id)
		}
	}
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}
