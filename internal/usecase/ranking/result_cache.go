package ranking

import (
	"sync"
	"time"

	"heartbeat-backend/internal/domain"
)

type cachedResult struct {
	entries   []domain.RankingEntry
	expiresAt time.Time
}

// ResultCache хранит готовые ответы рейтинга в памяти процесса по ключу limit.
type ResultCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int]cachedResult
}

// NewResultCache создаёт кэш с окном актуальности ttl.
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{ttl: ttl, now: time.Now, entries: make(map[int]cachedResult)}
}

// Get возвращает копию ответа, если он ещё актуален.
func (c *ResultCache) Get(limit int) ([]domain.RankingEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[limit]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return append([]domain.RankingEntry(nil), e.entries...), true
}

// Put сохраняет ответ и попутно выбрасывает истёкшие записи.
func (c *ResultCache) Put(limit int, entries []domain.RankingEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[limit] = cachedResult{
		entries:   append([]domain.RankingEntry(nil), entries...),
		expiresAt: now.Add(c.ttl),
	}
}

// Invalidate очищает кэш, например после полной пересборки рейтинга.
func (c *ResultCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
