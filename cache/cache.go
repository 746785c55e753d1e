// Package cache is a TTL and capacity bounded store of computed answers,
// keyed by normalized query text. Eviction is strict least-recently-used.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/ann82/havenline/models"
)

type entry struct {
	key      string
	answer   models.Answer
	storedAt time.Time
}

// Cache maps normalized queries to previously computed answers.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	ll         *list.List // front = most recently used
	items      map[string]*list.Element
	hits       int64
	misses     int64
	done       chan struct{}
	sweepOnce  sync.Once
}

// New creates a cache holding at most maxEntries answers, each valid for ttl.
func New(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		done:       make(chan struct{}),
	}
}

// Normalize lowercases, trims, and collapses whitespace in a query so that
// trivially different phrasings share one cache slot.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Get returns the cached answer for query if present and fresh. A stale
// entry is removed and reported as a miss.
func (c *Cache) Get(query string) (models.Answer, bool) {
	key := Normalize(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return models.Answer{}, false
	}
	ent := el.Value.(*entry)
	if time.Since(ent.storedAt) > c.ttl {
		c.removeLocked(el)
		c.misses++
		return models.Answer{}, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	ans := ent.answer
	ans.Source = models.SourceCache
	return ans, true
}

// Put stores an answer for query, evicting the least recently used entry
// if the cache is full. The entry count never exceeds the configured
// maximum after any insert.
func (c *Cache) Put(query string, ans models.Answer) {
	key := Normalize(query)
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).answer = ans
		el.Value.(*entry).storedAt = time.Now()
		c.ll.MoveToFront(el)
		return
	}
	for c.ll.Len() >= c.maxEntries {
		c.removeLocked(c.ll.Back())
	}
	c.items[key] = c.ll.PushFront(&entry{key: key, answer: ans, storedAt: time.Now()})
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// StartSweeper launches a background goroutine that removes stale entries
// every interval. Stop terminates it.
func (c *Cache) StartSweeper(interval time.Duration) {
	c.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.sweep()
				case <-c.done:
					return
				}
			}
		}()
	})
}

// Stop terminates the sweeper goroutine, if one is running.
func (c *Cache) Stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []*list.Element
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		if time.Since(el.Value.(*entry).storedAt) > c.ttl {
			stale = append(stale, el)
		}
	}
	for _, el := range stale {
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	delete(c.items, el.Value.(*entry).key)
	c.ll.Remove(el)
}
