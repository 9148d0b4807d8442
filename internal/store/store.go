package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/pagewatch/pkg/types"
)

// Entry is the last good repo list for one page and when it was fetched.
type Entry struct {
	Page       int          `json:"page"`
	Repos      []types.Repo `json:"repos"`
	Generation uint64       `json:"generation"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Store is a thread-safe in-memory cache of fetched pages, keyed by page
// number. A background goroutine (Run) evicts entries that have not been
// refreshed within the TTL. A TTL of zero keeps entries forever.
type Store struct {
	mu   sync.RWMutex
	data map[int]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[int]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the repos for page.
// Callers must not modify repos after calling Put.
func (s *Store) Put(page int, repos []types.Repo, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[page] = &Entry{
		Page:       page,
		Repos:      repos,
		Generation: generation,
		UpdatedAt:  s.now(),
	}
}

// Get returns the live Entry for page. Entries past their TTL are reported
// as missing even before Run evicts them.
func (s *Store) Get(page int) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[page]
	if !ok || !s.live(e, s.now()) {
		return nil, false
	}
	return e, true
}

// List returns all live entries ordered by page.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	now := s.now()
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if s.live(e, now) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for page, e := range s.data {
		if !s.live(e, now) {
			delete(s.data, page)
			removed++
		}
	}
	return removed
}

func (s *Store) live(e *Entry, now time.Time) bool {
	return s.ttl <= 0 || e.UpdatedAt.After(now.Add(-s.ttl))
}

// Run starts the background TTL eviction loop. It ticks at half the TTL interval
// (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale pages", "count", n)
			}
		}
	}
}
