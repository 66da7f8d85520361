package cache

import (
	"sort"
	"sync"

	"github.com/capitalize-ai/support-sync/internal/model"
)

// Store owns one Thread per key. Every patch runs under a single lock so a
// read-modify-write for one event never interleaves with another.
type Store struct {
	mu       sync.Mutex
	threads  map[model.ThreadKey]*Thread
	watchers map[model.ThreadKey]map[*watcher]struct{}
}

type watcher struct {
	ch chan struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		threads:  make(map[model.ThreadKey]*Thread),
		watchers: make(map[model.ThreadKey]map[*watcher]struct{}),
	}
}

// Open creates the thread with its newest page (oldest-first, as the server
// returns it). It is a no-op returning false when the thread already exists,
// so a late initial load never clobbers messages reconciled meanwhile.
func (s *Store) Open(key model.ThreadKey, newest []model.Message, hasMore bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[key]; ok {
		return false
	}

	t := newThread(key)
	for i := range newest {
		if t.Contains(newest[i].ID) {
			continue
		}
		t.InsertNewest(newest[i].Clone())
	}
	t.hasMoreOlder = hasMore
	t.version = 1
	s.threads[key] = t
	s.notifyLocked(key)
	return true
}

// Has reports whether key is cached.
func (s *Store) Has(key model.ThreadKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.threads[key]
	return ok
}

// Update runs fn against the cached thread under the store lock. When fn
// reports a change the version is bumped and watchers are woken. Update
// returns false when the thread is not cached; fn is not called then.
func (s *Store) Update(key model.ThreadKey, fn func(*Thread) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[key]
	if !ok {
		return false
	}
	if fn(t) {
		t.version++
		s.notifyLocked(key)
	}
	return true
}

// Read runs fn against the cached thread without committing anything.
func (s *Store) Read(key model.ThreadKey, fn func(*Thread)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[key]
	if !ok {
		return false
	}
	fn(t)
	return true
}

// View returns the UI read contract for key.
func (s *Store) View(key model.ThreadKey) (model.ThreadView, bool) {
	var view model.ThreadView
	ok := s.Read(key, func(t *Thread) {
		view = t.View()
	})
	return view, ok
}

// Keys lists cached threads in stable order.
func (s *Store) Keys() []model.ThreadKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]model.ThreadKey, 0, len(s.threads))
	for k := range s.threads {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Drop evicts one thread.
func (s *Store) Drop(key model.ThreadKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[key]; !ok {
		return false
	}
	delete(s.threads, key)
	s.notifyLocked(key)
	return true
}

// Reset evicts every thread.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.threads {
		delete(s.threads, key)
		s.notifyLocked(key)
	}
}

// Watch returns a channel that receives a value after changes to key.
// Notifications coalesce: a slow reader sees at most one pending signal and
// should re-read the view. The returned func stops the watch.
func (s *Store) Watch(key model.ThreadKey) (<-chan struct{}, func()) {
	w := &watcher{ch: make(chan struct{}, 1)}

	s.mu.Lock()
	set, ok := s.watchers[key]
	if !ok {
		set = make(map[*watcher]struct{})
		s.watchers[key] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers[key], w)
			if len(s.watchers[key]) == 0 {
				delete(s.watchers, key)
			}
		})
	}
}

// Touch wakes watchers of key without changing the thread, for state kept
// outside the cache such as typing indicators.
func (s *Store) Touch(key model.ThreadKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyLocked(key)
}

func (s *Store) notifyLocked(key model.ThreadKey) {
	for w := range s.watchers[key] {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}
