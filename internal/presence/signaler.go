// Package presence tracks typing indicators and the online user set.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-sync/internal/clock"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/logger"
)

// Emitter publishes the local user's typing state.
type Emitter interface {
	PublishTyping(ctx context.Context, req model.TypingRequest) error
}

// Options tunes the typing timers.
type Options struct {
	// Idle is how long after the last keystroke a stop is emitted. It is
	// also the minimum gap between two renewing starts.
	Idle time.Duration
	// Expiry drops a remote typer that sent no renewing start.
	Expiry time.Duration
}

// DefaultOptions returns the timings used by the web client.
func DefaultOptions() Options {
	return Options{Idle: 2 * time.Second, Expiry: 4 * time.Second}
}

// Signaler owns typing and presence state for one signed-in session.
type Signaler struct {
	mu       sync.Mutex
	clock    clock.Clock
	emitter  Emitter
	opts     Options
	onChange func(model.ThreadKey)
	logger   *logger.Logger

	local  map[model.ThreadKey]*localTyping
	remote map[model.ThreadKey]map[string]*remoteTyping
	online map[string]struct{}
	closed bool
}

type localTyping struct {
	lastStart time.Time
	idle      *clock.Timer
	seq       uint64
}

type remoteTyping struct {
	expiry *clock.Timer
}

// New creates a Signaler. onChange is called outside the lock whenever a
// thread's remote typing set changes; it may be nil.
func New(clk clock.Clock, emitter Emitter, opts Options, onChange func(model.ThreadKey), log *logger.Logger) *Signaler {
	if onChange == nil {
		onChange = func(model.ThreadKey) {}
	}
	return &Signaler{
		clock:    clk,
		emitter:  emitter,
		opts:     opts,
		onChange: onChange,
		logger:   log,
		local:    make(map[model.ThreadKey]*localTyping),
		remote:   make(map[model.ThreadKey]map[string]*remoteTyping),
		online:   make(map[string]struct{}),
	}
}

// Keystroke records local typing in key. The first keystroke of a burst
// emits a start, later ones renew it at most once per Idle, and Idle of
// silence emits a stop.
func (s *Signaler) Keystroke(ctx context.Context, key model.ThreadKey) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	lt, ok := s.local[key]
	emit := false
	if !ok {
		lt = &localTyping{}
		s.local[key] = lt
		emit = true
	} else if now.Sub(lt.lastStart) >= s.opts.Idle {
		emit = true
	}
	if emit {
		lt.lastStart = now
	}
	if lt.idle != nil {
		lt.idle.Stop()
	}
	lt.seq++
	seq := lt.seq
	lt.idle = s.clock.AfterFunc(s.opts.Idle, func() { s.idleStop(key, lt, seq) })
	s.mu.Unlock()

	if emit {
		s.emit(ctx, key, true)
	}
}

// StopTyping emits a stop right away if the local user is typing in key.
func (s *Signaler) StopTyping(ctx context.Context, key model.ThreadKey) {
	s.mu.Lock()
	lt, ok := s.local[key]
	if ok {
		delete(s.local, key)
		if lt.idle != nil {
			lt.idle.Stop()
		}
	}
	s.mu.Unlock()

	if ok {
		s.emit(ctx, key, false)
	}
}

// IsTyping reports whether the local user is currently typing in key.
func (s *Signaler) IsTyping(key model.ThreadKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.local[key]
	return ok
}

func (s *Signaler) idleStop(key model.ThreadKey, lt *localTyping, seq uint64) {
	s.mu.Lock()
	if s.local[key] != lt || lt.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.local, key)
	s.mu.Unlock()

	s.emit(context.Background(), key, false)
}

func (s *Signaler) emit(ctx context.Context, key model.ThreadKey, typing bool) {
	err := s.emitter.PublishTyping(ctx, model.TypingRequest{ThreadKey: key, IsTyping: typing})
	if err != nil {
		s.logger.Debug("typing signal not sent",
			logger.Thread(key),
			zap.Bool("is_typing", typing),
			zap.Error(err),
		)
	}
}

// RemoteTyping applies a typing start or stop from another user.
func (s *Signaler) RemoteTyping(key model.ThreadKey, userID string, typing bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	users := s.remote[key]
	rt, existed := users[userID]
	if existed {
		rt.expiry.Stop()
	}

	changed := false
	if typing {
		if users == nil {
			users = make(map[string]*remoteTyping)
			s.remote[key] = users
		}
		entry := &remoteTyping{}
		entry.expiry = s.clock.AfterFunc(s.opts.Expiry, func() { s.expireRemote(key, userID, entry) })
		users[userID] = entry
		changed = !existed
	} else if existed {
		s.removeRemoteLocked(key, userID)
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.onChange(key)
	}
}

func (s *Signaler) expireRemote(key model.ThreadKey, userID string, entry *remoteTyping) {
	s.mu.Lock()
	if s.remote[key][userID] != entry {
		s.mu.Unlock()
		return
	}
	s.removeRemoteLocked(key, userID)
	s.mu.Unlock()

	s.onChange(key)
}

func (s *Signaler) removeRemoteLocked(key model.ThreadKey, userID string) {
	delete(s.remote[key], userID)
	if len(s.remote[key]) == 0 {
		delete(s.remote, key)
	}
}

// Typing lists the remote users typing in key.
func (s *Signaler) Typing(key model.ThreadKey) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.remote[key]))
	for id := range s.remote[key] {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// ForgetThread drops all typing state for a thread that is no longer cached.
func (s *Signaler) ForgetThread(key model.ThreadKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rt := range s.remote[key] {
		rt.expiry.Stop()
	}
	delete(s.remote, key)
	if lt, ok := s.local[key]; ok {
		lt.idle.Stop()
		delete(s.local, key)
	}
}

// SetOnline records a presence change.
func (s *Signaler) SetOnline(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if online {
		s.online[userID] = struct{}{}
		return
	}
	delete(s.online, userID)
}

// IsOnline reports whether userID is in the online set.
func (s *Signaler) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

// Online lists the online user ids.
func (s *Signaler) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.online))
	for id := range s.online {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// ResetOnline empties the online set. Called on reconnect, after which the
// server replays presence from scratch.
func (s *Signaler) ResetOnline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]struct{})
}

// Close stops every timer and discards all state. The Signaler ignores
// further input.
func (s *Signaler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lt := range s.local {
		if lt.idle != nil {
			lt.idle.Stop()
		}
	}
	for _, users := range s.remote {
		for _, rt := range users {
			rt.expiry.Stop()
		}
	}
	s.local = make(map[model.ThreadKey]*localTyping)
	s.remote = make(map[model.ThreadKey]map[string]*remoteTyping)
	s.online = make(map[string]struct{})
	s.closed = true
}
