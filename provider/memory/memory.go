// Package memory is an in-process Provider. A Space is the shared durable
// area (think browser origin storage); each Open call returns a separate
// handle that behaves like one tab, so changes made through one handle are
// reported to the watchers of the others.
package memory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	pr "github.com/unkn0wn-root/swrcache/provider"
)

// Space is the storage shared by all handles. quota <= 0 means unbounded.
type Space struct {
	mu    sync.RWMutex
	data  map[string][]byte
	used  int64
	quota int64
	feed  pr.Feed
}

func NewSpace(quota int64) *Space {
	return &Space{data: make(map[string][]byte), quota: quota}
}

// Used is the number of bytes (keys + values) currently stored.
func (s *Space) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// Open returns a new handle onto the space.
func (s *Space) Open() *Memory {
	return &Memory{space: s, origin: uuid.NewString()}
}

// Memory is one handle onto a Space.
type Memory struct {
	space  *Space
	origin string
	closed atomic.Bool
}

var _ pr.Provider = (*Memory)(nil)

// New returns a handle onto a fresh private Space.
func New(quota int64) *Memory { return NewSpace(quota).Open() }

func (m *Memory) Space() *Space { return m.space }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.closed.Load() {
		return nil, false, pr.ErrClosed
	}
	s := m.space
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	if m.closed.Load() {
		return pr.ErrClosed
	}
	s := m.space
	s.mu.Lock()
	next := s.used + int64(len(key)+len(value))
	if old, ok := s.data[key]; ok {
		next -= int64(len(key) + len(old))
	}
	if s.quota > 0 && next > s.quota {
		s.mu.Unlock()
		return pr.ErrQuotaExceeded
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	s.used = next
	s.mu.Unlock()

	s.feed.Publish(m.origin, key)
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	if m.closed.Load() {
		return pr.ErrClosed
	}
	s := m.space
	s.mu.Lock()
	old, ok := s.data[key]
	if ok {
		s.used -= int64(len(key) + len(old))
		delete(s.data, key)
	}
	s.mu.Unlock()

	if ok {
		s.feed.Publish(m.origin, key)
	}
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	if m.closed.Load() {
		return nil, pr.ErrClosed
	}
	s := m.space
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) Watch(_ context.Context, fn func(key string)) (func(), error) {
	if m.closed.Load() {
		return nil, pr.ErrClosed
	}
	return m.space.feed.Subscribe(m.origin, fn), nil
}

// Close marks this handle closed; the Space and other handles are unaffected.
func (m *Memory) Close(_ context.Context) error {
	m.closed.Store(true)
	return nil
}
