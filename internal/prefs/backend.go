// Package prefs stores the user's preferences and the state the tracker
// mirrors for restart recovery.
package prefs

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrUnavailable wraps every failure to reach a backend.
var ErrUnavailable = errors.New("preferences unavailable")

// Backend is a flat string key/value store. Set applies all values as one
// commit. Subscribers are told about every key whose value changed, whoever
// changed it.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, values map[string]string) error
	Clear(ctx context.Context) error
	Subscribe(fn func(key string)) (cancel func())
	Close() error
}

type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(string)
}

func (s *subscribers) add(fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(string))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) notify(keys ...string) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, k := range keys {
		for _, fn := range fns {
			fn(k)
		}
	}
}

// changedKeys lists the keys whose value differs between a and b, sorted.
func changedKeys(a, b map[string]string) []string {
	var out []string
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Memory keeps preferences in process.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
	subs   subscribers
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	before := copyValues(m.values)
	for k, v := range values {
		m.values[k] = v
	}
	changed := changedKeys(before, m.values)
	m.mu.Unlock()
	m.subs.notify(changed...)
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	changed := changedKeys(m.values, nil)
	m.values = make(map[string]string)
	m.mu.Unlock()
	m.subs.notify(changed...)
	return nil
}

func (m *Memory) Subscribe(fn func(key string)) func() {
	return m.subs.add(fn)
}

func (m *Memory) Close() error { return nil }

func copyValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
