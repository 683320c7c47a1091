// Package memory is an in-process blob store for local runs and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/inventory"
)

type object struct {
	body        []byte
	contentType string
	modified    time.Time
}

type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	putErr  error
	listErr error
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{objects: make(map[string]object), now: time.Now}
}

func (s *Store) Put(_ context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = object{
		body:        append([]byte(nil), body...),
		contentType: contentType,
		modified:    s.now().UTC(),
	}
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]inventory.ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]inventory.ObjectMeta, 0, len(s.objects))
	for key, obj := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, inventory.ObjectMeta{Key: key, Size: int64(len(obj.body)), LastModified: obj.modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get returns a copy of a stored body.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.body...), true
}

// Seed stores an object with an explicit modification time.
func (s *Store) Seed(key string, body []byte, modified time.Time) {
	s.mu.Lock()
	s.objects[key] = object{body: append([]byte(nil), body...), contentType: "application/json", modified: modified.UTC()}
	s.mu.Unlock()
}

// FailPuts makes every Put return err until called again with nil.
func (s *Store) FailPuts(err error) {
	s.mu.Lock()
	s.putErr = err
	s.mu.Unlock()
}

// FailLists makes every List return err until called again with nil.
func (s *Store) FailLists(err error) {
	s.mu.Lock()
	s.listErr = err
	s.mu.Unlock()
}
