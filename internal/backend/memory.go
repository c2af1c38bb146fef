package backend

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Memory is an in-process Backend backed by a map with brute-force vector
// search. It is the default for tests and throwaway dev runs; nothing
// survives a restart.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

// Put stores or replaces the object at key.
func (m *Memory) Put(ctx context.Context, key string, obj Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = cloneObject(obj)
	return nil
}

// Get returns the object at key, expired or not.
func (m *Memory) Get(ctx context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	return cloneObject(obj), nil
}

// Delete removes the object at key.
func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	delete(m.objects, key)
	return ok, nil
}

// Exists reports whether a non-expired object is stored at key.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return ok && !obj.Expired(timeNow()), nil
}

// List returns sorted keys of non-expired objects under prefix.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	now := timeNow()
	m.mu.RLock()
	keys := make([]string, 0)
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) && !obj.Expired(now) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// VectorSearch scores every embedded, non-expired object under prefix by
// cosine similarity and returns the topK, highest first.
func (m *Memory) VectorSearch(ctx context.Context, vector []float32, prefix string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	now := timeNow()

	m.mu.RLock()
	matches := make([]Match, 0)
	for k, obj := range m.objects {
		if !strings.HasPrefix(k, prefix) || obj.Expired(now) || len(obj.Embedding) == 0 {
			continue
		}
		matches = append(matches, Match{Key: k, Score: CosineSimilarity(vector, obj.Embedding)})
	}
	m.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Key < matches[j].Key
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error {
	return nil
}

func cloneObject(obj Object) Object {
	out := obj
	out.Data = append([]byte(nil), obj.Data...)
	if obj.Embedding != nil {
		out.Embedding = append([]float32(nil), obj.Embedding...)
	}
	if obj.Meta != nil {
		out.Meta = make(map[string]string, len(obj.Meta))
		for k, v := range obj.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

var _ Backend = (*Memory)(nil)
