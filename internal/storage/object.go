// Package storage provides the object store behind prompt blobs and
// conversation exports.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Sentinel errors for storage operations
var (
	// ErrObjectNotFound indicates the requested object does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions for the operation
	ErrAccessDenied = errors.New("access denied")

	// ErrNetworkError indicates a network connectivity issue
	ErrNetworkError = errors.New("network error")
)

// ObjectStore is the blob interface the pipeline writes through. Put
// returns the storage URL of the written object.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// PromptBlobs adapts an ObjectStore to the prompt-body sink used by the
// system-prompt stripper. Bodies land under prompts/<prompt_id>.txt so
// operators can inspect a stripped prompt by its reference id.
type PromptBlobs struct {
	Store ObjectStore
}

func (p *PromptBlobs) PutBlob(ctx context.Context, promptID string, content []byte) error {
	key := "prompts/" + promptID + ".txt"
	_, err := p.Store.Put(ctx, key, content, "text/plain", map[string]string{"prompt_id": promptID})
	return err
}

// MemoryStore is an in-process ObjectStore for tests and for running
// without a configured bucket.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
	tags        map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string, tags map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = memObject{data: cp, contentType: contentType, tags: tags}
	return "mem://" + key, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
	}
	return obj.data, nil
}

// Keys returns stored keys with the given prefix, for test assertions.
func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// ContentType returns the stored content type for a key, for test
// assertions.
func (m *MemoryStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

// Tags returns the stored tags for a key, for test assertions.
func (m *MemoryStore) Tags(key string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].tags
}
