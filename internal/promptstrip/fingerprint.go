package promptstrip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Fingerprint recognizes a previously-seen system prompt without storing it
// twice. UsageCount is the only field mutated after creation.
type Fingerprint struct {
	PromptHash      string    `json:"prompt_hash"`
	PromptID        string    `json:"prompt_id"`
	AgentType       string    `json:"agent_type,omitempty"`
	SizeBytes       int       `json:"size_bytes"`
	UsageCount      int       `json:"usage_count"`
	PatternsMatched []string  `json:"patterns_matched,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists fingerprints. Get returns (nil, nil) for a miss; absence
// is a normal, representable state, not an error.
type Store interface {
	Get(ctx context.Context, hash string) (*Fingerprint, error)
	Put(ctx context.Context, fp *Fingerprint) error
	IncrementUsage(ctx context.Context, hash string) (int, error)
}

// BlobSink persists raw prompt bodies under their prompt id.
type BlobSink interface {
	PutBlob(ctx context.Context, promptID string, content []byte) error
}

// HashContent returns the stable content hash used as the fingerprint key.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// PromptID derives the stable human-readable id for a newly minted
// fingerprint.
func PromptID(agentType, hash string) string {
	if agentType == "" {
		agentType = "generic"
	}
	return fmt.Sprintf("prompt_%s_%s", agentType, hash[:12])
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu  sync.RWMutex
	fps map[string]*Fingerprint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fps: make(map[string]*Fingerprint)}
}

func (m *MemoryStore) Get(_ context.Context, hash string) (*Fingerprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fp, ok := m.fps[hash]
	if !ok {
		return nil, nil
	}
	cp := *fp
	return &cp, nil
}

func (m *MemoryStore) Put(_ context.Context, fp *Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *fp
	m.fps[fp.PromptHash] = &cp
	return nil
}

func (m *MemoryStore) IncrementUsage(_ context.Context, hash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.fps[hash]
	if !ok {
		return 0, fmt.Errorf("fingerprint %s not found", hash)
	}
	fp.UsageCount++
	return fp.UsageCount, nil
}
