//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/candela-labs/convoscope/internal/promptstrip"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_FingerprintLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	hash := promptstrip.HashContent("integration-test-" + uuid.New().String())
	fp := &promptstrip.Fingerprint{
		PromptHash:      hash,
		PromptID:        promptstrip.PromptID("deal_analysis", hash),
		AgentType:       "deal_analysis",
		SizeBytes:       12345,
		UsageCount:      1,
		PatternsMatched: []string{"meddpicc", "deal analysis"},
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.PutFingerprint(ctx, fp); err != nil {
		t.Fatalf("PutFingerprint failed: %v", err)
	}

	got, err := s.GetFingerprint(ctx, hash)
	if err != nil {
		t.Fatalf("GetFingerprint failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected fingerprint, got miss")
	}
	if got.PromptID != fp.PromptID || got.AgentType != fp.AgentType {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	count, err := s.IncrementFingerprintUsage(ctx, hash)
	if err != nil {
		t.Fatalf("IncrementFingerprintUsage failed: %v", err)
	}
	if count != 2 {
		t.Errorf("usage_count = %d, want 2", count)
	}

	// Unknown hash is a miss, not an error.
	missing, err := s.GetFingerprint(ctx, promptstrip.HashContent("never-stored"))
	if err != nil {
		t.Fatalf("GetFingerprint miss errored: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown hash, got %+v", missing)
	}
}
