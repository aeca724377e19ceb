package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/candela-labs/convoscope/internal/promptstrip"
)

// GetFingerprint fetches a fingerprint by content hash. A miss returns
// (nil, nil); two workers racing on an unseen prompt both miss here and
// last-writer-wins on the subsequent Put.
func (s *Store) GetFingerprint(ctx context.Context, hash string) (*promptstrip.Fingerprint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT prompt_hash, prompt_id, agent_type, size_bytes, usage_count, patterns_matched, created_at
		FROM prompt_fingerprints WHERE prompt_hash = $1`, hash)

	var fp promptstrip.Fingerprint
	err := row.Scan(&fp.PromptHash, &fp.PromptID, &fp.AgentType, &fp.SizeBytes, &fp.UsageCount, &fp.PatternsMatched, &fp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fingerprint: %w", err)
	}
	return &fp, nil
}

// PutFingerprint upserts a fingerprint by content hash.
func (s *Store) PutFingerprint(ctx context.Context, fp *promptstrip.Fingerprint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prompt_fingerprints (prompt_hash, prompt_id, agent_type, size_bytes, usage_count, patterns_matched, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (prompt_hash) DO UPDATE SET
			prompt_id = EXCLUDED.prompt_id,
			agent_type = EXCLUDED.agent_type,
			size_bytes = EXCLUDED.size_bytes,
			patterns_matched = EXCLUDED.patterns_matched`,
		fp.PromptHash, fp.PromptID, fp.AgentType, fp.SizeBytes, fp.UsageCount, fp.PatternsMatched, fp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put fingerprint: %w", err)
	}
	return nil
}

// IncrementFingerprintUsage bumps the usage counter and returns the new
// count.
func (s *Store) IncrementFingerprintUsage(ctx context.Context, hash string) (int, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE prompt_fingerprints SET usage_count = usage_count + 1
		WHERE prompt_hash = $1
		RETURNING usage_count`, hash)

	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("fingerprint %s not found", hash)
		}
		return 0, fmt.Errorf("increment fingerprint usage: %w", err)
	}
	return count, nil
}

// FingerprintStore adapts Store to the stripper's persistence interface.
type FingerprintStore struct {
	*Store
}

func (f FingerprintStore) Get(ctx context.Context, hash string) (*promptstrip.Fingerprint, error) {
	return f.GetFingerprint(ctx, hash)
}

func (f FingerprintStore) Put(ctx context.Context, fp *promptstrip.Fingerprint) error {
	return f.PutFingerprint(ctx, fp)
}

func (f FingerprintStore) IncrementUsage(ctx context.Context, hash string) (int, error) {
	return f.IncrementFingerprintUsage(ctx, hash)
}
