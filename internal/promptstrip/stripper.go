// Package promptstrip detects large recurring system prompts inside
// conversation artifacts and replaces them with stable references, keeping
// a fingerprint per unique prompt so repeat sightings are cheap.
package promptstrip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// Tuning carries the empirically-chosen detection constants. The defaults
// match production observations; treat them as order-of-magnitude, not
// load-bearing exact values.
type Tuning struct {
	DetectionThreshold float64 `yaml:"detection_threshold"`
	PatternRatio       float64 `yaml:"pattern_ratio"`
	MinLength          int     `yaml:"min_length"`
	LargeSize          int     `yaml:"large_size"`
	MediumSize         int     `yaml:"medium_size"`
}

func DefaultTuning() Tuning {
	return Tuning{
		DetectionThreshold: 0.7,
		PatternRatio:       0.3,
		MinLength:          100,
		LargeSize:          40000,
		MediumSize:         10000,
	}
}

// Detection carries the evidence behind one detect call.
type Detection struct {
	IsSystemPrompt  bool
	Confidence      float64
	AgentType       string
	PatternsMatched []string
	Method          string // "fingerprint" or "heuristic"
	Fingerprint     *Fingerprint
}

// Stripper detects and strips system prompts. The fingerprint index is the
// one piece of state shared across conversations: the in-process cache is
// read-through over the injected Store, reads never block on persists, and
// a last-writer-wins race between two workers minting the same prompt is
// accepted (lookups converge once the store round-trips).
type Stripper struct {
	store  Store
	blobs  BlobSink
	tuning Tuning
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Fingerprint
}

func New(store Store, blobs BlobSink, tuning Tuning, logger *slog.Logger) *Stripper {
	return &Stripper{
		store:  store,
		blobs:  blobs,
		tuning: tuning,
		logger: logger,
		cache:  make(map[string]*Fingerprint),
	}
}

// DetectSystemPrompt reports whether content is a system prompt, with the
// evidence that decided it. Detection accumulates confidence from several
// independent heuristics against a fixed threshold.
func (s *Stripper) DetectSystemPrompt(ctx context.Context, content string) (bool, Detection) {
	if len(content) < s.tuning.MinLength {
		return false, Detection{Method: "heuristic"}
	}

	// Exact match by content hash settles it immediately.
	hash := HashContent(content)
	if fp := s.lookup(ctx, hash); fp != nil {
		s.touch(ctx, fp)
		return true, Detection{
			IsSystemPrompt: true,
			Confidence:     1.0,
			AgentType:      fp.AgentType,
			Method:         "fingerprint",
			Fingerprint:    fp,
		}
	}

	det := s.scoreContent(content)
	if !det.IsSystemPrompt {
		return false, det
	}

	// First sighting: mint a fingerprint and persist the body.
	fp := &Fingerprint{
		PromptHash:      hash,
		PromptID:        PromptID(det.AgentType, hash),
		AgentType:       det.AgentType,
		SizeBytes:       len(content),
		UsageCount:      1,
		PatternsMatched: det.PatternsMatched,
		CreatedAt:       time.Now().UTC(),
	}
	s.register(ctx, fp, content)
	det.Fingerprint = fp
	return true, det
}

// scoreContent runs the heuristic evidence accumulation.
func (s *Stripper) scoreContent(content string) Detection {
	det := Detection{Method: "heuristic"}
	var confidence float64

	// Agent-specific phrase catalogues.
	bestRatio := 0.0
	for agentType, phrases := range agentPhrases {
		matched := 0
		var hits []string
		for _, phrase := range phrases {
			if strings.Contains(content, phrase) {
				matched++
				hits = append(hits, phrase)
			}
		}
		ratio := float64(matched) / float64(len(phrases))
		if ratio >= s.tuning.PatternRatio && ratio > bestRatio {
			bestRatio = ratio
			det.AgentType = agentType
			det.PatternsMatched = hits
		}
	}
	confidence += 0.3 * bestRatio

	// Generic instructional language, up to 0.4.
	generic := 0.0
	for _, re := range genericInstructional {
		if re.MatchString(content) {
			generic += 0.1
			det.PatternsMatched = append(det.PatternsMatched, re.String())
		}
	}
	if generic > 0.4 {
		generic = 0.4
	}
	confidence += generic

	// Size: only material when combined with at least one pattern match at
	// medium size; sufficient on its own at the top tier.
	patterns := len(det.PatternsMatched)
	size := len(content)
	switch {
	case size >= s.tuning.LargeSize:
		confidence += 0.7
	case size >= s.tuning.MediumSize && patterns >= 1:
		confidence += 0.3
	case size >= 2000 && patterns >= 1:
		confidence += 0.2
	case size >= 2000:
		confidence += 0.05
	}

	// Structural shape, up to 0.3.
	confidence += 0.3 * structuralScore(content, strings.Count(content, "\n")+1)

	det.Confidence = confidence
	det.IsSystemPrompt = confidence >= s.tuning.DetectionThreshold
	return det
}

// StripStep removes system prompts from a step's reasoning text and trace
// content, leaving references behind. Returns the prompt ids removed.
func (s *Stripper) StripStep(ctx context.Context, step *conversation.AgentStep) []string {
	var removed []string

	if ok, det := s.DetectSystemPrompt(ctx, step.ReasoningText); ok {
		ref := referenceFor(det, len(step.ReasoningText))
		step.SystemPromptRefs = append(step.SystemPromptRefs, ref)
		step.ReasoningText = fmt.Sprintf("[system prompt removed: %s]", ref.PromptID)
		removed = append(removed, ref.PromptID)
	}

	if step.TraceContent != nil {
		cleaned, ids := s.StripTrace(ctx, step.TraceContent)
		step.TraceContent = cleaned
		for _, id := range ids {
			step.SystemPromptRefs = append(step.SystemPromptRefs, conversation.PromptReference{PromptID: id, Confidence: 1.0})
		}
		removed = append(removed, ids...)
	}

	return removed
}

// StripTrace walks a raw trace structure and replaces every string value
// detected as a system prompt with a compact reference object. The fact
// that a prompt was present is never deleted.
func (s *Stripper) StripTrace(ctx context.Context, trace map[string]any) (map[string]any, []string) {
	var removed []string
	cleaned := s.stripValue(ctx, trace, &removed)
	m, ok := cleaned.(map[string]any)
	if !ok {
		return trace, removed
	}
	return m, removed
}

func (s *Stripper) stripValue(ctx context.Context, v any, removed *[]string) any {
	switch val := v.(type) {
	case string:
		ok, det := s.DetectSystemPrompt(ctx, val)
		if !ok {
			return val
		}
		ref := referenceFor(det, len(val))
		*removed = append(*removed, ref.PromptID)
		return map[string]any{"system_prompt_ref": ref}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = s.stripValue(ctx, inner, removed)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = s.stripValue(ctx, inner, removed)
		}
		return out
	default:
		return v
	}
}

func referenceFor(det Detection, size int) conversation.PromptReference {
	ref := conversation.PromptReference{
		OriginalBytes: size,
		AgentType:     det.AgentType,
		Confidence:    det.Confidence,
	}
	if det.Fingerprint != nil {
		ref.PromptID = det.Fingerprint.PromptID
		ref.OriginalBytes = det.Fingerprint.SizeBytes
	}
	return ref
}

// lookup checks the cache first, then reads through to the store.
func (s *Stripper) lookup(ctx context.Context, hash string) *Fingerprint {
	s.mu.RLock()
	fp := s.cache[hash]
	s.mu.RUnlock()
	if fp != nil {
		return fp
	}

	stored, err := s.store.Get(ctx, hash)
	if err != nil {
		s.logger.Warn("fingerprint lookup failed", "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}

	s.mu.Lock()
	s.cache[hash] = stored
	s.mu.Unlock()
	return stored
}

// touch increments the usage count on a re-sighting.
func (s *Stripper) touch(ctx context.Context, fp *Fingerprint) {
	count, err := s.store.IncrementUsage(ctx, fp.PromptHash)
	if err != nil {
		s.logger.Warn("fingerprint usage increment failed", "prompt_id", fp.PromptID, "error", err)
		fp.UsageCount++
		return
	}
	fp.UsageCount = count
	s.mu.Lock()
	s.cache[fp.PromptHash] = fp
	s.mu.Unlock()
}

// register records a newly minted fingerprint. The fingerprint row is
// written synchronously (small, cheap); the prompt body persists in the
// background so per-call latency never waits on blob storage.
func (s *Stripper) register(ctx context.Context, fp *Fingerprint, content string) {
	s.mu.Lock()
	s.cache[fp.PromptHash] = fp
	s.mu.Unlock()

	if err := s.store.Put(ctx, fp); err != nil {
		s.logger.Warn("fingerprint persist failed", "prompt_id", fp.PromptID, "error", err)
	}

	if s.blobs == nil {
		return
	}
	body := []byte(content)
	go func() {
		if err := s.blobs.PutBlob(context.Background(), fp.PromptID, body); err != nil {
			s.logger.Warn("prompt body persist failed", "prompt_id", fp.PromptID, "error", err)
		}
	}()
}
