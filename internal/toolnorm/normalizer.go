package toolnorm

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// Stats summarizes one normalization run.
type Stats struct {
	OriginalCount     int      `json:"original_count"`
	NormalizedCount   int      `json:"normalized_count"`
	DuplicatesRemoved int      `json:"duplicates_removed"`
	FailedCount       int      `json:"failed_count"`
	HighQualityCount  int      `json:"high_quality_count"`
	ToolTypes         []string `json:"tool_types"`
	TotalTimeMS       float64  `json:"total_execution_time_ms"`
}

// Normalizer deduplicates and rewrites tool executions across an agent flow.
type Normalizer struct {
	tuning Tuning
	logger *slog.Logger
}

func New(tuning Tuning, logger *slog.Logger) *Normalizer {
	return &Normalizer{tuning: tuning, logger: logger}
}

// candidate is one extracted execution plus its origin step.
type candidate struct {
	exec    conversation.ToolExecution
	stepIdx int
}

// groupKey identifies a dedup group: same step, category, tool and
// parameters. Folding never moves an execution across steps.
type groupKey struct {
	stepIdx  int
	category Category
	toolName string
	hash     string
}

// Normalize rewrites the flow with one canonical tool record per logical
// call. The returned flow has the same length and step order as the input;
// time-based reordering inside dedup groups never leaks back into flow
// order.
func (n *Normalizer) Normalize(flow []conversation.AgentStep) ([]conversation.AgentStep, Stats) {
	stats := Stats{}

	// Step 1+2: extract candidates from all three source locations and
	// derive per-execution fields.
	var candidates []candidate
	for i := range flow {
		step := &flow[i]
		sources := []struct {
			name  string
			execs []conversation.ToolExecution
		}{
			{"primary", step.ToolsUsed},
			{"reasoning", step.ReasoningToolCalls},
			{"trace", step.TraceToolCalls},
		}
		for _, src := range sources {
			for pos, exec := range src.execs {
				exec.ExecutionID = fmt.Sprintf("step%d_%s_%d", i, src.name, pos)
				exec.Source = src.name
				exec.ParametersHash = ParametersHash(exec.Parameters)
				exec.Status = classifyStatus(&exec, n.tuning)
				exec.QualityScore = qualityScore(&exec, n.tuning)
				exec.Purpose = inferPurpose(&exec)
				exec.BusinessContext = businessContext(&exec)
				candidates = append(candidates, candidate{exec: exec, stepIdx: i})
			}
		}
	}
	stats.OriginalCount = len(candidates)

	// Step 3: group by (category, tool, parameters hash).
	groups := make(map[groupKey][]candidate)
	var order []groupKey
	for _, c := range candidates {
		key := groupKey{
			stepIdx:  c.stepIdx,
			category: CategoryOf(c.exec.ToolName),
			toolName: c.exec.ToolName,
			hash:     c.exec.ParametersHash,
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	// Step 4: within-group windowed dedup; the highest-quality member of
	// each fold survives and carries the rest under related_executions.
	canonicalByStep := make(map[int][]conversation.ToolExecution)
	toolTypes := make(map[string]bool)
	for _, key := range order {
		group := groups[key]
		window := n.tuning.Window(key.category)

		sort.SliceStable(group, func(a, b int) bool {
			return group[a].exec.Timestamp.Before(group[b].exec.Timestamp)
		})

		var fold []candidate
		flush := func() {
			if len(fold) == 0 {
				return
			}
			survivor := pickSurvivor(fold)
			stats.DuplicatesRemoved += len(fold) - 1
			canonicalByStep[survivor.stepIdx] = append(canonicalByStep[survivor.stepIdx], survivor.exec)
			fold = nil
		}

		for _, c := range group {
			if len(fold) > 0 {
				anchor := fold[0].exec.Timestamp
				if c.exec.Timestamp.Sub(anchor) > window {
					flush()
				}
			}
			fold = append(fold, c)
		}
		flush()

		toolTypes[key.toolName] = true
	}

	// Step 5: reassemble each step with its canonical records, preserving
	// step order and attaching a normalization summary.
	out := make([]conversation.AgentStep, len(flow))
	copy(out, flow)
	for i := range out {
		canon := canonicalByStep[i]
		summary := conversation.StepNormalization{
			OriginalCount:   len(out[i].ToolsUsed) + len(out[i].ReasoningToolCalls) + len(out[i].TraceToolCalls),
			NormalizedCount: len(canon),
		}
		summary.DuplicatesRemoved = summary.OriginalCount - summary.NormalizedCount
		for _, exec := range canon {
			if exec.Status == conversation.StatusFailed {
				summary.FailedCount++
				stats.FailedCount++
			}
			if exec.QualityScore >= 0.7 {
				stats.HighQualityCount++
			}
			summary.TotalTimeMS += exec.ExecutionTimeMS
			stats.TotalTimeMS += exec.ExecutionTimeMS
		}
		out[i].ToolsUsed = canon
		out[i].ReasoningToolCalls = nil
		out[i].TraceToolCalls = nil
		out[i].Normalization = &summary
		stats.NormalizedCount += len(canon)
	}

	for name := range toolTypes {
		stats.ToolTypes = append(stats.ToolTypes, name)
	}
	sort.Strings(stats.ToolTypes)

	n.logger.Debug("tool executions normalized",
		"original", stats.OriginalCount,
		"normalized", stats.NormalizedCount,
		"duplicates_removed", stats.DuplicatesRemoved,
	)
	return out, stats
}

// pickSurvivor selects the canonical record for one fold: highest quality
// wins, the rest are linked, not discarded.
func pickSurvivor(fold []candidate) candidate {
	best := 0
	for i := 1; i < len(fold); i++ {
		if fold[i].exec.QualityScore > fold[best].exec.QualityScore {
			best = i
		}
	}
	survivor := fold[best]
	for i, c := range fold {
		if i == best {
			continue
		}
		survivor.exec.RelatedExecutions = append(survivor.exec.RelatedExecutions, c.exec.ExecutionID)
	}
	return survivor
}
