package attribution

import (
	"fmt"
	"sort"
	"strings"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// ExtractHandoffs walks consecutive step pairs of an attributed flow and
// emits a hand-off wherever the agent changes and neither side is UNKNOWN.
// The flow must already be attributed; it is read, never mutated.
func ExtractHandoffs(flow []conversation.AgentStep) []conversation.AgentHandoff {
	var handoffs []conversation.AgentHandoff
	for i := 0; i+1 < len(flow); i++ {
		from := &flow[i]
		to := &flow[i+1]
		if from.AgentName == to.AgentName {
			continue
		}
		if from.AgentName == conversation.UnknownAgent || to.AgentName == conversation.UnknownAgent {
			continue
		}
		reason, confidence := handoffReason(from, to)
		handoffs = append(handoffs, conversation.AgentHandoff{
			FromAgent:       from.AgentName,
			ToAgent:         to.AgentName,
			HandoffReason:   reason,
			ConfidenceScore: confidence,
			HandoffType:     classifyHandoff(reason),
		})
	}
	return handoffs
}

// handoffReason infers why control moved, in priority order: explicit
// routing phrase in the next step's reasoning, then materially different
// tool sets, then workflow progression by default.
func handoffReason(from, to *conversation.AgentStep) (string, float64) {
	if agent, phrase := explicitRoute(to.ReasoningText); agent != "" {
		return fmt.Sprintf("explicit routing: %q", phrase), 0.9
	}

	fromTools := toolNameSet(from)
	toTools := toolNameSet(to)
	if len(fromTools) > 0 && len(toTools) > 0 && disjointShare(fromTools, toTools) >= 0.5 {
		return fmt.Sprintf("different tool expertise required: %s vs %s",
			strings.Join(setList(fromTools), ","), strings.Join(setList(toTools), ",")), 0.7
	}

	return "workflow progression", 0.5
}

// classifyHandoff maps reason keywords to a hand-off type, defaulting to
// implicit routing.
func classifyHandoff(reason string) conversation.HandoffType {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "routing") || strings.Contains(lower, "route"):
		return conversation.HandoffExplicitRouting
	case strings.Contains(lower, "expertise") || strings.Contains(lower, "tool") || strings.Contains(lower, "capability"):
		return conversation.HandoffExpertiseBased
	case strings.Contains(lower, "workflow") || strings.Contains(lower, "progression") || strings.Contains(lower, "sequence"):
		return conversation.HandoffWorkflowProgression
	default:
		return conversation.HandoffImplicitRouting
	}
}

func toolNameSet(step *conversation.AgentStep) map[string]bool {
	set := make(map[string]bool, len(step.ToolsUsed))
	for _, exec := range step.ToolsUsed {
		if exec.ToolName != "" {
			set[exec.ToolName] = true
		}
	}
	return set
}

// disjointShare is the fraction of names in b absent from a.
func disjointShare(a, b map[string]bool) float64 {
	if len(b) == 0 {
		return 0
	}
	missing := 0
	for name := range b {
		if !a[name] {
			missing++
		}
	}
	return float64(missing) / float64(len(b))
}

func setList(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
