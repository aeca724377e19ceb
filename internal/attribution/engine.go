package attribution

import (
	"log/slog"
	"strings"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// Attribution is the outcome of attributing one step.
type Attribution struct {
	AttributedAgent         string   `json:"attributed_agent"`
	ConfidenceScore         float64  `json:"confidence_score"`
	EvidenceSources         []string `json:"evidence_sources,omitempty"`
	DetectionMethods        []string `json:"detection_methods,omitempty"`
	OriginalAgent           string   `json:"original_agent,omitempty"`
	HandoffDetected         bool     `json:"handoff_detected"`
	CollaborationIndicators []string `json:"collaboration_indicators,omitempty"`
}

// Engine runs the detector list and combines votes.
type Engine struct {
	detectors []Detector
	logger    *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{detectors: defaultDetectors(), logger: logger}
}

// Attribute computes which logical agent produced a step. An exact
// platform-id match always wins at confidence 1.0; otherwise the winner is
// the agent with the highest share of summed detector confidence. When no
// detector fires the result is UNKNOWN at confidence 0 and the caller keeps
// the step's original label.
func (e *Engine) Attribute(step *conversation.AgentStep) Attribution {
	attr := Attribution{
		AttributedAgent: conversation.UnknownAgent,
		OriginalAgent:   step.AgentName,
	}

	var votes []Vote
	for _, det := range e.detectors {
		vote, ok := det.Detect(step)
		if !ok {
			continue
		}
		votes = append(votes, vote)
		attr.DetectionMethods = append(attr.DetectionMethods, vote.Method)
		attr.EvidenceSources = append(attr.EvidenceSources, vote.Method+":"+vote.Evidence)
	}

	attr.HandoffDetected, attr.CollaborationIndicators = detectHandoffSignals(step)

	if len(votes) == 0 {
		return attr
	}

	// An exact id match is authoritative regardless of weaker signals.
	for _, vote := range votes {
		if vote.Method == "agent_id_mapping" {
			attr.AttributedAgent = vote.Agent
			attr.ConfidenceScore = 1.0
			return attr
		}
	}

	buckets := make(map[string]float64)
	var totalMass float64
	for _, vote := range votes {
		buckets[vote.Agent] += vote.Confidence
		totalMass += vote.Confidence
	}

	bestAgent, bestMass := "", 0.0
	for agent, mass := range buckets {
		if mass > bestMass {
			bestAgent, bestMass = agent, mass
		}
	}
	if bestAgent == "" || totalMass == 0 {
		return attr
	}

	attr.AttributedAgent = bestAgent
	attr.ConfidenceScore = bestMass / totalMass
	return attr
}

// Apply attributes every step in the flow in place, preserving arrival
// order and retaining the pre-attribution label.
func (e *Engine) Apply(flow []conversation.AgentStep) {
	for i := range flow {
		step := &flow[i]
		attr := e.Attribute(step)

		step.OriginalAgent = step.AgentName
		if attr.AttributedAgent != conversation.UnknownAgent {
			step.AgentName = attr.AttributedAgent
		} else if step.AgentName == "" {
			step.AgentName = conversation.UnknownAgent
		}
		step.AttributionConfidence = attr.ConfidenceScore
		step.EvidenceSources = attr.EvidenceSources
		step.DetectionMethods = attr.DetectionMethods
		step.HandoffDetected = attr.HandoffDetected
		step.CollaborationIndicators = attr.CollaborationIndicators

		e.logger.Debug("step attributed",
			"agent", step.AgentName,
			"original", step.OriginalAgent,
			"confidence", step.AttributionConfidence,
			"methods", step.DetectionMethods,
		)
	}
}

// detectHandoffSignals flags hand-off language in reasoning text and
// collaboration-protocol markers in trace fields. Independent of which
// agent wins attribution.
func detectHandoffSignals(step *conversation.AgentStep) (bool, []string) {
	var indicators []string

	lowerReasoning := strings.ToLower(step.ReasoningText)
	for _, phrase := range handoffPhrases {
		if strings.Contains(lowerReasoning, phrase) {
			indicators = append(indicators, "reasoning:"+phrase)
		}
	}

	if step.TraceContent != nil {
		joined := strings.Join(traceStrings(step.TraceContent), "\n")
		for _, marker := range collaborationMarkers {
			if strings.Contains(joined, marker) {
				indicators = append(indicators, "trace:"+marker)
			}
		}
	}

	return len(indicators) > 0, indicators
}
