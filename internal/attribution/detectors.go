package attribution

import (
	"strings"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// Vote is one detector's opinion about a step.
type Vote struct {
	Agent      string
	Confidence float64
	Method     string
	Evidence   string
}

// Detector inspects one step and optionally emits a vote. Detectors are
// independent so they can be tested, added or reweighted without touching
// the consensus reducer.
type Detector interface {
	Name() string
	Detect(step *conversation.AgentStep) (Vote, bool)
}

// defaultDetectors returns the production detector list in reducer order.
func defaultDetectors() []Detector {
	return []Detector{
		agentIDDetector{},
		toolUsageDetector{},
		traceContentDetector{},
		reasoningDetector{},
		dataOpsDetector{},
	}
}

// agentIDDetector maps the raw platform agent id through the known-id
// table. The most trusted signal when present, but ids are often missing
// upstream, so it cannot be the sole mechanism.
type agentIDDetector struct{}

func (agentIDDetector) Name() string { return "agent_id_mapping" }

func (agentIDDetector) Detect(step *conversation.AgentStep) (Vote, bool) {
	if step.AgentID == "" {
		return Vote{}, false
	}
	agent, ok := platformAgentIDs[step.AgentID]
	if !ok {
		return Vote{}, false
	}
	return Vote{Agent: agent, Confidence: 1.0, Method: "agent_id_mapping", Evidence: step.AgentID}, true
}

// toolUsageDetector votes per tool through the tool ownership table at fixed
// 0.8 each, normalized by total tool count and capped at 1.0.
type toolUsageDetector struct{}

func (toolUsageDetector) Name() string { return "tool_usage" }

func (toolUsageDetector) Detect(step *conversation.AgentStep) (Vote, bool) {
	if len(step.ToolsUsed) == 0 {
		return Vote{}, false
	}
	votes := make(map[string]float64)
	var matchedTools []string
	for _, exec := range step.ToolsUsed {
		if agent, ok := toolAgents[exec.ToolName]; ok {
			votes[agent] += 0.8
			matchedTools = append(matchedTools, exec.ToolName)
		}
	}
	if len(votes) == 0 {
		return Vote{}, false
	}
	bestAgent, bestScore := "", 0.0
	for agent, score := range votes {
		if score > bestScore {
			bestAgent, bestScore = agent, score
		}
	}
	confidence := bestScore / float64(len(step.ToolsUsed))
	if confidence > 1.0 {
		confidence = 1.0
	}
	return Vote{
		Agent:      bestAgent,
		Confidence: confidence,
		Method:     "tool_usage",
		Evidence:   strings.Join(matchedTools, ","),
	}, true
}

// traceContentDetector scans the known trace sub-fields for embedded agent
// ids (0.9) and falls back to keyword-family scoring of the readable text.
type traceContentDetector struct{}

func (traceContentDetector) Name() string { return "trace_content" }

func (traceContentDetector) Detect(step *conversation.AgentStep) (Vote, bool) {
	if step.TraceContent == nil {
		return Vote{}, false
	}
	texts := traceStrings(step.TraceContent)
	if len(texts) == 0 {
		return Vote{}, false
	}

	joined := strings.Join(texts, "\n")

	// Embedded platform ids are near-authoritative.
	for id, agent := range platformAgentIDs {
		if strings.Contains(joined, id) {
			return Vote{Agent: agent, Confidence: 0.9, Method: "trace_content", Evidence: id}, true
		}
	}

	agent, score := keywordScore(joined)
	if agent == conversation.UnknownAgent || score == 0 {
		return Vote{}, false
	}
	return Vote{Agent: agent, Confidence: score, Method: "trace_content", Evidence: "keyword_family"}, true
}

// reasoningDetector trusts explicit routing phrases at 0.9 and otherwise
// scores keyword families capped at 0.8: explicit routing outranks keyword
// co-occurrence.
type reasoningDetector struct{}

func (reasoningDetector) Name() string { return "reasoning_text" }

func (reasoningDetector) Detect(step *conversation.AgentStep) (Vote, bool) {
	if step.ReasoningText == "" {
		return Vote{}, false
	}

	if agent, phrase := explicitRoute(step.ReasoningText); agent != "" {
		return Vote{Agent: agent, Confidence: 0.9, Method: "reasoning_text", Evidence: phrase}, true
	}

	agent, score := keywordScore(step.ReasoningText)
	if agent == conversation.UnknownAgent || score == 0 {
		return Vote{}, false
	}
	if score > 0.8 {
		score = 0.8
	}
	return Vote{Agent: agent, Confidence: score, Method: "reasoning_text", Evidence: "keyword_family"}, true
}

// explicitRoute returns the canonical agent named by an explicit routing
// phrase, plus the matched text.
func explicitRoute(text string) (string, string) {
	for _, re := range explicitRoutingRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if agent := canonicalAgent(m[1]); agent != "" {
			return agent, strings.TrimSpace(m[0])
		}
	}
	return "", ""
}

// dataOpsDetector treats the presence of SQL/API data operations as
// evidence for the data agent, scaled by their share of the step's total
// operations and capped at 0.9.
type dataOpsDetector struct{}

func (dataOpsDetector) Name() string { return "data_operations" }

func (dataOpsDetector) Detect(step *conversation.AgentStep) (Vote, bool) {
	if len(step.DataOperations) == 0 {
		return Vote{}, false
	}
	total := len(step.DataOperations) + len(step.ToolsUsed)
	confidence := float64(len(step.DataOperations)) / float64(total)
	if confidence > 0.9 {
		confidence = 0.9
	}
	return Vote{
		Agent:      DataAgent,
		Confidence: confidence,
		Method:     "data_operations",
		Evidence:   "data_operation_share",
	}, true
}
