// Package attribution assigns a logical agent identity to each conversation
// step. The platform does not reliably label which agent produced a step,
// so attribution combines five independent detectors by weighted consensus.
package attribution

import (
	"regexp"
	"strings"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// Logical agent names. UNKNOWN comes from the conversation package.
const (
	DataAgent    = "data_analysis_agent"
	DealAgent    = "deal_analysis_agent"
	LeadAgent    = "lead_analysis_agent"
	WebAgent     = "web_search_agent"
	ManagerAgent = "manager_agent"
)

// toolAgents maps each known tool name to the agent that owns it.
var toolAgents = map[string]string{
	"firebolt_query":    DataAgent,
	"query_firebolt":    DataAgent,
	"execute_sql":       DataAgent,
	"get_table_schema":  DataAgent,
	"deal_analysis":     DealAgent,
	"meddpicc_score":    DealAgent,
	"get_deal_data":     DealAgent,
	"gong_call_summary": DealAgent,
	"lead_analysis":     LeadAgent,
	"icp_fit_score":     LeadAgent,
	"get_lead_data":     LeadAgent,
	"salesforce_query":  LeadAgent,
	"web_search":        WebAgent,
	"fetch_page":        WebAgent,
	"send_message":      ManagerAgent,
	"sendMessage":       ManagerAgent,
}

// platformAgentIDs maps raw Bedrock agent ids to logical agents. Ids are
// opaque and environment-specific; this table is maintained alongside
// deployments.
var platformAgentIDs = map[string]string{
	"JXKQ2LFGHT": ManagerAgent,
	"R8DWQPZVNM": DataAgent,
	"T3HYBDVSQC": DataAgent,
	"F5NLCWXRBJ": DealAgent,
	"K9PTGSMVQD": LeadAgent,
	"W2ZRHXNFKL": WebAgent,
}

// keywordFamilies score freeform trace/reasoning text per agent. Confidence
// is the fraction of a family's keywords present.
var keywordFamilies = map[string][]string{
	DataAgent:    {"sql", "query", "firebolt", "table", "schema", "rows"},
	DealAgent:    {"deal", "opportunity", "meddpicc", "pipeline", "close date", "win rate"},
	LeadAgent:    {"lead", "icp", "contact", "qualification", "prospect", "conversion"},
	WebAgent:     {"search", "web", "browse", "url"},
	ManagerAgent: {"route", "delegate", "collaborator", "coordinate", "supervisor"},
}

// explicitRoutingRes detect authoritative routing statements in reasoning
// text. When one matches, that agent wins immediately at 0.9.
var explicitRoutingRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rout(?:e|ed|ing)\s+(?:this\s+)?to\s+(?:the\s+)?([A-Za-z_ ]+?)\s*agent`),
	regexp.MustCompile(`(?i)calling\s+(?:the\s+)?([A-Za-z_ ]+?)\s*agent`),
	regexp.MustCompile(`(?i)transferr?(?:ing|ed)?\s+to\s+(?:the\s+)?([A-Za-z_ ]+?)\s*agent`),
	regexp.MustCompile(`(?i)hand(?:ing)?\s*(?:off|over)\s+to\s+(?:the\s+)?([A-Za-z_ ]+?)\s*agent`),
	regexp.MustCompile(`(?i)delegat(?:e|ing|ed)\s+to\s+(?:the\s+)?([A-Za-z_ ]+?)\s*agent`),
}

// handoffPhrases flag a step as containing hand-off language, independent of
// which agent wins attribution.
var handoffPhrases = []string{
	"hand off", "handing off", "handover", "route to", "routing to",
	"transferring to", "delegating to", "passing to", "escalating to",
}

// collaborationMarkers are protocol-level markers in trace fields.
var collaborationMarkers = []string{
	"collaboratorName", "agentCollaborator", "AgentCommunication", "sendMessage",
}

// canonicalAgent normalizes a free-form agent mention ("DealAnalysis",
// "deal analysis", "data") to a catalogue name. Empty when unrecognized.
func canonicalAgent(mention string) string {
	key := strings.ToLower(mention)
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
	key = strings.TrimSuffix(key, "agent")
	switch key {
	case "dealanalysis", "deal":
		return DealAgent
	case "leadanalysis", "lead":
		return LeadAgent
	case "dataanalysis", "data", "firebolt":
		return DataAgent
	case "websearch", "web", "search":
		return WebAgent
	case "manager", "supervisor", "router", "orchestrator":
		return ManagerAgent
	}
	return ""
}

// traceStrings flattens the human-readable portions of a trace for keyword
// scanning. Only the known keys are descended into; unknown shapes are
// ignored, not fatal.
func traceStrings(trace map[string]any) []string {
	var out []string
	for _, key := range []string{
		"modelInvocationInput", "observation",
		"knowledgeBaseLookupOutput", "actionGroupInvocationOutput",
	} {
		collectStrings(trace[key], &out, 0)
	}
	return out
}

func collectStrings(v any, out *[]string, depth int) {
	if depth > 6 {
		return
	}
	switch val := v.(type) {
	case string:
		if val != "" {
			*out = append(*out, val)
		}
	case map[string]any:
		for _, inner := range val {
			collectStrings(inner, out, depth+1)
		}
	case []any:
		for _, inner := range val {
			collectStrings(inner, out, depth+1)
		}
	}
}

// keywordScore returns the best-scoring agent for a text blob via the
// keyword families, with the fraction matched as confidence.
func keywordScore(text string) (string, float64) {
	lower := strings.ToLower(text)
	bestAgent := ""
	bestScore := 0.0
	for agent, family := range keywordFamilies {
		matched := 0
		for _, kw := range family {
			if strings.Contains(lower, kw) {
				matched++
			}
		}
		score := float64(matched) / float64(len(family))
		if score > bestScore {
			bestScore = score
			bestAgent = agent
		}
	}
	if bestAgent == "" {
		return conversation.UnknownAgent, 0
	}
	return bestAgent, bestScore
}
