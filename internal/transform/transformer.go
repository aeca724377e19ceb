// Package transform assembles a processed conversation into its export
// representations. Assembly never loses information that survived the
// pipeline; a representation that cannot be built degrades to a minimal
// fallback document instead of dropping the conversation.
package transform

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/candela-labs/convoscope/internal/conversation"
	"github.com/candela-labs/convoscope/internal/toolnorm"
)

// Version is stamped into every export_metadata block so consumers can
// detect schema drift between exporter releases.
const Version = "2.1"

const (
	FormatFull        = "full"
	FormatNarrative   = "narrative"
	FormatMetrics     = "metrics"
	FormatMetadata    = "metadata"
	FormatAgentTraces = "agent_traces"
)

// Formats lists every supported export format in build order.
func Formats() []string {
	return []string{FormatFull, FormatNarrative, FormatMetrics, FormatMetadata, FormatAgentTraces}
}

// Document is one rendered export artifact, ready for the export writer.
type Document struct {
	Format      string
	Filename    string
	ContentType string
	Body        []byte
}

type Transformer struct {
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Transformer {
	return &Transformer{logger: logger, now: time.Now}
}

// TransformAll renders every format. A format that fails to build is
// replaced by its fallback document; the caller always gets one document
// per format.
func (t *Transformer) TransformAll(conv *conversation.ConversationUnit, handoffs []conversation.AgentHandoff) []Document {
	docs := make([]Document, 0, len(Formats()))
	for _, format := range Formats() {
		doc, err := t.Transform(conv, handoffs, format)
		if err != nil {
			t.logger.Warn("export build failed, writing fallback document",
				"conversation_id", conv.ConversationID, "format", format, "error", err)
			doc = t.fallback(conv, format, err)
		}
		docs = append(docs, doc)
	}
	return docs
}

// Transform renders a single format.
func (t *Transformer) Transform(conv *conversation.ConversationUnit, handoffs []conversation.AgentHandoff, format string) (Document, error) {
	warnings := Validate(conv)
	for _, w := range warnings {
		t.logger.Warn("conversation validation warning",
			"conversation_id", conv.ConversationID, "warning", w)
	}

	switch format {
	case FormatFull:
		return t.jsonDocument(format, t.buildFull(conv, handoffs, warnings))
	case FormatNarrative:
		return Document{
			Format:      format,
			Filename:    "narrative.md",
			ContentType: "text/markdown",
			Body:        []byte(t.buildNarrative(conv, handoffs)),
		}, nil
	case FormatMetrics:
		return t.jsonDocument(format, t.buildMetrics(conv, handoffs))
	case FormatMetadata:
		return t.jsonDocument(format, t.buildMetadata(conv, handoffs))
	case FormatAgentTraces:
		return t.jsonDocument(format, t.buildAgentTraces(conv))
	default:
		return Document{}, fmt.Errorf("unknown export format %q", format)
	}
}

func (t *Transformer) jsonDocument(format string, body map[string]any) (Document, error) {
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return Document{}, fmt.Errorf("marshal %s export: %w", format, err)
	}
	return Document{
		Format:      format,
		Filename:    format + ".json",
		ContentType: "application/json",
		Body:        data,
	}, nil
}

func (t *Transformer) exportMetadata(format string) map[string]any {
	return map[string]any{
		"format":      format,
		"version":     Version,
		"exported_at": t.now().UTC().Format(time.RFC3339),
	}
}

// fallback produces the minimal document written when a format cannot be
// assembled. The conversation id and the failure reason survive even when
// nothing else does.
func (t *Transformer) fallback(conv *conversation.ConversationUnit, format string, buildErr error) Document {
	body := map[string]any{
		"export_metadata": t.exportMetadata(format),
		"conversation_id": conv.ConversationID,
		"export_error":    buildErr.Error(),
		"degraded":        true,
	}
	data, err := json.Marshal(body)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"conversation_id":%q,"degraded":true}`, conv.ConversationID))
	}
	return Document{
		Format:      format,
		Filename:    format + ".json",
		ContentType: "application/json",
		Body:        data,
	}
}

func (t *Transformer) buildFull(conv *conversation.ConversationUnit, handoffs []conversation.AgentHandoff, warnings []string) map[string]any {
	doc := map[string]any{
		"export_metadata":          t.exportMetadata(FormatFull),
		"conversation_id":          conv.ConversationID,
		"session_id":               conv.SessionID,
		"start_timestamp":          conv.StartTimestamp,
		"user_query":               conv.UserQuery,
		"success":                  conv.Success,
		"processing_time_ms":       conv.ProcessingTime().Milliseconds(),
		"agents_involved":          conv.AgentsInvolved(),
		"agent_flow":               conv.AgentFlow,
		"detected_agent_handovers": handoffs,
	}
	if conv.EndTimestamp != nil {
		doc["end_timestamp"] = conv.EndTimestamp
	}
	if conv.FinalResponse != nil {
		doc["final_response"] = conv.FinalResponse
	}
	if conv.ErrorDetails != "" {
		doc["error_details"] = conv.ErrorDetails
	}
	if len(warnings) > 0 {
		doc["validation_warnings"] = warnings
	}
	return doc
}

func (t *Transformer) buildNarrative(conv *conversation.ConversationUnit, handoffs []conversation.AgentHandoff) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Conversation %s\n\n", conv.ConversationID)
	fmt.Fprintf(&sb, "**Query:** %s\n\n", conv.UserQuery)
	fmt.Fprintf(&sb, "Agents: %s | Steps: %d | Success: %t | Duration: %s\n\n",
		strings.Join(conv.AgentsInvolved(), ", "), len(conv.AgentFlow), conv.Success, conv.ProcessingTime())

	for i, step := range conv.AgentFlow {
		fmt.Fprintf(&sb, "## Step %d: %s\n\n", i+1, step.AgentName)
		if reasoning := excerpt(step.ReasoningText, 600); reasoning != "" {
			fmt.Fprintf(&sb, "%s\n\n", reasoning)
		}
		for _, tool := range step.ToolsUsed {
			fmt.Fprintf(&sb, "- `%s` (%s", tool.ToolName, tool.Status)
			if tool.ExecutionTimeMS > 0 {
				fmt.Fprintf(&sb, ", %.0fms", tool.ExecutionTimeMS)
			}
			sb.WriteString(")")
			if summary := excerpt(tool.ResultSummary, 120); summary != "" {
				fmt.Fprintf(&sb, ": %s", summary)
			}
			sb.WriteString("\n")
		}
		for _, op := range step.DataOperations {
			fmt.Fprintf(&sb, "- data: %s", op.Operation)
			if op.Source != "" {
				fmt.Fprintf(&sb, " via %s", op.Source)
			}
			sb.WriteString("\n")
		}
		if len(step.ToolsUsed) > 0 || len(step.DataOperations) > 0 {
			sb.WriteString("\n")
		}
	}

	if conv.FinalResponse != nil {
		sb.WriteString("## Final Response\n\n")
		fmt.Fprintf(&sb, "%s\n\n", conv.FinalResponse.Content)
	}
	if conv.ErrorDetails != "" {
		fmt.Fprintf(&sb, "## Errors\n\n%s\n\n", conv.ErrorDetails)
	}

	if len(handoffs) > 0 {
		sb.WriteString("## Collaboration\n\n")
		for _, h := range handoffs {
			fmt.Fprintf(&sb, "- %s -> %s (%s): %s\n", h.FromAgent, h.ToAgent, h.HandoffType, h.HandoffReason)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "---\nexported %s | format=%s | v%s\n",
		t.now().UTC().Format(time.RFC3339), FormatNarrative, Version)
	return sb.String()
}

func (t *Transformer) buildMetrics(conv *conversation.ConversationUnit, handoffs []conversation.AgentHandoff) map[string]any {
	perAgent := make(map[string]*agentPerformance)
	categories := make(map[string]int)
	purposes := make(map[string]int)
	entities := make(map[string]int)

	for _, step := range conv.AgentFlow {
		perf, ok := perAgent[step.AgentName]
		if !ok {
			perf = &agentPerformance{}
			perAgent[step.AgentName] = perf
		}
		perf.Steps++
		perf.DurationMS += float64(step.Duration().Milliseconds())
		perf.confidenceSum += step.AttributionConfidence

		for _, tool := range step.ToolsUsed {
			perf.ToolCalls++
			if tool.Status == conversation.StatusSuccess {
				perf.toolSuccesses++
			}
			categories[string(toolnorm.CategoryOf(tool.ToolName))]++
			if tool.Purpose != "" {
				purposes[tool.Purpose]++
			}
			if tool.BusinessContext.EntityType != "" {
				entities[tool.BusinessContext.EntityType]++
			}
		}
	}

	agents := make(map[string]map[string]any, len(perAgent))
	for name, perf := range perAgent {
		agents[name] = perf.render()
	}

	handoffTypes := make(map[string]int)
	for _, h := range handoffs {
		handoffTypes[string(h.HandoffType)]++
	}

	return map[string]any{
		"export_metadata":    t.exportMetadata(FormatMetrics),
		"conversation_id":    conv.ConversationID,
		"success":            conv.Success,
		"processing_time_ms": conv.ProcessingTime().Milliseconds(),
		"per_agent":          agents,
		"routing": map[string]any{
			"pattern":       classifyRouting(conv, handoffs),
			"path":          strings.Join(agentPath(conv), " -> "),
			"handoff_count": len(handoffs),
			"handoff_types": handoffTypes,
		},
		"data_access": map[string]any{
			"by_category": categories,
			"by_purpose":  purposes,
			"by_entity":   entities,
		},
		"response_quality": responseQuality(conv.FinalResponse),
	}
}

type agentPerformance struct {
	Steps      int
	DurationMS float64
	ToolCalls  int

	toolSuccesses int
	confidenceSum float64
}

func (p *agentPerformance) render() map[string]any {
	successRate := 0.0
	if p.ToolCalls > 0 {
		successRate = float64(p.toolSuccesses) / float64(p.ToolCalls)
	}
	avgConfidence := 0.0
	if p.Steps > 0 {
		avgConfidence = p.confidenceSum / float64(p.Steps)
	}
	return map[string]any{
		"steps":                  p.Steps,
		"total_duration_ms":      p.DurationMS,
		"tool_calls":             p.ToolCalls,
		"tool_success_rate":      successRate,
		"attribution_confidence": avgConfidence,
	}
}

// classifyRouting buckets the conversation's routing shape for analytics.
func classifyRouting(conv *conversation.ConversationUnit, handoffs []conversation.AgentHandoff) string {
	agents := conv.AgentsInvolved()
	switch {
	case len(agents) <= 1:
		return "single_agent"
	case hasAgent(agents, "manager_agent"):
		return "manager_coordinated"
	case len(agentPath(conv)) > len(agents):
		return "iterative"
	default:
		for _, h := range handoffs {
			if h.HandoffType == conversation.HandoffExplicitRouting {
				return "explicit_pipeline"
			}
		}
		return "linear_pipeline"
	}
}

// agentPath returns the flow's agent sequence with consecutive repeats
// collapsed.
func agentPath(conv *conversation.ConversationUnit) []string {
	var path []string
	for _, step := range conv.AgentFlow {
		if len(path) > 0 && path[len(path)-1] == step.AgentName {
			continue
		}
		path = append(path, step.AgentName)
	}
	return path
}

func hasAgent(agents []string, name string) bool {
	for _, a := range agents {
		if a == name {
			return true
		}
	}
	return false
}

func responseQuality(resp *conversation.ParsedResponse) map[string]any {
	if resp == nil {
		return map[string]any{"present": false}
	}
	return map[string]any{
		"present":           true,
		"format_type":       resp.FormatType,
		"quality_score":     resp.ResponseQualityScore,
		"contains_data":     resp.ContainsData,
		"contains_analysis": resp.ContainsAnalysis,
		"contains_error":    resp.ContainsError,
	}
}

func (t *Transformer) buildMetadata(conv *conversation.ConversationUnit, handoffs []conversation.AgentHandoff) map[string]any {
	toolCount := 0
	promptRefs := 0
	for _, step := range conv.AgentFlow {
		toolCount += len(step.ToolsUsed)
		promptRefs += len(step.SystemPromptRefs)
	}
	doc := map[string]any{
		"export_metadata":    t.exportMetadata(FormatMetadata),
		"conversation_id":    conv.ConversationID,
		"session_id":         conv.SessionID,
		"start_timestamp":    conv.StartTimestamp,
		"success":            conv.Success,
		"processing_time_ms": conv.ProcessingTime().Milliseconds(),
		"step_count":         len(conv.AgentFlow),
		"agents_involved":    conv.AgentsInvolved(),
		"handoff_count":      len(handoffs),
		"tool_count":         toolCount,
		"prompt_ref_count":   promptRefs,
		"has_error":          conv.ErrorDetails != "",
	}
	if conv.EndTimestamp != nil {
		doc["end_timestamp"] = conv.EndTimestamp
	}
	if conv.FinalResponse != nil {
		doc["response_format"] = conv.FinalResponse.FormatType
		doc["response_quality_score"] = conv.FinalResponse.ResponseQualityScore
	}
	return doc
}

func (t *Transformer) buildAgentTraces(conv *conversation.ConversationUnit) map[string]any {
	traces := make([]map[string]any, 0, len(conv.AgentFlow))
	for i, step := range conv.AgentFlow {
		entry := map[string]any{
			"step_index":  i,
			"agent_name":  step.AgentName,
			"start_time":  step.StartTime,
			"end_time":    step.EndTime,
			"duration_ms": step.Duration().Milliseconds(),
			"tools_used":  step.ToolsUsed,
			"trace_keys":  traceKeys(step.TraceContent),
		}
		if step.OriginalAgent != "" && step.OriginalAgent != step.AgentName {
			entry["original_agent"] = step.OriginalAgent
		}
		if step.AgentID != "" {
			entry["agent_id"] = step.AgentID
		}
		if step.AttributionConfidence > 0 {
			entry["attribution"] = map[string]any{
				"confidence":        step.AttributionConfidence,
				"detection_methods": step.DetectionMethods,
				"evidence_sources":  step.EvidenceSources,
			}
		}
		if len(step.DataOperations) > 0 {
			entry["data_operations"] = step.DataOperations
		}
		if step.Normalization != nil {
			entry["normalization"] = step.Normalization
		}
		if len(step.SystemPromptRefs) > 0 {
			entry["system_prompt_refs"] = step.SystemPromptRefs
		}
		traces = append(traces, entry)
	}
	return map[string]any{
		"export_metadata": t.exportMetadata(FormatAgentTraces),
		"conversation_id": conv.ConversationID,
		"step_count":      len(conv.AgentFlow),
		"agent_traces":    traces,
	}
}

func traceKeys(trace map[string]any) []string {
	if len(trace) == 0 {
		return nil
	}
	keys := make([]string, 0, len(trace))
	for k := range trace {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
