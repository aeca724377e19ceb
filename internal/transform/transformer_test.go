package transform

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/candela-labs/convoscope/internal/conversation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleConversation(stepCount int) *conversation.ConversationUnit {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Second)
	conv := &conversation.ConversationUnit{
		ConversationID: "conv_test_001",
		SessionID:      "sess_42",
		StartTimestamp: start,
		EndTimestamp:   &end,
		UserQuery:      "how is the pipeline looking for Q3",
		Success:        true,
		FinalResponse: &conversation.ParsedResponse{
			Content:              "Pipeline coverage is 3.1x for Q3.",
			FormatType:           conversation.FormatJSONContainer,
			ResponseQualityScore: 0.85,
			ContainsData:         true,
		},
	}
	agents := []string{"manager_agent", "data_analysis_agent", "deal_analysis_agent"}
	for i := 0; i < stepCount; i++ {
		stepStart := start.Add(time.Duration(i) * 10 * time.Second)
		conv.AgentFlow = append(conv.AgentFlow, conversation.AgentStep{
			AgentName:             agents[i%len(agents)],
			StartTime:             stepStart,
			EndTime:               stepStart.Add(8 * time.Second),
			ReasoningText:         "analyzing the request",
			AttributionConfidence: 0.9,
			ToolsUsed: []conversation.ToolExecution{
				{
					ExecutionID:     "exec_1",
					ToolName:        "firebolt_query",
					Timestamp:       stepStart,
					ExecutionTimeMS: 420,
					Success:         true,
					Status:          conversation.StatusSuccess,
					Purpose:         "data_retrieval",
				},
			},
		})
	}
	return conv
}

func sampleHandoffs() []conversation.AgentHandoff {
	return []conversation.AgentHandoff{
		{
			FromAgent:       "manager_agent",
			ToAgent:         "data_analysis_agent",
			HandoffReason:   "explicit routing instruction detected",
			ConfidenceScore: 0.9,
			HandoffType:     conversation.HandoffExplicitRouting,
		},
	}
}

// For a conversation with N steps, the metadata export reports step_count N
// and the full export's agent_flow has N entries.
func TestExportCompleteness(t *testing.T) {
	const steps = 5
	conv := sampleConversation(steps)
	tr := New(testLogger())

	meta, err := tr.Transform(conv, nil, FormatMetadata)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	var metaDoc struct {
		StepCount int `json:"step_count"`
	}
	if err := json.Unmarshal(meta.Body, &metaDoc); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if metaDoc.StepCount != steps {
		t.Errorf("metadata step_count = %d, want %d", metaDoc.StepCount, steps)
	}

	full, err := tr.Transform(conv, nil, FormatFull)
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	var fullDoc struct {
		AgentFlow []json.RawMessage `json:"agent_flow"`
	}
	if err := json.Unmarshal(full.Body, &fullDoc); err != nil {
		t.Fatalf("unmarshal full: %v", err)
	}
	if len(fullDoc.AgentFlow) != steps {
		t.Errorf("full agent_flow length = %d, want %d", len(fullDoc.AgentFlow), steps)
	}
}

func TestEveryJSONExportCarriesMetadata(t *testing.T) {
	conv := sampleConversation(2)
	tr := New(testLogger())

	for _, doc := range tr.TransformAll(conv, sampleHandoffs()) {
		if doc.ContentType != "application/json" {
			continue
		}
		var body struct {
			ExportMetadata struct {
				Format     string `json:"format"`
				Version    string `json:"version"`
				ExportedAt string `json:"exported_at"`
			} `json:"export_metadata"`
		}
		if err := json.Unmarshal(doc.Body, &body); err != nil {
			t.Fatalf("%s: unmarshal: %v", doc.Format, err)
		}
		if body.ExportMetadata.Format != doc.Format {
			t.Errorf("%s: export_metadata.format = %q", doc.Format, body.ExportMetadata.Format)
		}
		if body.ExportMetadata.Version != Version {
			t.Errorf("%s: export_metadata.version = %q", doc.Format, body.ExportMetadata.Version)
		}
		if body.ExportMetadata.ExportedAt == "" {
			t.Errorf("%s: export_metadata.exported_at empty", doc.Format)
		}
	}
}

func TestTransformAllReturnsOneDocumentPerFormat(t *testing.T) {
	conv := sampleConversation(3)
	docs := New(testLogger()).TransformAll(conv, nil)
	if len(docs) != len(Formats()) {
		t.Fatalf("got %d documents, want %d", len(docs), len(Formats()))
	}
	seen := make(map[string]bool)
	for _, doc := range docs {
		if seen[doc.Format] {
			t.Errorf("duplicate format %s", doc.Format)
		}
		seen[doc.Format] = true
		if len(doc.Body) == 0 {
			t.Errorf("%s: empty body", doc.Format)
		}
	}
}

func TestNarrativeRendering(t *testing.T) {
	conv := sampleConversation(2)
	doc, err := New(testLogger()).Transform(conv, sampleHandoffs(), FormatNarrative)
	if err != nil {
		t.Fatalf("narrative: %v", err)
	}
	text := string(doc.Body)
	for _, want := range []string{
		"conv_test_001",
		"how is the pipeline looking for Q3",
		"## Step 1: manager_agent",
		"firebolt_query",
		"Pipeline coverage is 3.1x for Q3.",
		"manager_agent -> data_analysis_agent",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("narrative missing %q", want)
		}
	}
	if doc.ContentType != "text/markdown" {
		t.Errorf("content type = %q", doc.ContentType)
	}
}

func TestMetricsPerAgent(t *testing.T) {
	conv := sampleConversation(3)
	doc, err := New(testLogger()).Transform(conv, sampleHandoffs(), FormatMetrics)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var body struct {
		PerAgent map[string]struct {
			Steps           int     `json:"steps"`
			ToolCalls       int     `json:"tool_calls"`
			ToolSuccessRate float64 `json:"tool_success_rate"`
		} `json:"per_agent"`
		Routing struct {
			Pattern      string `json:"pattern"`
			HandoffCount int    `json:"handoff_count"`
		} `json:"routing"`
	}
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.PerAgent) != 3 {
		t.Fatalf("per_agent has %d entries, want 3", len(body.PerAgent))
	}
	perf := body.PerAgent["manager_agent"]
	if perf.Steps != 1 || perf.ToolCalls != 1 || perf.ToolSuccessRate != 1.0 {
		t.Errorf("manager_agent perf = %+v", perf)
	}
	if body.Routing.Pattern != "manager_coordinated" {
		t.Errorf("routing pattern = %q", body.Routing.Pattern)
	}
	if body.Routing.HandoffCount != 1 {
		t.Errorf("handoff_count = %d", body.Routing.HandoffCount)
	}
}

func TestMetadataExcludesLargeText(t *testing.T) {
	conv := sampleConversation(2)
	conv.AgentFlow[0].ReasoningText = strings.Repeat("reasoning ", 500)
	doc, err := New(testLogger()).Transform(conv, nil, FormatMetadata)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if strings.Contains(string(doc.Body), "reasoning reasoning") {
		t.Error("metadata export leaked reasoning text")
	}
	if len(doc.Body) > 2048 {
		t.Errorf("metadata export unexpectedly large: %d bytes", len(doc.Body))
	}
}

func TestAgentTracesPerStep(t *testing.T) {
	conv := sampleConversation(2)
	conv.AgentFlow[1].TraceContent = map[string]any{"observation": map[string]any{"type": "FINISH"}}
	doc, err := New(testLogger()).Transform(conv, nil, FormatAgentTraces)
	if err != nil {
		t.Fatalf("agent_traces: %v", err)
	}
	var body struct {
		StepCount   int `json:"step_count"`
		AgentTraces []struct {
			StepIndex int      `json:"step_index"`
			AgentName string   `json:"agent_name"`
			TraceKeys []string `json:"trace_keys"`
		} `json:"agent_traces"`
	}
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.StepCount != 2 || len(body.AgentTraces) != 2 {
		t.Fatalf("step_count = %d, traces = %d", body.StepCount, len(body.AgentTraces))
	}
	if body.AgentTraces[1].TraceKeys[0] != "observation" {
		t.Errorf("trace_keys = %v", body.AgentTraces[1].TraceKeys)
	}
}

func TestValidationWarningsDoNotFailExport(t *testing.T) {
	conv := sampleConversation(1)
	conv.UserQuery = ""
	conv.AgentFlow[0].AgentName = ""

	warnings := Validate(conv)
	if len(warnings) == 0 {
		t.Fatal("expected validation warnings")
	}

	doc, err := New(testLogger()).Transform(conv, nil, FormatFull)
	if err != nil {
		t.Fatalf("export failed on invalid conversation: %v", err)
	}
	if !strings.Contains(string(doc.Body), "validation_warnings") {
		t.Error("full export should carry validation warnings")
	}
}

func TestUnknownFormatError(t *testing.T) {
	conv := sampleConversation(1)
	if _, err := New(testLogger()).Transform(conv, nil, "csv"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestFallbackDocument(t *testing.T) {
	conv := sampleConversation(1)
	tr := New(testLogger())
	doc := tr.fallback(conv, FormatMetrics, errUnbuildable)
	var body struct {
		ConversationID string `json:"conversation_id"`
		Degraded       bool   `json:"degraded"`
	}
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		t.Fatalf("unmarshal fallback: %v", err)
	}
	if body.ConversationID != conv.ConversationID || !body.Degraded {
		t.Errorf("fallback = %+v", body)
	}
}

var errUnbuildable = errBuild("metrics assembly failed")

type errBuild string

func (e errBuild) Error() string { return string(e) }
