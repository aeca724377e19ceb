package toolnorm

import (
	"log/slog"
	"testing"
	"time"

	"github.com/candela-labs/convoscope/internal/conversation"
)

func newNormalizer() *Normalizer {
	return New(DefaultTuning(), slog.Default())
}

func TestParametersHashStable(t *testing.T) {
	a := ParametersHash(map[string]any{"query": "SELECT 1", "limit": 10})
	b := ParametersHash(map[string]any{"limit": 10, "query": "SELECT 1"})
	if a != b {
		t.Error("hash must be independent of key order")
	}
	if a == ParametersHash(map[string]any{"query": "SELECT 2", "limit": 10}) {
		t.Error("different parameters must hash differently")
	}
	if ParametersHash(nil) != ParametersHash(map[string]any{}) {
		t.Error("nil and empty parameters must share the empty hash")
	}
}

func TestClassifyStatusPriority(t *testing.T) {
	tuning := DefaultTuning()
	tests := []struct {
		name string
		exec conversation.ToolExecution
		want conversation.ExecutionStatus
	}{
		{
			"explicit error wins over success flag",
			conversation.ToolExecution{Success: true, ErrorMessage: "boom", ResultSummary: "lots of result data here"},
			conversation.StatusFailed,
		},
		{
			"reported failure",
			conversation.ToolExecution{Success: false},
			conversation.StatusFailed,
		},
		{
			"timeout",
			conversation.ToolExecution{Success: true, ExecutionTimeMS: 600000},
			conversation.StatusTimeout,
		},
		{
			"non-trivial result",
			conversation.ToolExecution{Success: true, ResultSummary: "returned 42 rows from deals"},
			conversation.StatusSuccess,
		},
		{
			"nothing to go on",
			conversation.ToolExecution{Success: true},
			conversation.StatusUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyStatus(&tt.exec, tuning); got != tt.want {
				t.Errorf("status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDedupSoundness(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	params := map[string]any{"query": "SELECT count(*) FROM deals"}

	// Three identical firebolt calls within the 30s data_query window, with
	// varying quality evidence; a fourth lands outside the window.
	step := conversation.AgentStep{
		ToolsUsed: []conversation.ToolExecution{
			{ToolName: "firebolt_query", Parameters: params, Timestamp: base, Success: true, ExecutionTimeMS: 1200},
			{ToolName: "firebolt_query", Parameters: params, Timestamp: base.Add(5 * time.Second), Success: true,
				ResultSummary: "returned 42 rows from deals table with full aggregation detail", ExecutionTimeMS: 1100},
			{ToolName: "firebolt_query", Parameters: params, Timestamp: base.Add(50 * time.Second), Success: true,
				ResultSummary: "returned 42 rows", ExecutionTimeMS: 900},
		},
		ReasoningToolCalls: []conversation.ToolExecution{
			{ToolName: "firebolt_query", Parameters: params, Timestamp: base.Add(2 * time.Second), Success: true, ExecutionTimeMS: 1200},
		},
	}

	out, stats := newNormalizer().Normalize([]conversation.AgentStep{step})
	if len(out) != 1 {
		t.Fatalf("flow length changed: %d", len(out))
	}

	canon := out[0].ToolsUsed
	if len(canon) != 2 {
		t.Fatalf("expected 2 canonical records (one fold + one outside window), got %d: %+v", len(canon), canon)
	}

	// The first fold holds three members; its survivor links the other two
	// and outscores them.
	first := canon[0]
	if len(first.RelatedExecutions) != 2 {
		t.Errorf("related executions = %v, want 2 folded ids", first.RelatedExecutions)
	}
	if first.ResultSummary == "" {
		t.Error("survivor should be the high-quality record carrying a result")
	}

	if stats.OriginalCount != 4 || stats.NormalizedCount != 2 || stats.DuplicatesRemoved != 2 {
		t.Errorf("stats = %+v, want original 4, normalized 2, removed 2", stats)
	}
}

func TestOrderPreservation(t *testing.T) {
	base := time.Now().UTC()
	flow := []conversation.AgentStep{
		{AgentName: "a", ToolsUsed: []conversation.ToolExecution{
			{ToolName: "web_search", Parameters: map[string]any{"q": "1"}, Timestamp: base},
		}},
		{AgentName: "b"},
		{AgentName: "c", ToolsUsed: []conversation.ToolExecution{
			{ToolName: "deal_analysis", Parameters: map[string]any{"deal_id": "d1"}, Timestamp: base},
		}},
	}

	out, _ := newNormalizer().Normalize(flow)
	if len(out) != len(flow) {
		t.Fatalf("length changed: %d vs %d", len(out), len(flow))
	}
	for i, name := range []string{"a", "b", "c"} {
		if out[i].AgentName != name {
			t.Errorf("step %d agent = %q, want %q (no reorder, no drop)", i, out[i].AgentName, name)
		}
	}
	if out[1].Normalization == nil || out[1].Normalization.NormalizedCount != 0 {
		t.Error("empty step must still carry a normalization summary")
	}
}

func TestSurvivorHasHighestQuality(t *testing.T) {
	base := time.Now().UTC()
	params := map[string]any{"recipient": "deal_analysis_agent"}
	step := conversation.AgentStep{
		ToolsUsed: []conversation.ToolExecution{
			{ToolName: "send_message", Parameters: params, Timestamp: base, Success: false, ErrorMessage: "retry"},
			{ToolName: "send_message", Parameters: params, Timestamp: base.Add(2 * time.Second), Success: true,
				ResultSummary: "message delivered to collaborator successfully", ExecutionTimeMS: 300},
		},
	}

	out, _ := newNormalizer().Normalize([]conversation.AgentStep{step})
	canon := out[0].ToolsUsed
	if len(canon) != 1 {
		t.Fatalf("expected 1 canonical record, got %d", len(canon))
	}
	if canon[0].Status != conversation.StatusSuccess {
		t.Errorf("survivor status = %v, the successful call must win", canon[0].Status)
	}
	if len(canon[0].RelatedExecutions) != 1 {
		t.Errorf("folded failure must be linked: %v", canon[0].RelatedExecutions)
	}
}

func TestCommunicationWindowTighterThanAnalysis(t *testing.T) {
	tuning := DefaultTuning()
	if tuning.Window(CategoryCommunication) >= tuning.Window(CategoryAnalysis) {
		t.Error("communication calls must dedupe more aggressively than analysis calls")
	}

	base := time.Now().UTC()
	params := map[string]any{"deal_id": "d1"}
	// 20 seconds apart: inside the 180s analysis window, outside the 5s
	// communication window.
	analysis := conversation.AgentStep{ToolsUsed: []conversation.ToolExecution{
		{ToolName: "deal_analysis", Parameters: params, Timestamp: base, Success: true},
		{ToolName: "deal_analysis", Parameters: params, Timestamp: base.Add(20 * time.Second), Success: true},
	}}
	comm := conversation.AgentStep{ToolsUsed: []conversation.ToolExecution{
		{ToolName: "send_message", Parameters: params, Timestamp: base, Success: true},
		{ToolName: "send_message", Parameters: params, Timestamp: base.Add(20 * time.Second), Success: true},
	}}

	out, _ := newNormalizer().Normalize([]conversation.AgentStep{analysis, comm})
	if len(out[0].ToolsUsed) != 1 {
		t.Errorf("analysis pair should fold, got %d records", len(out[0].ToolsUsed))
	}
	if len(out[1].ToolsUsed) != 2 {
		t.Errorf("communication pair should not fold at 20s, got %d records", len(out[1].ToolsUsed))
	}
}

func TestInferPurposeFromParameters(t *testing.T) {
	tests := []struct {
		name string
		exec conversation.ToolExecution
		want string
	}{
		{"deal table query", conversation.ToolExecution{ToolName: "firebolt_query",
			Parameters: map[string]any{"query": "SELECT * FROM opportunities"}}, "deal_data_query"},
		{"lead table query", conversation.ToolExecution{ToolName: "firebolt_query",
			Parameters: map[string]any{"query": "SELECT * FROM leads"}}, "lead_data_query"},
		{"plain query", conversation.ToolExecution{ToolName: "firebolt_query",
			Parameters: map[string]any{"query": "SELECT 1"}}, "data_retrieval"},
		{"analysis tool", conversation.ToolExecution{ToolName: "meddpicc_score"}, "analysis"},
		{"communication", conversation.ToolExecution{ToolName: "send_message"}, "coordination"},
		{"unknown tool", conversation.ToolExecution{ToolName: "mystery_tool"}, "general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferPurpose(&tt.exec); got != tt.want {
				t.Errorf("purpose = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBusinessContext(t *testing.T) {
	exec := conversation.ToolExecution{
		ToolName:   "get_deal_data",
		Parameters: map[string]any{"deal_id": "d1", "days": 90},
	}
	ctx := businessContext(&exec)
	if ctx.EntityType != "deal" {
		t.Errorf("entity = %q, want deal", ctx.EntityType)
	}
	if !ctx.Temporal {
		t.Error("days parameter should flag the call as temporal")
	}
}
