package msgparse

import (
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    ContentType
	}{
		{"empty", "", TypeSimpleText},
		{"plain text", "Revenue grew 12% last quarter.", TypeSimpleText},
		{"tool use only", "{toolUse={name=firebolt_query, input={query=SELECT 1}}}", TypeToolExecution},
		{"tool result only", "{toolResult={status=success, content=[{ok}]}}", TypeToolResult},
		{
			"tool conversation",
			"{toolUse={name=x, input={}}} then {toolResult={content=[done]}}",
			TypeToolConversation,
		},
		{"agent comm", "collaboratorName=deal_analysis_agent", TypeAgentComm},
		{"error message", "Error: upstream validation failed with code 400", TypeErrorMessage},
		{"structured json", `{"answer": "yes", "score": 3}`, TypeStructuredText},
		{"complex nested", "a {b} c {d} e [f] g [h]", TypeComplex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.content)
			if got != tt.want {
				t.Errorf("classify(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestExtractToolUses(t *testing.T) {
	content := "{toolUse={name=firebolt_query, input={\"query\": \"SELECT count(*) FROM deals\", \"limit\": 10}}}"
	uses := extractToolUses(content)
	if len(uses) != 1 {
		t.Fatalf("expected 1 tool use, got %d", len(uses))
	}
	if uses[0].Name != "firebolt_query" {
		t.Errorf("name = %q, want firebolt_query", uses[0].Name)
	}
	if uses[0].InputFormat != "json" {
		t.Errorf("input format = %q, want json", uses[0].InputFormat)
	}
	if q, _ := uses[0].Input["query"].(string); !strings.Contains(q, "SELECT") {
		t.Errorf("query not extracted: %v", uses[0].Input)
	}
}

func TestExtractToolUsesKeyValueFallback(t *testing.T) {
	content := "{toolUse={name=get_deal_data, input={deal_id=006Dn00000abc, days=30}}}"
	uses := extractToolUses(content)
	if len(uses) != 1 {
		t.Fatalf("expected 1 tool use, got %d", len(uses))
	}
	if uses[0].InputFormat != "known_pairs" {
		t.Errorf("input format = %q, want known_pairs", uses[0].InputFormat)
	}
	if uses[0].Input["deal_id"] != "006Dn00000abc" {
		t.Errorf("deal_id = %v", uses[0].Input["deal_id"])
	}
}

func TestParseNeverThrowsOnGarbage(t *testing.T) {
	inputs := []string{
		"{toolUse={name=X, input={",
		"toolUse",
		"{toolResult=",
		"{{{{[[[",
		strings.Repeat("{toolUse=", 100),
		"\x00\xff garbage \x01",
	}
	p := NewParser()
	for _, in := range inputs {
		got := p.ParseMessageContent(in)
		if got.Type == "" {
			t.Errorf("ParseMessageContent(%q) returned empty type", in)
		}
	}
}

func TestTruncatedToolUseDegrades(t *testing.T) {
	p := NewParser()
	got := p.ParseMessageContent("{toolUse={name=X, input={")
	if got.Type != TypeToolExecution {
		t.Fatalf("type = %v, want tool_execution", got.Type)
	}
	if len(got.ToolUses) != 1 {
		t.Fatalf("expected 1 tool use record, got %d", len(got.ToolUses))
	}
	if got.ToolUses[0].Name != "X" {
		t.Errorf("name = %q, want X", got.ToolUses[0].Name)
	}
}

func TestOnUnmatchedFiresForDriftedContent(t *testing.T) {
	drift := 0
	p := NewParser()
	p.OnUnmatched = func() { drift++ }

	// Tool-shaped content that yields no records means the format moved.
	p.ParseMessageContent("toolUse appeared but with no block at all")
	if drift != 1 {
		t.Fatalf("drift = %d after unparseable tool content, want 1", drift)
	}

	p.ParseMessageContent("{toolUse={name=firebolt_query, input={query=SELECT 1}}}")
	if drift != 1 {
		t.Errorf("drift = %d after parseable tool content, want still 1", drift)
	}

	p.ParseMessageContent("just a regular sentence")
	if drift != 1 {
		t.Errorf("drift = %d after plain text, want still 1", drift)
	}
}

func TestExtractToolResultNestedJSON(t *testing.T) {
	content := `{toolResult={status=success, content=[{"rows": 42, "table": "deals"}]}}`
	results := extractToolResults(content)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != "success" {
		t.Errorf("status = %q", results[0].Status)
	}
	obj, ok := results[0].StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("structured content not decoded: %v", results[0].StructuredContent)
	}
	if obj["rows"] != float64(42) {
		t.Errorf("rows = %v, want 42", obj["rows"])
	}
}

func TestExtractToolResultUnbalancedBrace(t *testing.T) {
	// One missing closing brace is tolerated; deeper corruption degrades to nil.
	content := `{toolResult={content=[{"rows": 42]}}`
	results := extractToolResults(content)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	// Either decoded or nil is acceptable here, but it must not panic and
	// the raw text must survive.
	if results[0].Content == "" {
		t.Error("content preview lost")
	}
}

func TestExtractCommunications(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantRecip string
	}{
		{
			"detailed send",
			"sendMessage {recipient=deal_analysis_agent, message=analyze deal 123}",
			1, "deal_analysis_agent",
		},
		{"collaborator name", "collaboratorName=lead_analysis_agent", 1, "lead_analysis_agent"},
		{"simple send", "Sending message to data_analysis_agent now", 1, "data_analysis_agent"},
		{"no comms", "just a regular response", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractCommunications(tt.content)
			if len(got) != tt.wantCount {
				t.Fatalf("got %d records, want %d: %+v", len(got), tt.wantCount, got)
			}
			if tt.wantCount > 0 && got[0].Recipient != tt.wantRecip {
				t.Errorf("recipient = %q, want %q", got[0].Recipient, tt.wantRecip)
			}
		})
	}
}

func TestCommunicationDuplicatesAccepted(t *testing.T) {
	// Both the detailed and collaborator patterns match; both are reported.
	content := "sendMessage {recipient=deal_analysis_agent, message=go} collaboratorName=deal_analysis_agent"
	got := extractCommunications(content)
	if len(got) < 2 {
		t.Errorf("expected both patterns reported, got %d", len(got))
	}
}

func TestParseMessagesArray(t *testing.T) {
	msgs := []any{
		"plain first message",
		map[string]any{"role": "assistant", "content": "{toolUse={name=web_search, input={search_term=acme corp}}}"},
		map[string]any{"role": "user", "content": []any{
			map[string]any{"type": "text", "text": "second block"},
		}},
	}
	p := NewParser()
	results := p.ParseMessages(msgs)
	if len(results) != 3 {
		t.Fatalf("expected 3 parsed messages, got %d", len(results))
	}
	if results[1].Type != TypeToolExecution {
		t.Errorf("message 1 type = %v, want tool_execution", results[1].Type)
	}
	if len(results[1].ToolUses) != 1 || results[1].ToolUses[0].Name != "web_search" {
		t.Errorf("tool use not extracted from array message: %+v", results[1].ToolUses)
	}
}

func TestBraceBlock(t *testing.T) {
	tests := []struct {
		s     string
		start int
		want  string
		ok    bool
	}{
		{"{a {b} c}", 0, "{a {b} c}", true},
		{`{"k": "}"}`, 0, `{"k": "}"}`, true},
		{"{never closes", 0, "", false},
		{"x{y}", 1, "{y}", true},
	}
	for _, tt := range tests {
		got, ok := braceBlock(tt.s, tt.start)
		if got != tt.want || ok != tt.ok {
			t.Errorf("braceBlock(%q, %d) = (%q, %v), want (%q, %v)", tt.s, tt.start, got, ok, tt.want, tt.ok)
		}
	}
}
