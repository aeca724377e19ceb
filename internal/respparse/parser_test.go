package respparse

import (
	"strings"
	"testing"

	"github.com/candela-labs/convoscope/internal/conversation"
)

func TestJSONContainerRoundTrip(t *testing.T) {
	resp := ParseFinalResponse(`{"response": "Revenue grew 12% QoQ"}`, nil)

	if resp.Content != "Revenue grew 12% QoQ" {
		t.Errorf("content = %q, want %q", resp.Content, "Revenue grew 12% QoQ")
	}
	if resp.FormatType != conversation.FormatJSONContainer {
		t.Errorf("format = %v, want json_container", resp.FormatType)
	}
	if !resp.ContainsData {
		t.Error("contains_data = false, want true (percentage present)")
	}
	if resp.ConfidenceScore != 0.9 {
		t.Errorf("confidence = %v, want 0.9 for a priority-field hit", resp.ConfidenceScore)
	}
}

func TestContainerFieldPriority(t *testing.T) {
	// "content" outranks "message" regardless of JSON key order.
	resp := ParseFinalResponse(`{"message": "second", "content": "first"}`, nil)
	if resp.Content != "first" {
		t.Errorf("content = %q, want the higher-priority field", resp.Content)
	}
	if resp.ParsingMethod != "container_field:content" {
		t.Errorf("method = %q", resp.ParsingMethod)
	}
}

func TestContainerReconstructionFallback(t *testing.T) {
	resp := ParseFinalResponse(`{"summary_a": "part one", "summary_b": "part two", "id": "x1"}`, nil)
	if resp.FormatType != conversation.FormatJSONContainer {
		t.Fatalf("format = %v, want json_container", resp.FormatType)
	}
	if resp.ParsingMethod != "container_reconstruction" {
		t.Errorf("method = %q, want container_reconstruction", resp.ParsingMethod)
	}
	if !strings.Contains(resp.Content, "part one") || !strings.Contains(resp.Content, "part two") {
		t.Errorf("reconstruction lost fields: %q", resp.Content)
	}
	if strings.Contains(resp.Content, "x1") {
		t.Errorf("metadata field leaked into content: %q", resp.Content)
	}
}

func TestStructuredDataRendering(t *testing.T) {
	resp := ParseFinalResponse(`{"deals": [{"name": "Acme", "stage": "negotiation"}], "total": 1}`, nil)
	if resp.FormatType != conversation.FormatStructuredData {
		t.Fatalf("format = %v, want structured_data", resp.FormatType)
	}
	for _, want := range []string{"Acme", "negotiation", "total: 1"} {
		if !strings.Contains(resp.Content, want) {
			t.Errorf("rendered content missing %q: %q", want, resp.Content)
		}
	}
}

func TestTopLevelArrayRendering(t *testing.T) {
	resp := ParseFinalResponse(`[{"region": "EMEA", "coverage": 3.1}, {"region": "AMER", "coverage": 2.4}]`, nil)
	if resp.FormatType != conversation.FormatStructuredData {
		t.Fatalf("format = %v, want structured_data", resp.FormatType)
	}
	if resp.ParsingMethod != "structured_render" {
		t.Errorf("method = %q, want structured_render", resp.ParsingMethod)
	}
	for _, want := range []string{"region: EMEA", "coverage: 3.1", "region: AMER"} {
		if !strings.Contains(resp.Content, want) {
			t.Errorf("rendered content missing %q: %q", want, resp.Content)
		}
	}
	if strings.HasPrefix(strings.TrimSpace(resp.Content), "[") {
		t.Errorf("array passed through as raw JSON: %q", resp.Content)
	}
}

func TestJSONScalarsClassifiedStructured(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"true", "true"},
		{"false", "false"},
		{"-12.5", "-12.5"},
		{"42", "42"},
	}
	for _, tt := range tests {
		resp := ParseFinalResponse(tt.raw, nil)
		if resp.FormatType != conversation.FormatStructuredData {
			t.Errorf("ParseFinalResponse(%q) format = %v, want structured_data", tt.raw, resp.FormatType)
		}
		if resp.Content != tt.want {
			t.Errorf("ParseFinalResponse(%q) content = %q, want %q", tt.raw, resp.Content, tt.want)
		}
	}
}

func TestErrorResponse(t *testing.T) {
	// Valid JSON keeps its structural format; the error is surfaced via the
	// contains_error flag rather than by reclassifying the response.
	resp := ParseFinalResponse(`{"error": "upstream validation failed"}`, nil)
	if !resp.ContainsError {
		t.Error("contains_error = false, want true")
	}

	plain := ParseFinalResponse("Error: the agent failed to respond in time", nil)
	if plain.FormatType != conversation.FormatErrorResponse {
		t.Errorf("format = %v, want error_response", plain.FormatType)
	}
	if plain.Content == "" {
		t.Error("error content must not be empty")
	}
}

func TestQuotedStringUnwrapped(t *testing.T) {
	resp := ParseFinalResponse(`"The pipeline looks healthy this quarter overall."`, nil)
	if resp.FormatType != conversation.FormatStructuredData {
		t.Errorf("format = %v, want structured_data for a JSON string", resp.FormatType)
	}
	if strings.HasPrefix(resp.Content, `"`) {
		t.Errorf("wrapping quotes not stripped: %q", resp.Content)
	}
}

func TestQualityScoring(t *testing.T) {
	rich := "Based on the data, revenue grew 12% compared to last quarter, reaching $4.2M. " +
		"The analysis indicates pipeline risk is concentrated in Q3 2026 renewals."
	poor := "I don't know."

	richScore := qualityScore(rich, nil)
	poorScore := qualityScore(poor, nil)
	if richScore <= poorScore {
		t.Errorf("rich %v should outscore poor %v", richScore, poorScore)
	}
	if poorScore >= 0.5 {
		t.Errorf("poor score = %v, should fall below base", poorScore)
	}
}

func TestQueryRelevanceBonus(t *testing.T) {
	content := "Pipeline coverage for enterprise deals is 3.4x this quarter."
	with := qualityScore(content, &Context{UserQuery: "what is our enterprise pipeline coverage"})
	without := qualityScore(content, nil)
	if with <= without {
		t.Errorf("query overlap should raise the score: %v vs %v", with, without)
	}
}

func TestStructuredElements(t *testing.T) {
	content := "## Summary\n" +
		"- coverage improved\n" +
		"1. review Acme deal\n" +
		"Win rate: 34%\n" +
		"Revenue grew by 12% reaching $1.2M on 2026-03-31."
	elements := extractElements(content)

	for _, key := range []string{"headers", "bullets", "numbered_items", "key_values", "percentages", "currency_amounts", "dates"} {
		if len(elements[key]) == 0 {
			t.Errorf("missing element category %q: %v", key, elements)
		}
	}
}

func TestEmptyAndGarbageInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "{not json", "\x00\x01"} {
		resp := ParseFinalResponse(raw, nil)
		if resp.FormatType == "" {
			t.Errorf("ParseFinalResponse(%q) returned empty format", raw)
		}
	}
}

func TestScoreClamped(t *testing.T) {
	// A response hitting every family plus length and overlap stays <= 1.
	content := strings.Repeat("Based on the data revenue grew 12% compared to $5M baseline. ", 20)
	score := qualityScore(content, &Context{UserQuery: "revenue data baseline"})
	if score > 1 || score < 0 {
		t.Errorf("score %v outside [0,1]", score)
	}
}
