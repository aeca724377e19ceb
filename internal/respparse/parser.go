// Package respparse standardizes the final conversation answer, which may
// arrive as a bare string, a JSON envelope, an error blob or markdown.
package respparse

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// Context supplies optional originating-query information for relevance
// scoring.
type Context struct {
	UserQuery      string
	AgentsInvolved []string
}

// containerFields is the fixed priority list of text-bearing field names
// tried when unwrapping a JSON container.
var containerFields = []string{
	"content", "message", "response", "text", "result",
	"answer", "output", "data", "payload",
}

// metadataFields are skipped when reconstructing readable text from a
// container with no recognized text field.
var metadataFields = map[string]bool{
	"id": true, "timestamp": true, "session_id": true, "conversation_id": true,
	"type": true, "version": true, "status_code": true,
}

var errorKeywords = []string{"error", "exception", "failed", "failure", "unable to", "traceback"}

var markdownMarkers = []string{"## ", "**", "```", "- ", "* ", "> ", "]("}

// ParseFinalResponse extracts a clean content string from the raw final
// answer, classifies its format, scores quality and pulls out structured
// sub-elements. Best-effort: it always returns a usable ParsedResponse.
func ParseFinalResponse(raw string, ctx *Context) conversation.ParsedResponse {
	trimmed := strings.TrimSpace(raw)
	resp := conversation.ParsedResponse{Metadata: map[string]any{"raw_length": len(raw)}}

	var value any
	isJSON := trimmed != "" && json.Unmarshal([]byte(trimmed), &value) == nil
	obj, isObject := value.(map[string]any)

	switch {
	case isJSON && isObject && isContainerShape(obj):
		resp.FormatType = conversation.FormatJSONContainer
		resp.Content, resp.ParsingMethod, resp.ConfidenceScore = extractFromContainer(obj)
	case isJSON:
		// Anything that parses as JSON is structured data: objects and
		// arrays render into labeled sections, scalars pass through.
		resp.FormatType = conversation.FormatStructuredData
		resp.Content, resp.ParsingMethod, resp.ConfidenceScore = formatStructured(value)
	case containsAny(strings.ToLower(trimmed), errorKeywords):
		resp.FormatType = conversation.FormatErrorResponse
		resp.Content, resp.ParsingMethod, resp.ConfidenceScore = extractFromError(trimmed)
	case containsAny(trimmed, markdownMarkers):
		resp.FormatType = conversation.FormatMarkdown
		resp.Content, resp.ParsingMethod, resp.ConfidenceScore = cleanText(trimmed)
	default:
		resp.FormatType = conversation.FormatPlainText
		resp.Content, resp.ParsingMethod, resp.ConfidenceScore = cleanText(trimmed)
	}

	resp.ContainsData = containsData(resp.Content)
	resp.ContainsAnalysis = containsAnalysis(resp.Content)
	resp.ContainsError = containsAny(strings.ToLower(resp.Content), errorKeywords)
	resp.StructuredElements = extractElements(resp.Content)
	resp.ResponseQualityScore = qualityScore(resp.Content, ctx)
	return resp
}

// dominantField returns the first priority field holding a non-empty string.
func dominantField(obj map[string]any) string {
	for _, field := range containerFields {
		if s, ok := obj[field].(string); ok && strings.TrimSpace(s) != "" {
			return field
		}
	}
	return ""
}

// isContainerShape reports whether a JSON object looks like a message
// envelope rather than a data payload: either it carries one of the known
// text-bearing fields, or it is a flat object of scalars with at least one
// string to extract.
func isContainerShape(obj map[string]any) bool {
	if dominantField(obj) != "" {
		return true
	}
	hasText := false
	for _, v := range obj {
		switch v.(type) {
		case map[string]any, []any:
			return false
		case string:
			hasText = true
		}
	}
	return hasText
}

// extractFromContainer unwraps a JSON container in three tiers: a priority
// field (0.9), readable reconstruction from non-metadata fields (0.7), and
// a pretty-printed dump as last resort (0.5).
func extractFromContainer(obj map[string]any) (string, string, float64) {
	if field := dominantField(obj); field != "" {
		s := obj[field].(string)
		return unescape(strings.TrimSpace(s)), "container_field:" + field, 0.9
	}

	var parts []string
	keys := sortedKeys(obj)
	for _, k := range keys {
		if metadataFields[k] {
			continue
		}
		if s, ok := obj[k].(string); ok && s != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", k, s))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n"), "container_reconstruction", 0.7
	}

	pretty, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", obj), "container_dump", 0.5
	}
	return string(pretty), "container_dump", 0.5
}

// formatStructured renders arbitrary structured data into labeled
// sections; bare scalars pass through as text.
func formatStructured(v any) (string, string, float64) {
	switch val := v.(type) {
	case map[string]any, []any:
		var sb strings.Builder
		renderValue(&sb, val, 0)
		return strings.TrimSpace(sb.String()), "structured_render", 0.8
	case string:
		return strings.TrimSpace(val), "scalar_passthrough", 0.9
	case nil:
		return "", "scalar_passthrough", 0.5
	default:
		return fmt.Sprintf("%v", val), "scalar_passthrough", 0.9
	}
}

func renderValue(sb *strings.Builder, v any, depth int) {
	indent := strings.Repeat("  ", depth)
	switch val := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(val) {
			inner := val[k]
			switch inner.(type) {
			case map[string]any, []any:
				fmt.Fprintf(sb, "%s%s:\n", indent, k)
				renderValue(sb, inner, depth+1)
			default:
				fmt.Fprintf(sb, "%s%s: %v\n", indent, k, inner)
			}
		}
	case []any:
		for _, item := range val {
			switch item.(type) {
			case map[string]any, []any:
				renderValue(sb, item, depth)
			default:
				fmt.Fprintf(sb, "%s- %v\n", indent, item)
			}
		}
	default:
		fmt.Fprintf(sb, "%s%v\n", indent, val)
	}
}

// extractFromError prefers a structured error field (0.8), then plain text
// with brace-delimited lines stripped (0.6), then the trimmed original
// (0.4).
func extractFromError(raw string) (string, string, float64) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		for _, field := range []string{"error", "message", "detail", "reason"} {
			if s, ok := obj[field].(string); ok && s != "" {
				return s, "error_field:" + field, 0.8
			}
		}
	}

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "{") || strings.HasPrefix(t, "}") {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) > 0 {
		return strings.Join(kept, " "), "error_text", 0.6
	}

	return strings.TrimSpace(raw), "error_fallback", 0.4
}

// cleanText whitespace-normalizes and strips wrapping quotes. Confidence
// drops when the remainder is extremely short.
func cleanText(raw string) (string, string, float64) {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")

	confidence := 0.8
	if len(s) < 20 {
		confidence = 0.5
	}
	return s, "text_normalize", confidence
}

func unescape(s string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`)
	return replacer.Replace(s)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
