// Package msgparse turns opaque agent message content into structured
// tool-use, tool-result and agent-communication records.
//
// The upstream platform serializes message content as a debug repr, not a
// real serialization format: dict-like blocks embedded in freeform text,
// sometimes with partial JSON inside. Parsing is heuristic by design and
// versioned through the pattern constants below; a "no expected pattern
// matched" counter tracks format drift in production.
package msgparse

import (
	"encoding/json"
	"strings"
)

// ContentType classifies a piece of message content.
type ContentType string

const (
	TypeToolConversation ContentType = "tool_conversation"
	TypeToolExecution    ContentType = "tool_execution"
	TypeToolResult       ContentType = "tool_result"
	TypeAgentComm        ContentType = "agent_communication"
	TypeErrorMessage     ContentType = "error_message"
	TypeStructuredText   ContentType = "structured_text"
	TypeSystemPrompt     ContentType = "system_prompt"
	TypeComplex          ContentType = "complex"
	TypeSimpleText       ContentType = "simple_text"
)

// ParsedContent is the result of parsing one content string.
type ParsedContent struct {
	Type                ContentType        `json:"type"`
	ToolUses            []ToolUseRecord    `json:"tool_uses,omitempty"`
	ToolResults         []ToolResultRecord `json:"tool_results,omitempty"`
	AgentCommunications []CommRecord       `json:"agent_communications,omitempty"`
	StructuredContent   map[string]any     `json:"structured_content,omitempty"`
	ErrorInformation    map[string]any     `json:"error_information,omitempty"`
}

// ToolUseRecord is one extracted tool invocation request.
type ToolUseRecord struct {
	Name         string         `json:"name"`
	Input        map[string]any `json:"input,omitempty"`
	InputFormat  string         `json:"input_format,omitempty"` // json | known_pairs | generic_pairs | raw
	RawPreview   string         `json:"raw_preview,omitempty"`
	ParsingError string         `json:"parsing_error,omitempty"`
}

// ToolResultRecord is one extracted tool result.
type ToolResultRecord struct {
	Status            string `json:"status,omitempty"`
	Content           string `json:"content,omitempty"`
	StructuredContent any    `json:"structured_content,omitempty"`
	ParsingError      string `json:"parsing_error,omitempty"`
}

// CommRecord is one detected agent-to-agent communication. The same
// logical hand-off may be reported more than once when multiple patterns
// match; duplicates are harmless downstream, a missed hand-off is not.
type CommRecord struct {
	Pattern   string `json:"pattern"` // detailed_send | collaborator_name | simple_send
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Parser extracts structure from message content. The zero value is usable;
// NewParser exists so callers can observe drift via the callback.
type Parser struct {
	// OnUnmatched is invoked when content classified as tool-bearing yields
	// no extractable records. Wired to a metrics counter in production.
	OnUnmatched func()
}

func NewParser() *Parser {
	return &Parser{}
}

// ParseMessageContent parses one opaque content string. It never returns an
// error: any malformed element is isolated and annotated in place, and in
// the worst case the result degrades to a classified type with no records.
func (p *Parser) ParseMessageContent(content string) ParsedContent {
	result := ParsedContent{Type: classify(content)}
	if content == "" {
		result.Type = TypeSimpleText
		return result
	}

	switch result.Type {
	case TypeToolConversation:
		result.ToolUses = extractToolUses(content)
		result.ToolResults = extractToolResults(content)
	case TypeToolExecution:
		result.ToolUses = extractToolUses(content)
	case TypeToolResult:
		result.ToolResults = extractToolResults(content)
	case TypeStructuredText:
		var obj map[string]any
		if err := json.Unmarshal([]byte(content), &obj); err == nil {
			result.StructuredContent = obj
		}
	case TypeErrorMessage:
		result.ErrorInformation = extractErrorInfo(content)
	}

	// Communication patterns can co-occur with any of the above.
	result.AgentCommunications = extractCommunications(content)

	if p.OnUnmatched != nil && toolShaped(result.Type) &&
		len(result.ToolUses) == 0 && len(result.ToolResults) == 0 {
		p.OnUnmatched()
	}

	return result
}

func toolShaped(t ContentType) bool {
	return t == TypeToolConversation || t == TypeToolExecution || t == TypeToolResult
}

// classify assigns the content type by a fixed priority order; ties resolve
// to the first matching category.
func classify(content string) ContentType {
	hasUse := strings.Contains(content, "toolUse")
	hasResult := strings.Contains(content, "toolResult")

	switch {
	case hasUse && hasResult:
		return TypeToolConversation
	case hasUse:
		return TypeToolExecution
	case hasResult:
		return TypeToolResult
	}

	if strings.Contains(content, "collaboratorName") ||
		strings.Contains(content, "sendMessage") ||
		strings.Contains(content, "AgentCommunication") {
		return TypeAgentComm
	}

	lower := strings.ToLower(content)
	for _, marker := range []string{"error:", "exception", "traceback", "failed with"} {
		if strings.Contains(lower, marker) {
			return TypeErrorMessage
		}
	}

	trimmed := strings.TrimSpace(content)
	if len(trimmed) > 1 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid([]byte(trimmed)) {
		return TypeStructuredText
	}

	if looksLikeSystemPrompt(content) {
		return TypeSystemPrompt
	}

	if strings.Count(content, "{")+strings.Count(content, "[") >= 4 {
		return TypeComplex
	}

	return TypeSimpleText
}

// looksLikeSystemPrompt is a shape check only; real detection with
// fingerprinting lives in the promptstrip package.
func looksLikeSystemPrompt(content string) bool {
	if len(content) < 2000 {
		return false
	}
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "You are") {
		return true
	}
	markers := 0
	for _, m := range []string{"IMPORTANT:", "You must", "your role", "instructions", "## "} {
		if strings.Contains(content, m) {
			markers++
		}
	}
	return markers >= 2
}

func extractErrorInfo(content string) map[string]any {
	info := map[string]any{}

	// Prefer a structured error envelope when one is embedded.
	if start := strings.Index(content, "{"); start >= 0 {
		if block, ok := braceBlock(content, start); ok {
			var obj map[string]any
			if err := json.Unmarshal([]byte(block), &obj); err == nil {
				info["structured"] = obj
			}
		}
	}

	preview := content
	if len(preview) > 500 {
		preview = preview[:500]
	}
	info["message"] = strings.TrimSpace(preview)
	return info
}
