package conversation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ingestion converts the loosely-shaped records the upstream platform emits
// (JSON maps with inconsistent key spellings) into the canonical types in
// this package. All downstream components operate only on the canonical
// types; this is the single place that tolerates both snake_case and
// camelCase field names.

// New creates an in-flight conversation for a request.
func New(sessionID, userQuery string) *ConversationUnit {
	return &ConversationUnit{
		ConversationID: uuid.New().String(),
		SessionID:      sessionID,
		StartTimestamp: time.Now().UTC(),
		UserQuery:      userQuery,
	}
}

// StepFromRaw normalizes one raw step record.
func StepFromRaw(raw map[string]any) AgentStep {
	step := AgentStep{
		AgentName:     rawStr(raw, "agent_name", "agentName", "agent"),
		AgentID:       rawStr(raw, "agent_id", "agentId"),
		ReasoningText: rawStr(raw, "reasoning_text", "reasoningText", "reasoning"),
		StartTime:     rawTime(raw, "start_time", "startTime", "timestamp"),
		EndTime:       rawTime(raw, "end_time", "endTime"),
	}

	if trace, ok := raw["bedrock_trace_content"].(map[string]any); ok {
		step.TraceContent = trace
	} else if trace, ok := raw["trace"].(map[string]any); ok {
		step.TraceContent = trace
	}

	step.ToolsUsed = toolsFromRaw(rawList(raw, "tools_used", "toolsUsed"), "primary")
	step.ReasoningToolCalls = toolsFromRaw(rawList(raw, "reasoning_tool_calls", "tool_breakdown"), "reasoning")
	step.TraceToolCalls = toolsFromRaw(rawList(raw, "trace_tool_calls", "traceToolCalls"), "trace")

	for _, item := range rawList(raw, "data_operations", "dataOperations") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		step.DataOperations = append(step.DataOperations, DataOperation{
			Operation: rawStr(m, "operation", "name"),
			Source:    rawStr(m, "source", "data_source"),
			Query:     rawStr(m, "query", "sql"),
			Kind:      rawStr(m, "kind", "type"),
		})
	}

	return step
}

// ToolFromRaw normalizes one raw tool execution record.
func ToolFromRaw(raw map[string]any, source string) ToolExecution {
	exec := ToolExecution{
		ToolName:        rawStr(raw, "tool_name", "toolName", "name"),
		Timestamp:       rawTime(raw, "timestamp", "start_time", "startTime"),
		ExecutionTimeMS: rawNum(raw, "execution_time_ms", "executionTimeMs", "duration_ms"),
		ResultSummary:   rawStr(raw, "result_summary", "result", "output"),
		ErrorMessage:    rawStr(raw, "error_message", "error"),
		Source:          source,
	}

	if params, ok := raw["parameters"].(map[string]any); ok {
		exec.Parameters = params
	} else if params, ok := raw["input"].(map[string]any); ok {
		exec.Parameters = params
	}

	switch v := raw["success"].(type) {
	case bool:
		exec.Success = v
	case string:
		exec.Success = v == "true"
	default:
		// Absent success is a normal, representable state. Treat as
		// successful unless an error message says otherwise.
		exec.Success = exec.ErrorMessage == ""
	}

	return exec
}

func toolsFromRaw(items []any, source string) []ToolExecution {
	var execs []ToolExecution
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		execs = append(execs, ToolFromRaw(m, source))
	}
	return execs
}

// rawStr returns the first non-empty string value among the given keys.
func rawStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

// rawNum returns the first numeric value among the given keys.
func rawNum(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return 0
}

// rawList returns the first slice value among the given keys.
func rawList(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v
		}
	}
	return nil
}

// rawTime parses the first parseable timestamp among the given keys.
// Unparseable timestamps are a parse-local condition: the zero time is
// returned, never an error.
func rawTime(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
				if ts, err := time.Parse(layout, v); err == nil {
					return ts
				}
			}
		case float64:
			// Epoch seconds, possibly fractional.
			sec := int64(v)
			nsec := int64((v - float64(sec)) * float64(time.Second))
			return time.Unix(sec, nsec).UTC()
		case time.Time:
			return v
		}
	}
	return time.Time{}
}
