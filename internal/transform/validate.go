package transform

import (
	"fmt"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// Validate checks a conversation for structural completeness before export.
// Problems are reported as warnings and never abort the export; an
// incomplete conversation still gets written with whatever it has.
func Validate(conv *conversation.ConversationUnit) []string {
	var warnings []string

	if conv.ConversationID == "" {
		warnings = append(warnings, "missing conversation_id")
	}
	if conv.UserQuery == "" {
		warnings = append(warnings, "missing user_query")
	}
	if conv.StartTimestamp.IsZero() {
		warnings = append(warnings, "missing start_timestamp")
	}
	if conv.EndTimestamp != nil && conv.EndTimestamp.Before(conv.StartTimestamp) {
		warnings = append(warnings, "end_timestamp precedes start_timestamp")
	}
	if conv.Success && conv.FinalResponse == nil {
		warnings = append(warnings, "successful conversation has no final_response")
	}

	for i, step := range conv.AgentFlow {
		if step.AgentName == "" {
			warnings = append(warnings, fmt.Sprintf("step %d: missing agent_name", i))
		}
		if step.StartTime.IsZero() || step.EndTime.IsZero() {
			warnings = append(warnings, fmt.Sprintf("step %d: incomplete timing", i))
		}
		for j, tool := range step.ToolsUsed {
			if tool.ToolName == "" {
				warnings = append(warnings, fmt.Sprintf("step %d tool %d: missing tool_name", i, j))
			}
			if tool.ExecutionID == "" {
				warnings = append(warnings, fmt.Sprintf("step %d tool %d: missing execution_id", i, j))
			}
		}
	}

	return warnings
}
