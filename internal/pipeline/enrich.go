package pipeline

import (
	"github.com/candela-labs/convoscope/internal/conversation"
	"github.com/candela-labs/convoscope/internal/metrics"
	"github.com/candela-labs/convoscope/internal/msgparse"
)

// enrich runs the heuristic content parser over every step before any
// other stage touches the text. Tool activity buried in the reasoning
// repr is promoted into ReasoningToolCalls, where normalization folds it
// together with the primary and trace sources.
func (p *Pipeline) enrich(flow []conversation.AgentStep) {
	for i := range flow {
		step := &flow[i]
		p.mergeParsed(step, p.parser.ParseMessageContent(step.ReasoningText))

		// The platform sometimes nests a full message array inside the
		// model invocation input rather than flattening it to text.
		if input, ok := step.TraceContent["modelInvocationInput"].(map[string]any); ok {
			if messages, ok := input["messages"].([]any); ok {
				for _, parsed := range p.parser.ParseMessages(messages) {
					p.mergeParsed(step, parsed)
				}
			}
		}
	}
}

// mergeParsed folds one parse result into the step. Tool results are
// paired with tool uses positionally; the debug repr interleaves them in
// call order within a single content string.
func (p *Pipeline) mergeParsed(step *conversation.AgentStep, parsed msgparse.ParsedContent) {
	for idx, use := range parsed.ToolUses {
		exec := conversation.ToolExecution{
			ToolName:   use.Name,
			Parameters: use.Input,
			Timestamp:  step.StartTime,
			Success:    use.ParsingError == "",
			Source:     "reasoning",
		}
		if use.ParsingError != "" {
			exec.ErrorMessage = use.ParsingError
			metrics.ParseErrors.Inc()
		}
		if idx < len(parsed.ToolResults) {
			res := parsed.ToolResults[idx]
			exec.ResultSummary = res.Content
			if res.Status != "" && res.Status != "success" {
				exec.Success = false
			}
			if res.ParsingError != "" {
				metrics.ParseErrors.Inc()
			}
		}
		step.ReasoningToolCalls = append(step.ReasoningToolCalls, exec)
	}

	// Only the detailed pattern carries enough to reconstruct the call.
	// The bare-recipient patterns still feed hand-off detection through
	// the raw text, so nothing is lost by skipping them here.
	for _, comm := range parsed.AgentCommunications {
		if comm.Pattern != "detailed_send" {
			continue
		}
		step.ReasoningToolCalls = append(step.ReasoningToolCalls, conversation.ToolExecution{
			ToolName: "send_message",
			Parameters: map[string]any{
				"recipient": comm.Recipient,
				"message":   comm.Message,
			},
			Timestamp: step.StartTime,
			Success:   true,
			Source:    "reasoning",
		})
	}
}
