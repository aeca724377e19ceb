// Package stream assembles a conversation from the incremental event
// sequence the agent platform emits during an invocation. Events arrive
// externally paced; undecodable or unknown-shaped events are counted and
// skipped, never fatal.
package stream

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// traceKeys are the platform trace shapes the consumer understands.
// Anything else inside a trace event is kept opaque in TraceContent.
var knownTraceKeys = []string{
	"modelInvocationInput",
	"observation",
	"knowledgeBaseLookupOutput",
	"actionGroupInvocationOutput",
}

var errorKeys = []string{
	"internalServerException",
	"validationException",
	"dependencyFailedException",
	"error",
}

// Stats counts what the consumer saw, for logging and metrics.
type Stats struct {
	TextChunks  int
	TraceEvents int
	ErrorEvents int
	Ignored     int
	Undecodable int
}

// Consumer folds one conversation's event stream into a ConversationUnit.
// Not safe for concurrent use; one consumer per conversation.
type Consumer struct {
	conv   *conversation.ConversationUnit
	logger *slog.Logger
	now    func() time.Time

	answer strings.Builder
	stats  Stats
}

func NewConsumer(sessionID, userQuery string, logger *slog.Logger) *Consumer {
	return &Consumer{
		conv:   conversation.New(sessionID, userQuery),
		logger: logger,
		now:    time.Now,
	}
}

// Consume routes one raw event. Non-JSON input is treated as a bare text
// chunk; malformed JSON is counted as undecodable and dropped.
func (c *Consumer) Consume(raw []byte) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return
	}
	if !strings.HasPrefix(trimmed, "{") {
		c.appendChunk(trimmed)
		return
	}

	var event map[string]any
	if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
		c.stats.Undecodable++
		c.logger.Debug("undecodable stream event dropped",
			"conversation_id", c.conv.ConversationID, "error", err)
		return
	}
	c.consumeEvent(event)
}

// ConsumeBatch routes a pre-split event batch, as delivered by the HTTP
// process endpoint.
func (c *Consumer) ConsumeBatch(events []json.RawMessage) {
	for _, ev := range events {
		c.Consume(ev)
	}
}

func (c *Consumer) consumeEvent(event map[string]any) {
	if chunk := chunkText(event); chunk != "" {
		c.appendChunk(chunk)
		return
	}

	if errText := errorText(event); errText != "" {
		c.stats.ErrorEvents++
		c.conv.Success = false
		if c.conv.ErrorDetails != "" {
			c.conv.ErrorDetails += "; "
		}
		c.conv.ErrorDetails += errText
		// The error still becomes part of the trace record so operators
		// can see where in the flow it happened.
		step := c.currentStep()
		if step.TraceContent == nil {
			step.TraceContent = make(map[string]any)
		}
		step.TraceContent["upstream_error"] = errText
		return
	}

	if trace := traceBody(event); trace != nil {
		c.stats.TraceEvents++
		c.applyTrace(trace)
		return
	}

	c.stats.Ignored++
	c.logger.Debug("unknown stream event shape ignored",
		"conversation_id", c.conv.ConversationID)
}

func (c *Consumer) appendChunk(text string) {
	c.stats.TextChunks++
	c.answer.WriteString(text)
}

// applyTrace attaches a trace body to the flow. A modelInvocationInput
// opens a new step; every other known key extends the current one. The
// step boundary also moves when the trace names a different agent.
func (c *Consumer) applyTrace(trace map[string]any) {
	agent := traceAgent(trace)

	_, opensStep := trace["modelInvocationInput"]
	current := c.lastStep()
	if opensStep || current == nil || (agent != "" && current.AgentName != agent) {
		c.startStep(agent)
		current = c.lastStep()
	}
	if id := strField(trace, "agentId"); id != "" {
		current.AgentID = id
	}
	current.EndTime = c.now().UTC()

	for _, key := range knownTraceKeys {
		body, ok := trace[key]
		if !ok {
			continue
		}
		if current.TraceContent == nil {
			current.TraceContent = make(map[string]any)
		}
		current.TraceContent[key] = body

		switch key {
		case "modelInvocationInput":
			if m, ok := body.(map[string]any); ok {
				if text := strField(m, "text"); text != "" {
					current.ReasoningText = text
				}
			}
		case "actionGroupInvocationOutput", "knowledgeBaseLookupOutput":
			if m, ok := body.(map[string]any); ok {
				current.TraceToolCalls = append(current.TraceToolCalls,
					conversation.ToolFromRaw(m, "trace"))
			}
		case "observation":
			c.applyObservation(current, body)
		}
	}
}

// applyObservation unwraps the nested output shapes an observation can
// carry, including the final response.
func (c *Consumer) applyObservation(step *conversation.AgentStep, body any) {
	obs, ok := body.(map[string]any)
	if !ok {
		return
	}
	for _, key := range []string{"actionGroupInvocationOutput", "knowledgeBaseLookupOutput"} {
		if m, ok := obs[key].(map[string]any); ok {
			step.TraceToolCalls = append(step.TraceToolCalls,
				conversation.ToolFromRaw(m, "trace"))
		}
	}
	if final, ok := obs["finalResponse"].(map[string]any); ok {
		if text := strField(final, "text"); text != "" {
			c.appendChunk(text)
		}
	}
}

func (c *Consumer) startStep(agent string) {
	if agent == "" {
		agent = conversation.UnknownAgent
	}
	now := c.now().UTC()
	c.conv.AgentFlow = append(c.conv.AgentFlow, conversation.AgentStep{
		AgentName: agent,
		StartTime: now,
		EndTime:   now,
	})
}

func (c *Consumer) lastStep() *conversation.AgentStep {
	if len(c.conv.AgentFlow) == 0 {
		return nil
	}
	return &c.conv.AgentFlow[len(c.conv.AgentFlow)-1]
}

// currentStep returns the last step, opening an unattributed one if the
// stream errored before any trace arrived.
func (c *Consumer) currentStep() *conversation.AgentStep {
	if step := c.lastStep(); step != nil {
		return step
	}
	c.startStep("")
	return c.lastStep()
}

// Finish closes the conversation and returns it along with the raw
// accumulated answer text. A stream cut short mid-conversation still
// yields whatever was captured; the caller decides success from stats
// and error details.
func (c *Consumer) Finish() (*conversation.ConversationUnit, string) {
	end := c.now().UTC()
	c.conv.EndTimestamp = &end
	if c.conv.ErrorDetails == "" {
		c.conv.Success = true
	}
	c.logger.Info("stream consumed",
		"conversation_id", c.conv.ConversationID,
		"steps", len(c.conv.AgentFlow),
		"text_chunks", c.stats.TextChunks,
		"trace_events", c.stats.TraceEvents,
		"error_events", c.stats.ErrorEvents,
		"ignored", c.stats.Ignored,
		"undecodable", c.stats.Undecodable)
	return c.conv, c.answer.String()
}

// Stats returns the event counters observed so far.
func (c *Consumer) Stats() Stats {
	return c.stats
}

// chunkText extracts the text payload from a chunk event. Both the
// {"chunk": {"bytes": ...}} and {"chunk": "..."} spellings occur.
func chunkText(event map[string]any) string {
	switch chunk := event["chunk"].(type) {
	case string:
		return chunk
	case map[string]any:
		if s := strField(chunk, "bytes"); s != "" {
			return s
		}
		return strField(chunk, "text")
	}
	return ""
}

func errorText(event map[string]any) string {
	for _, key := range errorKeys {
		switch v := event[key].(type) {
		case string:
			return key + ": " + v
		case map[string]any:
			if msg := strField(v, "message"); msg != "" {
				return key + ": " + msg
			}
			return key
		}
	}
	return ""
}

// traceBody locates the trace object: either the event itself carries a
// known key, or it is nested under "trace" (possibly inside
// "orchestrationTrace").
func traceBody(event map[string]any) map[string]any {
	if hasKnownKey(event) {
		return event
	}
	trace, ok := event["trace"].(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := trace["orchestrationTrace"].(map[string]any); ok {
		trace = inner
	}
	if hasKnownKey(trace) {
		return trace
	}
	return nil
}

func hasKnownKey(m map[string]any) bool {
	for _, key := range knownTraceKeys {
		if _, ok := m[key]; ok {
			return true
		}
	}
	return false
}

func traceAgent(trace map[string]any) string {
	for _, key := range []string{"collaboratorName", "agentName", "agentId"} {
		if s := strField(trace, key); s != "" {
			return s
		}
	}
	return ""
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
