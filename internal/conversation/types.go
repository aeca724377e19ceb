package conversation

import "time"

// ConversationUnit is one end-to-end user request/response cycle.
// It exclusively owns its AgentSteps and their ToolExecutions; nothing is
// shared across conversations.
type ConversationUnit struct {
	ConversationID string     `json:"conversation_id"`
	SessionID      string     `json:"session_id"`
	StartTimestamp time.Time  `json:"start_timestamp"`
	EndTimestamp   *time.Time `json:"end_timestamp,omitempty"`

	UserQuery     string          `json:"user_query"`
	FinalResponse *ParsedResponse `json:"final_response,omitempty"`

	// AgentFlow preserves arrival order. Attribution and normalization
	// rewrite steps in place but never reorder or drop them.
	AgentFlow []AgentStep `json:"agent_flow"`

	Success      bool   `json:"success"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// AgentsInvolved returns the distinct attributed agent names in order of
// first appearance. Derived, never independently mutated.
func (c *ConversationUnit) AgentsInvolved() []string {
	seen := make(map[string]bool, len(c.AgentFlow))
	var agents []string
	for _, step := range c.AgentFlow {
		if step.AgentName == "" || seen[step.AgentName] {
			continue
		}
		seen[step.AgentName] = true
		agents = append(agents, step.AgentName)
	}
	return agents
}

// ProcessingTime returns the wall-clock span of the conversation, or zero
// while it is still in flight.
func (c *ConversationUnit) ProcessingTime() time.Duration {
	if c.EndTimestamp == nil {
		return 0
	}
	d := c.EndTimestamp.Sub(c.StartTimestamp)
	if d < 0 {
		return 0
	}
	return d
}

// AgentStep is one unit of agent activity within a conversation.
type AgentStep struct {
	// AgentName starts as the raw upstream label and may be overwritten by
	// attribution; the pre-attribution value is retained in OriginalAgent.
	AgentName     string `json:"agent_name"`
	OriginalAgent string `json:"original_agent,omitempty"`

	// AgentID is the opaque platform identifier, used as one attribution
	// signal. Not always populated upstream.
	AgentID string `json:"agent_id,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ReasoningText string `json:"reasoning_text,omitempty"`

	// TraceContent is the raw nested platform trace. Opaque except for the
	// known keys (modelInvocationInput, observation, knowledgeBaseLookupOutput,
	// actionGroupInvocationOutput).
	TraceContent map[string]any `json:"bedrock_trace_content,omitempty"`

	// ToolsUsed is the primary tool list. Before normalization it may hold
	// near-duplicates; after, exactly one canonical entry per logical call.
	ToolsUsed []ToolExecution `json:"tools_used,omitempty"`

	// ReasoningToolCalls and TraceToolCalls are the secondary and tertiary
	// source locations the platform logs tool executions to. Normalization
	// folds all three into ToolsUsed.
	ReasoningToolCalls []ToolExecution `json:"reasoning_tool_calls,omitempty"`
	TraceToolCalls     []ToolExecution `json:"trace_tool_calls,omitempty"`

	DataOperations []DataOperation `json:"data_operations,omitempty"`

	// Attribution outputs.
	AttributionConfidence   float64  `json:"attribution_confidence,omitempty"`
	EvidenceSources         []string `json:"evidence_sources,omitempty"`
	DetectionMethods        []string `json:"detection_methods,omitempty"`
	HandoffDetected         bool     `json:"handoff_detected,omitempty"`
	CollaborationIndicators []string `json:"collaboration_indicators,omitempty"`

	// SystemPromptRefs records prompts stripped from this step. The fact
	// that a prompt was present is never deleted, only the body.
	SystemPromptRefs []PromptReference `json:"system_prompt_refs,omitempty"`

	Normalization *StepNormalization `json:"normalization,omitempty"`
}

// Duration returns the wall-clock bounds of the step. Never negative.
func (s *AgentStep) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	d := s.EndTime.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// ToolExecution is one invocation of a named capability.
type ToolExecution struct {
	ExecutionID     string         `json:"execution_id"`
	ToolName        string         `json:"tool_name"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
	Success         bool           `json:"success"`
	ResultSummary   string         `json:"result_summary,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`

	// Source tags which of the three logging locations this record came
	// from, so origin stays traceable after merging.
	Source string `json:"source,omitempty"`

	// Derived during normalization.
	ParametersHash    string          `json:"parameters_hash,omitempty"`
	Status            ExecutionStatus `json:"status,omitempty"`
	QualityScore      float64         `json:"quality_score,omitempty"`
	Purpose           string          `json:"execution_purpose,omitempty"`
	BusinessContext   BusinessContext `json:"business_context,omitempty"`
	RelatedExecutions []string        `json:"related_executions,omitempty"`
}

// ExecutionStatus classifies how a tool execution ended.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusTimeout ExecutionStatus = "timeout"
	StatusUnknown ExecutionStatus = "unknown"
)

// BusinessContext captures the entity type a tool call touched and whether
// the call was time-scoped.
type BusinessContext struct {
	EntityType string `json:"entity_type,omitempty"`
	Temporal   bool   `json:"temporal,omitempty"`
}

// DataOperation is a tool/API call tagged as data-source access.
type DataOperation struct {
	Operation string `json:"operation"`
	Source    string `json:"source,omitempty"`
	Query     string `json:"query,omitempty"`
	Kind      string `json:"kind,omitempty"` // "sql" or "api"
}

// StepNormalization is the per-step summary attached after tool
// deduplication.
type StepNormalization struct {
	OriginalCount     int     `json:"original_count"`
	NormalizedCount   int     `json:"normalized_count"`
	DuplicatesRemoved int     `json:"duplicates_removed"`
	FailedCount       int     `json:"failed_count"`
	TotalTimeMS       float64 `json:"total_execution_time_ms"`
}

// PromptReference is the compact stand-in left behind when a system prompt
// is stripped.
type PromptReference struct {
	PromptID      string  `json:"prompt_id"`
	OriginalBytes int     `json:"original_bytes"`
	AgentType     string  `json:"agent_type,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// AgentHandoff is a transition of responsibility between agents, derived
// read-only from a completed agent flow.
type AgentHandoff struct {
	FromAgent       string      `json:"from_agent"`
	ToAgent         string      `json:"to_agent"`
	HandoffReason   string      `json:"handoff_reason"`
	ConfidenceScore float64     `json:"confidence_score"`
	HandoffType     HandoffType `json:"handoff_type"`
}

// HandoffType classifies why control moved between agents.
type HandoffType string

const (
	HandoffExplicitRouting     HandoffType = "explicit_routing"
	HandoffExpertiseBased      HandoffType = "expertise_based"
	HandoffWorkflowProgression HandoffType = "workflow_progression"
	HandoffImplicitRouting     HandoffType = "implicit_routing"
)

// ResponseFormat classifies the shape the final answer arrived in.
type ResponseFormat string

const (
	FormatJSONContainer  ResponseFormat = "json_container"
	FormatStructuredData ResponseFormat = "structured_data"
	FormatErrorResponse  ResponseFormat = "error_response"
	FormatMarkdown       ResponseFormat = "markdown"
	FormatPlainText      ResponseFormat = "plain_text"
)

// ParsedResponse is the standardized final conversation answer.
type ParsedResponse struct {
	Content              string              `json:"content"`
	FormatType           ResponseFormat      `json:"format_type"`
	ParsingMethod        string              `json:"parsing_method"`
	ConfidenceScore      float64             `json:"confidence_score"`
	ResponseQualityScore float64             `json:"response_quality_score"`
	ContainsData         bool                `json:"contains_data"`
	ContainsAnalysis     bool                `json:"contains_analysis"`
	ContainsError        bool                `json:"contains_error"`
	StructuredElements   map[string][]string `json:"structured_elements,omitempty"`
	Metadata             map[string]any      `json:"metadata,omitempty"`
}

// UnknownAgent is the attribution result when no detector fires.
const UnknownAgent = "UNKNOWN"
