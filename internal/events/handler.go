package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/candela-labs/convoscope/internal/conversation"
	"github.com/candela-labs/convoscope/internal/pipeline"
	"github.com/candela-labs/convoscope/internal/stream"
)

// CompletedEvent is the raw conversation payload published by the
// transport adapters when a conversation finishes. Either Events (the
// incremental invocation stream, replayed as a batch) or AgentFlow
// (pre-assembled step records) is populated.
type CompletedEvent struct {
	SessionID     string            `json:"session_id"`
	UserQuery     string            `json:"user_query"`
	UserID        string            `json:"user_id,omitempty"`
	Channel       string            `json:"channel,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Events        []json.RawMessage `json:"events,omitempty"`
	AgentFlow     []map[string]any  `json:"agent_flow,omitempty"`
	FinalAnswer   string            `json:"final_answer,omitempty"`
}

// Handler subscribes to completed conversations and live trace streams,
// runs the pipeline, and publishes the summary.
type Handler struct {
	client   *Client
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	// live holds in-flight streams keyed by the conversation id from the
	// trace subject. The map lock only guards lookup; the two
	// subscriptions deliver on separate goroutines, so Consume and Finish
	// serialize through the per-stream lock.
	mu   sync.Mutex
	live map[string]*liveStream
}

// liveStream pairs an in-flight consumer with the lock that orders trace
// delivery against completion. Once closed, stray trace events are
// dropped instead of mutating a conversation already in the pipeline.
type liveStream struct {
	mu       sync.Mutex
	consumer *stream.Consumer
	closed   bool
}

func NewHandler(client *Client, p *pipeline.Pipeline, logger *slog.Logger) *Handler {
	return &Handler{
		client:   client,
		pipeline: p,
		logger:   logger,
		live:     make(map[string]*liveStream),
	}
}

// Start wires the subscriptions.
func (h *Handler) Start() error {
	if err := h.client.Subscribe(SubjectConversationCompleted, h.HandleConversationCompleted); err != nil {
		return err
	}
	return h.client.Subscribe(SubjectTraceEventPrefix+">", h.HandleTraceEvent)
}

// HandleTraceEvent feeds one incremental event into the consumer for its
// conversation, creating it on first sight. The stream stays open until
// the matching completed event arrives.
func (h *Handler) HandleTraceEvent(subject string, data []byte) {
	id := strings.TrimPrefix(subject, SubjectTraceEventPrefix)
	if id == "" || id == subject {
		return
	}

	h.mu.Lock()
	ls, ok := h.live[id]
	if !ok {
		ls = &liveStream{consumer: stream.NewConsumer(id, "", h.logger)}
		h.live[id] = ls
	}
	h.mu.Unlock()

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		h.logger.Warn("trace event after completion dropped", "conversation_id", id)
		return
	}
	ls.consumer.Consume(data)
}

// takeLive removes and returns the in-flight stream for id, if any.
func (h *Handler) takeLive(id string) *liveStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	ls := h.live[id]
	delete(h.live, id)
	return ls
}

// HandleConversationCompleted is the NATS handler for
// convoscope.conversation.completed.
func (h *Handler) HandleConversationCompleted(subject string, data []byte) {
	ctx := context.Background()

	var evt CompletedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		h.logger.Error("failed to parse completed event", "subject", subject, "error", err)
		return
	}

	conv, rawAnswer := h.assemble(&evt)

	h.logger.Info("processing conversation",
		"conversation_id", conv.ConversationID,
		"session_id", evt.SessionID,
		"correlation_id", evt.CorrelationID,
		"steps", len(conv.AgentFlow))

	result := h.pipeline.Process(ctx, conv, rawAnswer)

	if err := h.client.Publish(SubjectConversationProcessed, result.Summary()); err != nil {
		h.logger.Error("failed to publish processed summary",
			"conversation_id", conv.ConversationID, "error", err)
	}
}

// assemble prefers a live trace stream when the completed event carries no
// payload of its own; everything else goes through Assemble.
func (h *Handler) assemble(evt *CompletedEvent) (*conversation.ConversationUnit, string) {
	if len(evt.Events) == 0 && len(evt.AgentFlow) == 0 {
		if ls := h.takeLive(evt.SessionID); ls != nil {
			ls.mu.Lock()
			ls.closed = true
			conv, answer := ls.consumer.Finish()
			ls.mu.Unlock()
			if conv.UserQuery == "" {
				conv.UserQuery = evt.UserQuery
			}
			if answer == "" {
				answer = evt.FinalAnswer
			}
			return conv, answer
		}
	}
	return Assemble(evt, h.logger)
}

// Assemble turns a completed event into a conversation. A batched event
// stream goes through the incremental consumer; pre-assembled step
// records go through raw-record ingestion.
func Assemble(evt *CompletedEvent, logger *slog.Logger) (*conversation.ConversationUnit, string) {
	if len(evt.Events) > 0 {
		consumer := stream.NewConsumer(evt.SessionID, evt.UserQuery, logger)
		consumer.ConsumeBatch(evt.Events)
		conv, answer := consumer.Finish()
		if answer == "" {
			answer = evt.FinalAnswer
		}
		return conv, answer
	}

	conv := conversation.New(evt.SessionID, evt.UserQuery)
	for _, raw := range evt.AgentFlow {
		conv.AgentFlow = append(conv.AgentFlow, conversation.StepFromRaw(raw))
	}
	conv.Success = true
	return conv, evt.FinalAnswer
}
