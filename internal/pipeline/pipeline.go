// Package pipeline runs one conversation through content parsing,
// stripping, attribution, tool normalization, response parsing, and export. Processing is
// request-scoped and single-threaded per conversation; only the
// fingerprint index is shared across conversations.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/candela-labs/convoscope/internal/attribution"
	"github.com/candela-labs/convoscope/internal/conversation"
	"github.com/candela-labs/convoscope/internal/export"
	"github.com/candela-labs/convoscope/internal/metrics"
	"github.com/candela-labs/convoscope/internal/msgparse"
	"github.com/candela-labs/convoscope/internal/promptstrip"
	"github.com/candela-labs/convoscope/internal/respparse"
	"github.com/candela-labs/convoscope/internal/toolnorm"
	"github.com/candela-labs/convoscope/internal/transform"
)

// fallbackAnswer is what the end user sees when the pipeline cannot
// produce a real response. Users never see raw errors or JSON.
const fallbackAnswer = "I'm sorry, I wasn't able to complete that request. " +
	"The conversation has been recorded and the team will look into it."

type Pipeline struct {
	parser      *msgparse.Parser
	stripper    *promptstrip.Stripper
	attributor  *attribution.Engine
	normalizer  *toolnorm.Normalizer
	transformer *transform.Transformer
	exporter    *export.Writer
	logger      *slog.Logger
}

func New(stripper *promptstrip.Stripper, attributor *attribution.Engine, normalizer *toolnorm.Normalizer,
	transformer *transform.Transformer, exporter *export.Writer, logger *slog.Logger) *Pipeline {
	parser := msgparse.NewParser()
	parser.OnUnmatched = metrics.PatternDrift.Inc
	return &Pipeline{
		parser:      parser,
		stripper:    stripper,
		attributor:  attributor,
		normalizer:  normalizer,
		transformer: transformer,
		exporter:    exporter,
		logger:      logger,
	}
}

// Result is what the pipeline hands back to the transport layer. Answer
// is always non-empty, even on internal failure.
type Result struct {
	Conversation *conversation.ConversationUnit
	Handoffs     []conversation.AgentHandoff
	Answer       string
	ExportURLs   map[string]string
}

// Summary is the conversation summary object published to downstream
// analytics consumers.
type Summary struct {
	ConversationID   string                      `json:"conversation_id"`
	AgentsInvolved   []string                    `json:"agents_involved"`
	Success          bool                        `json:"success"`
	ProcessingTimeMS int64                       `json:"processing_time_ms"`
	AgentFlow        []conversation.AgentStep    `json:"agent_flow"`
	DetectedHandoffs []conversation.AgentHandoff `json:"detected_agent_handovers"`
	ExportURLs       map[string]string           `json:"export_urls,omitempty"`
}

func (r *Result) Summary() Summary {
	return Summary{
		ConversationID:   r.Conversation.ConversationID,
		AgentsInvolved:   r.Conversation.AgentsInvolved(),
		Success:          r.Conversation.Success,
		ProcessingTimeMS: r.Conversation.ProcessingTime().Milliseconds(),
		AgentFlow:        r.Conversation.AgentFlow,
		DetectedHandoffs: r.Handoffs,
		ExportURLs:       r.ExportURLs,
	}
}

// Process runs the full pipeline over an assembled conversation and its
// raw answer text. A panic anywhere inside is caught here: the
// conversation is marked unsuccessful, a best-effort export is still
// attempted, and the user gets the fallback answer. A single malformed
// conversation must never take the process down.
func (p *Pipeline) Process(ctx context.Context, conv *conversation.ConversationUnit, rawAnswer string) (result *Result) {
	started := time.Now()
	result = &Result{Conversation: conv, Answer: fallbackAnswer}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic recovered",
				"conversation_id", conv.ConversationID, "panic", fmt.Sprint(r))
			conv.Success = false
			if conv.ErrorDetails != "" {
				conv.ErrorDetails += "; "
			}
			conv.ErrorDetails += fmt.Sprintf("internal error: %v", r)
			result.Answer = fallbackAnswer
			p.export(ctx, result)
		}
		metrics.PipelineDuration.Observe(time.Since(started).Seconds())
		outcome := "success"
		if !conv.Success {
			outcome = "failure"
		}
		metrics.ConversationsProcessed.WithLabelValues(outcome).Inc()
	}()

	if conv.EndTimestamp == nil {
		end := time.Now().UTC()
		conv.EndTimestamp = &end
	}

	p.enrich(conv.AgentFlow)

	// Strip system prompts before anything else touches the text.
	for i := range conv.AgentFlow {
		removed := p.stripper.StripStep(ctx, &conv.AgentFlow[i])
		for range removed {
			metrics.PromptsDetected.WithLabelValues("pipeline").Inc()
		}
	}

	p.attributor.Apply(conv.AgentFlow)
	result.Handoffs = attribution.ExtractHandoffs(conv.AgentFlow)

	flow, stats := p.normalizer.Normalize(conv.AgentFlow)
	conv.AgentFlow = flow
	if stats.DuplicatesRemoved > 0 {
		metrics.DuplicatesRemoved.Add(float64(stats.DuplicatesRemoved))
	}

	parsed := respparse.ParseFinalResponse(rawAnswer, &respparse.Context{
		UserQuery:      conv.UserQuery,
		AgentsInvolved: conv.AgentsInvolved(),
	})
	conv.FinalResponse = &parsed
	if parsed.Content != "" {
		result.Answer = parsed.Content
	}

	p.export(ctx, result)

	p.logger.Info("conversation processed",
		"conversation_id", conv.ConversationID,
		"steps", len(conv.AgentFlow),
		"agents", conv.AgentsInvolved(),
		"handoffs", len(result.Handoffs),
		"duplicates_removed", stats.DuplicatesRemoved,
		"success", conv.Success)
	return result
}

// export writes all representations. Failures are soft: logged, counted,
// and never allowed to block the answer.
func (p *Pipeline) export(ctx context.Context, result *Result) {
	docs := p.transformer.TransformAll(result.Conversation, result.Handoffs)
	urls, err := p.exporter.Write(ctx, result.Conversation, docs)
	if err != nil {
		metrics.ExportFailures.Inc()
	}
	result.ExportURLs = urls
}
