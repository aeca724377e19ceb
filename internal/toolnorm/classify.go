package toolnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/candela-labs/convoscope/internal/conversation"
)

// ParametersHash computes the stable dedup key: a hash over sorted-key JSON
// of the parameters, or the empty-string hash when there are none.
func ParametersHash(params map[string]any) string {
	if len(params) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		// Marshal each value independently; unmarshalable values fall back
		// to their Go formatting so the hash stays stable, never errors.
		if b, err := json.Marshal(params[k]); err == nil {
			sb.Write(b)
		} else {
			fmt.Fprintf(&sb, "%v", params[k])
		}
		sb.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// classifyStatus applies the priority ladder: explicit error, reported
// failure, timeout, non-trivial result, unknown.
func classifyStatus(exec *conversation.ToolExecution, tuning Tuning) conversation.ExecutionStatus {
	switch {
	case exec.ErrorMessage != "":
		return conversation.StatusFailed
	case !exec.Success:
		return conversation.StatusFailed
	case time.Duration(exec.ExecutionTimeMS)*time.Millisecond > tuning.TimeoutThreshold:
		return conversation.StatusTimeout
	case len(strings.TrimSpace(exec.ResultSummary)) > 10:
		return conversation.StatusSuccess
	default:
		return conversation.StatusUnknown
	}
}

// resultKeywords in a summary suggest a substantive outcome.
var resultKeywords = []string{"rows", "found", "completed", "records", "results", "retrieved"}

// qualityScore rates one execution in [0,1]: base 0.5, adjusted by status,
// result substance and execution-time plausibility.
func qualityScore(exec *conversation.ToolExecution, tuning Tuning) float64 {
	score := 0.5

	switch exec.Status {
	case conversation.StatusSuccess:
		score += 0.3
	case conversation.StatusFailed:
		score -= 0.2
	}

	result := strings.TrimSpace(exec.ResultSummary)
	if len(result) > 500 {
		score += 0.1
	} else if len(result) > 100 {
		score += 0.05
	}
	lower := strings.ToLower(result)
	for _, kw := range resultKeywords {
		if strings.Contains(lower, kw) {
			score += 0.05
			break
		}
	}

	if exec.ExecutionTimeMS > 0 {
		d := time.Duration(exec.ExecutionTimeMS) * time.Millisecond
		switch {
		case d >= tuning.ReasonableMin && d <= tuning.ReasonableMax:
			score += 0.1
		case d > 4*tuning.ReasonableMax:
			score -= 0.1
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// inferPurpose categorizes what the call was for, from tool-name families
// and, for query-like tools, from keywords inside the serialized
// parameters.
func inferPurpose(exec *conversation.ToolExecution) string {
	name := strings.ToLower(exec.ToolName)
	cat := CategoryOf(exec.ToolName)

	switch cat {
	case CategoryDataQuery:
		params := strings.ToLower(fmt.Sprintf("%v", exec.Parameters))
		switch {
		case strings.Contains(params, "deal") || strings.Contains(params, "opportunit"):
			return "deal_data_query"
		case strings.Contains(params, "lead") || strings.Contains(params, "contact"):
			return "lead_data_query"
		default:
			return "data_retrieval"
		}
	case CategoryAnalysis:
		return "analysis"
	case CategoryWebSearch:
		return "research"
	case CategoryCommunication:
		return "coordination"
	case CategoryAPICall:
		return "record_lookup"
	}

	switch {
	case strings.Contains(name, "search"):
		return "research"
	case strings.Contains(name, "query") || strings.Contains(name, "sql"):
		return "data_retrieval"
	default:
		return "general"
	}
}

// businessContext derives the entity type a call touched and whether it was
// time-scoped.
func businessContext(exec *conversation.ToolExecution) conversation.BusinessContext {
	blob := strings.ToLower(exec.ToolName + " " + fmt.Sprintf("%v", exec.Parameters))

	ctx := conversation.BusinessContext{}
	switch {
	case strings.Contains(blob, "deal") || strings.Contains(blob, "opportunit"):
		ctx.EntityType = "deal"
	case strings.Contains(blob, "lead") || strings.Contains(blob, "contact"):
		ctx.EntityType = "lead"
	case strings.Contains(blob, "account") || strings.Contains(blob, "company"):
		ctx.EntityType = "account"
	}

	for _, marker := range []string{"date", "days", "quarter", "month", "recent", "last_", "since"} {
		if strings.Contains(blob, marker) {
			ctx.Temporal = true
			break
		}
	}
	return ctx
}
