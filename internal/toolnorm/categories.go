// Package toolnorm collapses the redundant tool-execution records the
// platform logs across multiple code paths into one canonical record per
// logical call, with links to its duplicates.
package toolnorm

import "time"

// Category buckets tools for dedup-window selection.
type Category string

const (
	CategoryDataQuery     Category = "data_query"
	CategoryAPICall       Category = "api_call"
	CategoryWebSearch     Category = "web_search"
	CategoryCommunication Category = "communication"
	CategoryAnalysis      Category = "analysis"
	CategoryOther         Category = "other"
)

var toolCategories = map[string]Category{
	"firebolt_query":    CategoryDataQuery,
	"query_firebolt":    CategoryDataQuery,
	"execute_sql":       CategoryDataQuery,
	"get_table_schema":  CategoryDataQuery,
	"get_deal_data":     CategoryAPICall,
	"get_lead_data":     CategoryAPICall,
	"salesforce_query":  CategoryAPICall,
	"gong_call_summary": CategoryAPICall,
	"web_search":        CategoryWebSearch,
	"fetch_page":        CategoryWebSearch,
	"send_message":      CategoryCommunication,
	"sendMessage":       CategoryCommunication,
	"deal_analysis":     CategoryAnalysis,
	"lead_analysis":     CategoryAnalysis,
	"meddpicc_score":    CategoryAnalysis,
	"icp_fit_score":     CategoryAnalysis,
}

// CategoryOf returns the category for a tool name, defaulting to other.
func CategoryOf(toolName string) Category {
	if cat, ok := toolCategories[toolName]; ok {
		return cat
	}
	return CategoryOther
}

// Tuning holds the per-category dedup windows and the execution-time
// classification bounds. Windows differ by category because legitimate
// repeat calls are far more likely for cheap chatty tools than for
// expensive analysis calls.
type Tuning struct {
	DedupWindows     map[Category]time.Duration `yaml:"dedup_windows"`
	TimeoutThreshold time.Duration              `yaml:"timeout_threshold"`
	ReasonableMin    time.Duration              `yaml:"reasonable_min"`
	ReasonableMax    time.Duration              `yaml:"reasonable_max"`
}

func DefaultTuning() Tuning {
	return Tuning{
		DedupWindows: map[Category]time.Duration{
			CategoryCommunication: 5 * time.Second,
			CategoryAPICall:       15 * time.Second,
			CategoryDataQuery:     30 * time.Second,
			CategoryWebSearch:     60 * time.Second,
			CategoryAnalysis:      180 * time.Second,
			CategoryOther:         60 * time.Second,
		},
		TimeoutThreshold: 5 * time.Minute,
		ReasonableMin:    50 * time.Millisecond,
		ReasonableMax:    30 * time.Second,
	}
}

// Window returns the dedup window for a category.
func (t Tuning) Window(cat Category) time.Duration {
	if w, ok := t.DedupWindows[cat]; ok {
		return w
	}
	return t.DedupWindows[CategoryOther]
}
