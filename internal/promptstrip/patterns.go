package promptstrip

import "regexp"

// agentPhrases are literal substrings characteristic of each agent's system
// prompt. The score for an agent type is matched/total for its catalogue;
// a ratio at or above the tuning's PatternRatio records that agent type.
var agentPhrases = map[string][]string{
	"deal_analysis_agent": {
		"MEDDPICC",
		"deal analysis",
		"opportunity stage",
		"close date",
		"deal risk",
		"pipeline review",
	},
	"lead_analysis_agent": {
		"ideal customer profile",
		"ICP fit",
		"lead scoring",
		"lead qualification",
		"contact enrichment",
		"conversion likelihood",
	},
	"data_analysis_agent": {
		"Firebolt",
		"SQL query",
		"table schema",
		"data warehouse",
		"query results",
		"aggregation",
	},
	"manager_agent": {
		"route the request",
		"specialized agents",
		"collaborator agents",
		"delegate the task",
		"coordinate responses",
	},
}

// genericInstructional matches imperative, role-defining phrasing common to
// all system prompts regardless of agent.
var genericInstructional = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byou are (a|an|the) `),
	regexp.MustCompile(`(?i)\byour (role|task|job|purpose) is\b`),
	regexp.MustCompile(`(?i)\byou (must|should) (always|never)\b`),
	regexp.MustCompile(`(?i)\bfollow these (instructions|guidelines|rules)\b`),
	regexp.MustCompile(`(?i)\bdo not (reveal|disclose|mention)\b`),
	regexp.MustCompile(`(?i)\bwhen responding\b`),
}

// Structural indicators of prompt-shaped text.
var (
	headerRe     = regexp.MustCompile(`(?m)^#{1,3} `)
	boldRe       = regexp.MustCompile(`\*\*[^*]+\*\*`)
	capsMarkerRe = regexp.MustCompile(`(?m)^[A-Z][A-Z ]{4,}:`)
	youArePrefix = regexp.MustCompile(`^\s*You are `)
	numberedRule = regexp.MustCompile(`(?m)^\s*\d+\. `)
)

// structuralScore returns the fraction of structural indicators present,
// in [0,1].
func structuralScore(content string, lineCount int) float64 {
	indicators := 0
	total := 5
	if headerRe.MatchString(content) {
		indicators++
	}
	if boldRe.MatchString(content) {
		indicators++
	}
	if capsMarkerRe.MatchString(content) {
		indicators++
	}
	if lineCount >= 10 {
		indicators++
	}
	if youArePrefix.MatchString(content) || numberedRule.MatchString(content) {
		indicators++
	}
	return float64(indicators) / float64(total)
}
