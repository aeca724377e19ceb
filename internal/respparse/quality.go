package respparse

import (
	"regexp"
	"strings"
)

// High-quality phrase families: data-cites-analysis language, figures,
// explicit comparison.
var highQualityRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbased on (the )?(data|analysis|results)\b`),
	regexp.MustCompile(`\d+(\.\d+)?%`),
	regexp.MustCompile(`[$€£]\s?\d`),
	regexp.MustCompile(`(?i)\bcompared (to|with)\b`),
	regexp.MustCompile(`(?i)\b(increase|decrease|grew|declined|trend)\b`),
}

// Low-quality families: bare acknowledgements and explicit inability.
var lowQualityRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(ok(ay)?|sure|got it|understood)\.?\s*$`),
	regexp.MustCompile(`(?i)\b(i )?(don'?t|do not) know\b`),
	regexp.MustCompile(`(?i)\b(unable to|cannot) (answer|help|find)\b`),
	regexp.MustCompile(`(?i)\ban error occurred\b`),
}

var dataRes = []*regexp.Regexp{
	regexp.MustCompile(`\d+(\.\d+)?%`),
	regexp.MustCompile(`[$€£]\s?\d`),
	regexp.MustCompile(`(?i)\b\d+ (rows|records|deals|leads|accounts)\b`),
	regexp.MustCompile(`(?i)\b(revenue|pipeline|quota|arr|acv)\b.*\d`),
}

var analysisRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(analysis|assessment|evaluation|insight)\b`),
	regexp.MustCompile(`(?i)\b(recommend|suggest|indicates|implies)\b`),
	regexp.MustCompile(`(?i)\b(risk|opportunity|strength|weakness)\b`),
}

// qualityScore rates the response in [0,1]: base 0.5, shifted by phrase
// families, length, and lexical overlap with the originating query.
func qualityScore(content string, ctx *Context) float64 {
	score := 0.5

	high := 0.0
	for _, re := range highQualityRes {
		if re.MatchString(content) {
			high += 0.1
		}
	}
	if high > 0.4 {
		high = 0.4
	}
	score += high

	low := 0.0
	for _, re := range lowQualityRes {
		if re.MatchString(content) {
			low += 0.2
		}
	}
	if low > 0.4 {
		low = 0.4
	}
	score -= low

	if len(content) > 500 {
		score += 0.1
	} else if len(content) < 50 {
		score -= 0.1
	}

	if ctx != nil && ctx.UserQuery != "" {
		score += 0.2 * queryOverlap(content, ctx.UserQuery)
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// queryOverlap is the fraction of meaningful query words echoed in the
// response.
func queryOverlap(content, query string) float64 {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	meaningful, matched := 0, 0
	for _, w := range words {
		w = strings.Trim(w, ".,?!\"'")
		if len(w) < 4 {
			continue
		}
		meaningful++
		if strings.Contains(lower, w) {
			matched++
		}
	}
	if meaningful == 0 {
		return 0
	}
	return float64(matched) / float64(meaningful)
}

func containsData(content string) bool {
	for _, re := range dataRes {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

func containsAnalysis(content string) bool {
	for _, re := range analysisRes {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}
