package respparse

import (
	"regexp"
	"strings"
)

var (
	bulletRe     = regexp.MustCompile(`^\s*[-*•]\s+(.+)$`)
	numberedRe   = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
	headerLineRe = regexp.MustCompile(`^#{1,4}\s+(.+)$`)
	keyValueRe   = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 _-]{1,40}):\s+(.+)$`)
	percentRe    = regexp.MustCompile(`\d+(?:\.\d+)?%`)
	currencyRe   = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?[KMBkmb]?`)
	dateRe       = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|Q[1-4]\s?\d{4})\b`)
	metricRe     = regexp.MustCompile(`(?i)\b[\w ]{2,30}(?:grew|dropped|increased|decreased|rose|fell)(?:\s+by)?\s+[\d.]+%?`)
)

// extractElements scans the content line by line for structured
// sub-elements, returning only non-empty categories.
func extractElements(content string) map[string][]string {
	elements := map[string][]string{}
	add := func(key, val string) {
		val = strings.TrimSpace(val)
		if val != "" {
			elements[key] = append(elements[key], val)
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if m := headerLineRe.FindStringSubmatch(line); m != nil {
			add("headers", m[1])
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			add("bullets", m[1])
			continue
		}
		if m := numberedRe.FindStringSubmatch(line); m != nil {
			add("numbered_items", m[1])
			continue
		}
		if m := keyValueRe.FindStringSubmatch(line); m != nil {
			add("key_values", m[1]+": "+m[2])
		}
	}

	for _, m := range percentRe.FindAllString(content, -1) {
		add("percentages", m)
	}
	for _, m := range currencyRe.FindAllString(content, -1) {
		add("currency_amounts", m)
	}
	for _, m := range dateRe.FindAllString(content, -1) {
		add("dates", m)
	}
	for _, m := range metricRe.FindAllString(content, -1) {
		add("metric_changes", m)
	}

	if len(elements) == 0 {
		return nil
	}
	return elements
}
