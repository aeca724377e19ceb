package msgparse

import (
	"regexp"
	"strings"
)

// Three independent textual patterns announce agent-to-agent communication.
// They overlap on purpose: reporting the same hand-off twice is idempotent
// downstream, losing one is not.
var (
	detailedSendRe = regexp.MustCompile(`sendMessage[^{]*\{[^}]*recipient[=:]\s*['"]?([A-Za-z0-9_-]+)['"]?[^}]*message[=:]\s*['"]?([^'"}]*)`)
	collaboratorRe = regexp.MustCompile(`collaboratorName[=:]\s*['"]?([A-Za-z0-9_-]+)`)
	simpleSendRe   = regexp.MustCompile(`(?i)send(?:ing)?\s+message\s+to\s+(?:agent\s+)?['"]?([A-Za-z0-9_-]+)`)
)

// extractCommunications scans content for all three communication patterns.
func extractCommunications(content string) []CommRecord {
	if content == "" {
		return nil
	}
	var records []CommRecord

	for _, m := range detailedSendRe.FindAllStringSubmatch(content, -1) {
		records = append(records, CommRecord{
			Pattern:   "detailed_send",
			Recipient: m[1],
			Message:   strings.TrimSpace(m[2]),
		})
	}

	for _, m := range collaboratorRe.FindAllStringSubmatch(content, -1) {
		records = append(records, CommRecord{
			Pattern:   "collaborator_name",
			Recipient: m[1],
		})
	}

	for _, m := range simpleSendRe.FindAllStringSubmatch(content, -1) {
		records = append(records, CommRecord{
			Pattern:   "simple_send",
			Recipient: m[1],
		})
	}

	return records
}

// ParseMessages parses an array of message objects, the other shape the
// platform hands content over in. Each element may be a bare string or a
// map with role/content fields; content itself may again be a string or a
// nested list of content blocks. Single canonical implementation.
func (p *Parser) ParseMessages(messages []any) []ParsedContent {
	var results []ParsedContent
	for _, msg := range messages {
		switch m := msg.(type) {
		case string:
			results = append(results, p.ParseMessageContent(m))
		case map[string]any:
			for _, text := range messageTexts(m) {
				results = append(results, p.ParseMessageContent(text))
			}
		}
	}
	return results
}

// messageTexts pulls every text payload out of one message map.
func messageTexts(m map[string]any) []string {
	switch content := m["content"].(type) {
	case string:
		if content == "" {
			return nil
		}
		return []string{content}
	case []any:
		var texts []string
		for _, block := range content {
			switch b := block.(type) {
			case string:
				texts = append(texts, b)
			case map[string]any:
				if t, ok := b["text"].(string); ok && t != "" {
					texts = append(texts, t)
				}
			}
		}
		return texts
	}
	// Some records carry the payload under "text" directly.
	if t, ok := m["text"].(string); ok && t != "" {
		return []string{t}
	}
	return nil
}
