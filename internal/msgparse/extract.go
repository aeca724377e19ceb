package msgparse

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	toolNameRe = regexp.MustCompile(`name=([A-Za-z0-9_.:-]+)`)
	pairRe     = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)=((?:[^,={}\[\]]|\{[^{}]*\})+)`)
	statusRe   = regexp.MustCompile(`status=([A-Za-z_]+)`)
)

// knownInputKeys are parameter names the platform is known to emit inside
// tool inputs; matching these raises confidence that a key=value split is
// meaningful rather than accidental.
var knownInputKeys = map[string]bool{
	"query": true, "sql": true, "deal_id": true, "lead_id": true,
	"account_id": true, "table": true, "limit": true, "days": true,
	"entity": true, "search_term": true, "url": true, "message": true,
	"recipient": true, "time_range": true,
}

// extractToolUses locates every toolUse block and parses its name and input.
// Malformed blocks degrade to a record carrying a raw preview and a
// parsing_error; this function never fails.
func extractToolUses(content string) []ToolUseRecord {
	var records []ToolUseRecord
	searchFrom := 0
	for {
		idx := strings.Index(content[searchFrom:], "toolUse")
		if idx < 0 {
			break
		}
		idx += searchFrom
		searchFrom = idx + len("toolUse")

		braceStart := strings.Index(content[idx:], "{")
		if braceStart < 0 {
			break
		}
		block, ok := braceBlock(content, idx+braceStart)
		if !ok {
			// Truncated block: keep what we can see.
			block = content[idx+braceStart:]
		}
		records = append(records, parseToolUseBlock(block))
	}
	return records
}

func parseToolUseBlock(block string) ToolUseRecord {
	rec := ToolUseRecord{}

	if m := toolNameRe.FindStringSubmatch(block); m != nil {
		rec.Name = m[1]
	}

	inputIdx := strings.Index(block, "input=")
	if inputIdx < 0 {
		if rec.Name == "" {
			rec.ParsingError = "no name or input field in toolUse block"
			rec.RawPreview = preview(block)
		}
		return rec
	}

	braceStart := strings.Index(block[inputIdx:], "{")
	if braceStart < 0 {
		rec.ParsingError = "input field without value block"
		rec.RawPreview = preview(block)
		return rec
	}
	inputBlock, ok := braceBlock(block, inputIdx+braceStart)
	if !ok {
		inputBlock = block[inputIdx+braceStart:]
	}

	input, format, err := parseInputBlock(inputBlock)
	rec.Input = input
	rec.InputFormat = format
	if err != "" {
		rec.ParsingError = err
		rec.RawPreview = preview(inputBlock)
	}
	return rec
}

// parseInputBlock tries three sub-formats in order of preference: valid
// embedded JSON, known key=value pairs, then generic key=value fallback.
func parseInputBlock(block string) (map[string]any, string, string) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(block), &obj); err == nil {
		return obj, "json", ""
	}

	inner := strings.TrimSpace(block)
	inner = strings.TrimPrefix(inner, "{")
	inner = strings.TrimSuffix(inner, "}")

	pairs := pairRe.FindAllStringSubmatch(inner, -1)
	if len(pairs) == 0 {
		return nil, "raw", "input matched no known format"
	}

	known := 0
	parsed := make(map[string]any, len(pairs))
	for _, m := range pairs {
		key := m[1]
		val := strings.TrimSpace(m[2])
		parsed[key] = val
		if knownInputKeys[key] {
			known++
		}
	}
	if known > 0 {
		return parsed, "known_pairs", ""
	}
	return parsed, "generic_pairs", ""
}

// extractToolResults mirrors extractToolUses and additionally decodes
// nested JSON inside a content=[...] field. Deeply nested malformed JSON
// may fail to fully resolve; the acceptable degradation is a nil
// structured_content.
func extractToolResults(content string) []ToolResultRecord {
	var records []ToolResultRecord
	searchFrom := 0
	for {
		idx := strings.Index(content[searchFrom:], "toolResult")
		if idx < 0 {
			break
		}
		idx += searchFrom
		searchFrom = idx + len("toolResult")

		braceStart := strings.Index(content[idx:], "{")
		if braceStart < 0 {
			break
		}
		block, ok := braceBlock(content, idx+braceStart)
		if !ok {
			block = content[idx+braceStart:]
		}
		records = append(records, parseToolResultBlock(block))
	}
	return records
}

func parseToolResultBlock(block string) ToolResultRecord {
	rec := ToolResultRecord{}

	if m := statusRe.FindStringSubmatch(block); m != nil {
		rec.Status = m[1]
	}

	contentIdx := strings.Index(block, "content=")
	if contentIdx < 0 {
		rec.ParsingError = "no content field in toolResult block"
		return rec
	}
	rest := block[contentIdx+len("content="):]

	// content=[...] carries a list of text/json items.
	if strings.HasPrefix(rest, "[") {
		body, ok := bracketBlock(rest, 0)
		if !ok {
			body = rest
		}
		rec.Content = strings.TrimSpace(strings.Trim(body, "[]"))
		rec.StructuredContent = decodeEmbeddedJSON(body)
		return rec
	}

	// Bare content value: take text up to the enclosing block's end.
	end := len(rest)
	if cut := strings.LastIndex(rest, "}"); cut >= 0 {
		end = cut
	}
	rec.Content = strings.TrimSpace(rest[:end])
	return rec
}

// decodeEmbeddedJSON locates the first JSON object inside a content list
// and decodes it, tolerating a single unbalanced closing brace by brace
// matching rather than a full parser.
func decodeEmbeddedJSON(body string) any {
	start := strings.Index(body, "{")
	if start < 0 {
		return nil
	}
	block, ok := braceBlock(body, start)
	if !ok {
		block = body[start:]
	}
	var obj any
	if err := json.Unmarshal([]byte(block), &obj); err == nil {
		return obj
	}
	// One unbalanced brace is common in truncated logs; try closing it.
	if err := json.Unmarshal([]byte(block+"}"), &obj); err == nil {
		return obj
	}
	return nil
}

// braceBlock returns the brace-balanced substring starting at the '{' at
// position start. Reports false when the block never closes.
func braceBlock(s string, start int) (string, bool) {
	return delimitedBlock(s, start, '{', '}')
}

func bracketBlock(s string, start int) (string, bool) {
	return delimitedBlock(s, start, '[', ']')
}

func delimitedBlock(s string, start int, open, close byte) (string, bool) {
	if start >= len(s) || s[start] != open {
		return "", false
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func preview(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
