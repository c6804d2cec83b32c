// Package parser extracts structured tool invocations from model output.
// Two forms are recognized: explicit [TOOL_CALL:name:{...}] markers anywhere
// in the text, and keyword-call syntax (name(key=value, ...)) inside fenced
// code blocks for known tool names.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MarkerPrefix opens a tool-call marker in the model's token stream.
const MarkerPrefix = "[TOOL_CALL:"

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// keywordCallRe matches one keyword-style call on its own line inside a
// fenced block.
var keywordCallRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\((.*)\)\s*$`)

// kvFallbackRe recovers key=value pairs when full literal parsing fails.
var kvFallbackRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*=\s*('[^']*'|"[^"]*"|[^,]+)`)

// Call is one parsed invocation in source order.
type Call struct {
	Name      string
	Arguments json.RawMessage
}

// Parser recognizes tool calls for a fixed set of known tool names.
// Marker-form calls are accepted for any well-formed name; keyword-form
// calls only for known tools, to avoid firing on ordinary code.
type Parser struct {
	known map[string]bool
}

// New builds a parser that recognizes keyword calls for the given tools.
func New(knownTools []string) *Parser {
	known := make(map[string]bool, len(knownTools))
	for _, name := range knownTools {
		known[name] = true
	}
	return &Parser{known: known}
}

// FormatMarker renders the wire form of one tool call.
func FormatMarker(name string, args any) string {
	payload, err := json.Marshal(args)
	if err != nil {
		payload = []byte("{}")
	}
	return fmt.Sprintf("%s%s:%s]", MarkerPrefix, name, payload)
}

// Extract returns all tool calls in source order, deduplicated by name and
// JSON-normalized arguments.
func (p *Parser) Extract(text string) []Call {
	var calls []Call
	seen := make(map[string]bool)

	add := func(name string, args json.RawMessage) {
		key := name + "\x00" + normalizeJSON(args)
		if seen[key] {
			return
		}
		seen[key] = true
		calls = append(calls, Call{Name: name, Arguments: args})
	}

	for _, c := range p.extractMarkers(text) {
		add(c.Name, c.Arguments)
	}
	for _, c := range p.extractKeywordCalls(text) {
		add(c.Name, c.Arguments)
	}
	return calls
}

// extractMarkers scans for [TOOL_CALL:name:{json}] markers. The JSON object
// is located by balanced-brace scanning so payloads may contain "]".
func (p *Parser) extractMarkers(text string) []Call {
	var calls []Call
	for i := 0; i < len(text); {
		start := strings.Index(text[i:], MarkerPrefix)
		if start < 0 {
			break
		}
		start += i
		rest := text[start+len(MarkerPrefix):]

		colon := strings.IndexByte(rest, ':')
		if colon < 0 {
			break
		}
		name := rest[:colon]
		if !nameRe.MatchString(name) {
			i = start + len(MarkerPrefix)
			continue
		}

		body := rest[colon+1:]
		jsonLen := balancedObjectLen(body)
		if jsonLen < 0 || jsonLen >= len(body) || body[jsonLen] != ']' {
			i = start + len(MarkerPrefix)
			continue
		}
		payload := body[:jsonLen]
		if !json.Valid([]byte(payload)) || !strings.HasPrefix(strings.TrimSpace(payload), "{") {
			i = start + len(MarkerPrefix)
			continue
		}

		calls = append(calls, Call{Name: name, Arguments: json.RawMessage(payload)})
		i = start + len(MarkerPrefix) + colon + 1 + jsonLen + 1
	}
	return calls
}

// balancedObjectLen returns the length of the JSON object at the start of s,
// or -1 if braces never balance. String literals and escapes are honored.
func balancedObjectLen(s string) int {
	if len(s) == 0 || s[0] != '{' {
		return -1
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// extractKeywordCalls finds name(key=value, ...) lines inside fenced blocks.
func (p *Parser) extractKeywordCalls(text string) []Call {
	var calls []Call
	for _, block := range fencedBlocks(text) {
		for _, line := range strings.Split(block, "\n") {
			m := keywordCallRe.FindStringSubmatch(line)
			if m == nil || !p.known[m[1]] {
				continue
			}
			args := parseKeywordArgs(m[2])
			payload, err := json.Marshal(args)
			if err != nil {
				continue
			}
			calls = append(calls, Call{Name: m[1], Arguments: payload})
		}
	}
	return calls
}

// fencedBlocks returns the contents of ``` blocks, fence lines excluded.
func fencedBlocks(text string) []string {
	var blocks []string
	lines := strings.Split(text, "\n")
	var inside bool
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inside {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
			}
			inside = !inside
			continue
		}
		if inside {
			current = append(current, line)
		}
	}
	return blocks
}

// parseKeywordArgs parses "key='value', n=2" into a map. Each value goes
// through the safe literal parser first; on failure the regex fallback
// recovers what it can.
func parseKeywordArgs(s string) map[string]any {
	args := make(map[string]any)
	for _, part := range splitTopLevel(s) {
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || !nameRe.MatchString(key) {
			continue
		}
		parsed, err := parseLiteral(strings.TrimSpace(value))
		if err != nil {
			return fallbackArgs(s)
		}
		args[key] = parsed
	}
	return args
}

func fallbackArgs(s string) map[string]any {
	args := make(map[string]any)
	for _, m := range kvFallbackRe.FindAllStringSubmatch(s, -1) {
		value := strings.TrimSpace(m[2])
		if parsed, err := parseLiteral(value); err == nil {
			args[m[1]] = parsed
		} else {
			args[m[1]] = strings.Trim(value, `'"`)
		}
	}
	return args
}

// splitTopLevel splits on commas not nested in quotes or brackets.
func splitTopLevel(s string) []string {
	var parts []string
	var depth int
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote && (i == 0 || s[i-1] != '\\') {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[', '{', '(':
			depth++
		case ']', '}', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if strings.TrimSpace(s[start:]) != "" {
		parts = append(parts, s[start:])
	}
	return parts
}

// parseLiteral handles quoted strings, booleans, null, numbers, and
// bracketed JSON-ish lists and dicts (single quotes tolerated).
func parseLiteral(s string) (any, error) {
	if s == "" {
		return nil, fmt.Errorf("empty literal")
	}
	switch {
	case len(s) >= 2 && (s[0] == '\'' && s[len(s)-1] == '\'' || s[0] == '"' && s[len(s)-1] == '"'):
		return s[1 : len(s)-1], nil
	case s == "true" || s == "True":
		return true, nil
	case s == "false" || s == "False":
		return false, nil
	case s == "null" || s == "None":
		return nil, nil
	case s[0] == '[' || s[0] == '{':
		var v any
		normalized := strings.ReplaceAll(s, "'", `"`)
		if err := json.Unmarshal([]byte(normalized), &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		var n json.Number
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			return nil, fmt.Errorf("unrecognized literal %q", s)
		}
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// normalizeJSON produces a stable string for dedupe comparison. Invalid
// JSON normalizes to itself.
func normalizeJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	normalized, err := json.Marshal(sortKeys(v))
	if err != nil {
		return string(raw)
	}
	return string(normalized)
}

// sortKeys is a no-op for encoding/json (maps marshal sorted), but nested
// slices still need a walk so their map elements normalize too.
func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortKeys(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return v
	}
}

// Strip returns display text with markers removed and fenced blocks that
// contain only tool calls dropped entirely.
func (p *Parser) Strip(text string) string {
	// Remove marker spans using the same scan as extraction.
	var b strings.Builder
	i := 0
	for i < len(text) {
		start := strings.Index(text[i:], MarkerPrefix)
		if start < 0 {
			b.WriteString(text[i:])
			break
		}
		start += i
		rest := text[start+len(MarkerPrefix):]
		colon := strings.IndexByte(rest, ':')
		if colon < 0 || !nameRe.MatchString(rest[:colon]) {
			b.WriteString(text[i : start+len(MarkerPrefix)])
			i = start + len(MarkerPrefix)
			continue
		}
		jsonLen := balancedObjectLen(rest[colon+1:])
		if jsonLen < 0 || jsonLen >= len(rest[colon+1:]) || rest[colon+1+jsonLen] != ']' {
			b.WriteString(text[i : start+len(MarkerPrefix)])
			i = start + len(MarkerPrefix)
			continue
		}
		b.WriteString(text[i:start])
		i = start + len(MarkerPrefix) + colon + 1 + jsonLen + 1
	}
	cleaned := b.String()

	// Drop fenced blocks whose every non-blank line is a known tool call.
	lines := strings.Split(cleaned, "\n")
	var out []string
	var inside bool
	var block []string
	var fence string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if !inside {
				inside = true
				fence = line
				block = nil
				continue
			}
			inside = false
			if !p.toolOnlyBlock(block) {
				out = append(out, fence)
				out = append(out, block...)
				out = append(out, line)
			}
			continue
		}
		if inside {
			block = append(block, line)
			continue
		}
		out = append(out, line)
	}
	if inside {
		out = append(out, fence)
		out = append(out, block...)
	}
	return strings.Join(out, "\n")
}

func (p *Parser) toolOnlyBlock(lines []string) bool {
	sawCall := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := keywordCallRe.FindStringSubmatch(line)
		if m == nil || !p.known[m[1]] {
			return false
		}
		sawCall = true
	}
	return sawCall
}
