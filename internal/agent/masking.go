package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cinder-ai/cinder/pkg/models"
)

// MaskOptions tunes tool-output compression for context reuse.
type MaskOptions struct {
	// HeadLines and TailLines bound how much of a long stdout block
	// survives (defaults 20 and 10).
	HeadLines int
	TailLines int

	// FieldBudget caps the rendered length of each structured value
	// (default 512 bytes).
	FieldBudget int
}

func (o MaskOptions) withDefaults() MaskOptions {
	if o.HeadLines <= 0 {
		o.HeadLines = 20
	}
	if o.TailLines <= 0 {
		o.TailLines = 10
	}
	if o.FieldBudget <= 0 {
		o.FieldBudget = 512
	}
	return o
}

// Masked is the lossy representation of a tool result that enters model
// context. The full result stays with the immediate caller.
type Masked struct {
	Content          string
	CompressionRatio float64
	TokensSaved      int
}

// Mask compresses a tool result. Errors, stderr, and non-zero exit lines
// survive verbatim; long stdout collapses to head and tail; structured
// values are truncated per field.
func Mask(res *models.ToolResult, opts MaskOptions) Masked {
	opts = opts.withDefaults()

	raw := renderRaw(res)
	var b strings.Builder

	if !res.Success {
		fmt.Fprintf(&b, "error (%s): %s", res.Kind, res.Error)
		for _, key := range sortedKeys(res.Metadata) {
			writeMaskedField(&b, key, res.Metadata[key], opts)
		}
		return finalize(b.String(), raw)
	}

	switch data := res.Data.(type) {
	case string:
		b.WriteString(collapseLines(data, opts))
	case map[string]any:
		writeMaskedMap(&b, data, opts)
	default:
		b.WriteString(truncateValue(stringify(data), opts.FieldBudget))
	}
	for _, key := range sortedKeys(res.Metadata) {
		writeMaskedField(&b, key, res.Metadata[key], opts)
	}
	return finalize(b.String(), raw)
}

func writeMaskedMap(b *strings.Builder, data map[string]any, opts MaskOptions) {
	first := true
	for _, key := range sortedKeys(data) {
		if !first {
			b.WriteString("\n")
		}
		first = false

		value := data[key]
		switch key {
		case "stderr":
			// Diagnostics are never compressed.
			fmt.Fprintf(b, "%s: %s", key, stringify(value))
		case "exit_code":
			fmt.Fprintf(b, "%s: %s", key, stringify(value))
		case "stdout", "output", "content", "body":
			fmt.Fprintf(b, "%s: %s", key, collapseLines(stringify(value), opts))
		default:
			fmt.Fprintf(b, "%s: %s", key, truncateValue(stringify(value), opts.FieldBudget))
		}
	}
}

func writeMaskedField(b *strings.Builder, key string, value any, opts MaskOptions) {
	b.WriteString("\n")
	if nested, ok := value.(map[string]any); ok {
		fmt.Fprintf(b, "%s:\n", key)
		writeMaskedMap(b, nested, opts)
		return
	}
	fmt.Fprintf(b, "%s: %s", key, truncateValue(stringify(value), opts.FieldBudget))
}

// collapseLines keeps the head and tail of a long block and replaces the
// middle with a hidden-line marker.
func collapseLines(s string, opts MaskOptions) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= opts.HeadLines+opts.TailLines {
		return s
	}
	hidden := len(lines) - opts.HeadLines - opts.TailLines
	out := make([]string, 0, opts.HeadLines+opts.TailLines+1)
	out = append(out, lines[:opts.HeadLines]...)
	out = append(out, fmt.Sprintf("… <hidden %d lines> …", hidden))
	out = append(out, lines[len(lines)-opts.TailLines:]...)
	return strings.Join(out, "\n")
}

func truncateValue(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	return s[:budget] + fmt.Sprintf("… (+%d bytes)", len(s)-budget)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func renderRaw(res *models.ToolResult) string {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf("%+v", res)
	}
	return string(raw)
}

func finalize(content, raw string) Masked {
	ratio := 1.0
	if len(raw) > 0 {
		ratio = float64(len(content)) / float64(len(raw))
	}
	saved := (len(raw) - len(content)) / 4
	if saved < 0 {
		saved = 0
	}
	return Masked{Content: content, CompressionRatio: ratio, TokensSaved: saved}
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
