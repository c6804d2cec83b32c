// Package agents manages the agent zoo: descriptors, lazy construction,
// and normalization of heterogeneous chunk shapes into the streaming
// taxonomy the terminal renders.
package agents

import (
	"fmt"

	"github.com/cinder-ai/cinder/pkg/models"
)

// Markdowner is implemented by results that know how to render
// themselves; Normalize prefers it over raw stringification.
type Markdowner interface {
	ToMarkdown() string
}

// Normalize converts one raw chunk from any agent implementation into
// zero or more StreamingChunks. Unknown shapes are stringified only when
// truthy; raw mappings are never dumped to the user.
func Normalize(raw any) []models.StreamingChunk {
	switch v := raw.(type) {
	case nil:
		return nil
	case models.StreamingChunk:
		return []models.StreamingChunk{v}
	case *models.StreamingChunk:
		if v == nil {
			return nil
		}
		return []models.StreamingChunk{*v}
	case string:
		if v == "" {
			return nil
		}
		return []models.StreamingChunk{models.TextChunk(v)}
	case []any:
		if len(v) == 0 {
			return nil
		}
		return Normalize(v[0])
	case map[string]any:
		return normalizeMap(v)
	case Markdowner:
		return Normalize(v.ToMarkdown())
	default:
		if !truthy(v) {
			return nil
		}
		return []models.StreamingChunk{models.TextChunk(fmt.Sprintf("%v", v))}
	}
}

func normalizeMap(m map[string]any) []models.StreamingChunk {
	if content, ok := m["content"].(string); ok && content != "" {
		return []models.StreamingChunk{models.TextChunk(content)}
	}

	kind, _ := m["type"].(string)
	data := stringifyField(m["data"])

	switch kind {
	case "thinking":
		if data == "" {
			return nil
		}
		return []models.StreamingChunk{{Kind: models.ChunkThinking, Payload: data}}
	case "status":
		if data == "" {
			return nil
		}
		return []models.StreamingChunk{{Kind: models.ChunkStatus, Payload: data + "\n"}}
	case "command":
		return []models.StreamingChunk{{Kind: models.ChunkCommand, Payload: "\n$ " + data + "\n"}}
	case "executing":
		return []models.StreamingChunk{{Kind: models.ChunkExecuting, Payload: "⚡ Executing: " + data + "\n"}}
	case "error":
		return []models.StreamingChunk{{Kind: models.ChunkError, Payload: "❌ Error: " + data + "\n"}}
	case "result":
		if text := resultText(m); text != "" {
			return []models.StreamingChunk{{Kind: models.ChunkResult, Payload: text}}
		}
		return nil
	}
	return nil
}

// resultText extracts a displayable body from a result mapping, most
// specific key first. Executor triples render command + stdout + stderr.
func resultText(m map[string]any) string {
	payload := m
	if data, ok := m["data"].(map[string]any); ok {
		payload = data
	}

	for _, key := range []string{"formatted_markdown", "markdown", "response", "result"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case Markdowner:
			return v.ToMarkdown()
		}
	}

	if md, ok := payload["data"].(Markdowner); ok {
		return md.ToMarkdown()
	}

	cmd, hasCmd := payload["command"].(string)
	if !hasCmd {
		return ""
	}
	out := "$ " + cmd
	if stdout, _ := payload["stdout"].(string); stdout != "" {
		out += "\n" + stdout
	}
	if stderr, _ := payload["stderr"].(string); stderr != "" {
		out += "\n" + stderr
	}
	return out
}

func stringifyField(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
