package agent

import (
	"strings"

	"github.com/cinder-ai/cinder/internal/parser"
)

// markerFilter hides tool-call markers from the user-visible stream while
// letting surrounding prose flow through unbuffered. Markers can split
// across chunk boundaries, so text from a potential marker start is held
// back until it either completes (and is dropped) or proves to be
// ordinary prose.
type markerFilter struct {
	pending string
}

// Feed consumes one chunk and returns the text safe to display now.
func (f *markerFilter) Feed(s string) string {
	f.pending += s
	var out strings.Builder

	for {
		start := strings.IndexByte(f.pending, '[')
		if start < 0 {
			out.WriteString(f.pending)
			f.pending = ""
			break
		}

		out.WriteString(f.pending[:start])
		rest := f.pending[start:]

		if !strings.HasPrefix(rest, parser.MarkerPrefix) {
			if isMarkerPrefix(rest) {
				// Might still grow into a marker; hold it.
				f.pending = rest
				break
			}
			out.WriteByte('[')
			f.pending = rest[1:]
			continue
		}

		end, complete := markerEnd(rest)
		if !complete {
			f.pending = rest
			break
		}
		if end < 0 {
			// Malformed marker start; surface the bracket and move on.
			out.WriteByte('[')
			f.pending = rest[1:]
			continue
		}
		f.pending = rest[end:]
	}

	return out.String()
}

// Flush drops any complete markers still buffered and returns the rest.
func (f *markerFilter) Flush() string {
	rest := f.pending
	f.pending = ""

	var out strings.Builder
	for {
		start := strings.Index(rest, parser.MarkerPrefix)
		if start < 0 {
			out.WriteString(rest)
			return out.String()
		}
		out.WriteString(rest[:start])
		end, complete := markerEnd(rest[start:])
		if !complete || end < 0 {
			out.WriteString(rest[start:])
			return out.String()
		}
		rest = rest[start+end:]
	}
}

// isMarkerPrefix reports whether s could still become a marker once more
// bytes arrive.
func isMarkerPrefix(s string) bool {
	if len(s) >= len(parser.MarkerPrefix) {
		return strings.HasPrefix(s, parser.MarkerPrefix)
	}
	return strings.HasPrefix(parser.MarkerPrefix, s)
}

// markerEnd scans a string starting with the marker prefix. It returns
// the index just past the closing bracket and whether enough bytes have
// arrived to decide. A negative index flags a malformed marker.
func markerEnd(s string) (int, bool) {
	i := len(parser.MarkerPrefix)

	// Tool name up to the separating colon.
	for i < len(s) && s[i] != ':' {
		if !isNameByte(s[i]) {
			return -1, true
		}
		i++
	}
	if i >= len(s) {
		return 0, false
	}
	i++ // consume ':'

	if i >= len(s) {
		return 0, false
	}
	if s[i] != '{' {
		return -1, true
	}

	depth := 0
	inString := false
	escaped := false
	for ; i < len(s); i++ {
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
				if i+1 >= len(s) {
					return 0, false
				}
				if s[i+1] != ']' {
					return -1, true
				}
				return i + 2, true
			}
		}
	}
	return 0, false
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
