package agent

import (
	"encoding/json"
	"strings"

	"github.com/loamlabs/loam/pkg/models"
)

// ExtractToolCalls scans assistant text for tool invocations written in
// textual form and converts them to ToolCalls. It is the fallback path for
// models that describe tool use in prose instead of returning structured
// tool-call requests.
//
// Two forms are recognized, in order of appearance:
//
//	{"tool": "read_file", "arguments": {"path": "notes.txt"}}
//	read_file({"path": "notes.txt"})
//
// Matching is done against the complete set of registered tool names, not
// just the enabled subset: a model may reference tools it knows about from
// its instructions even when they are temporarily disabled.
func ExtractToolCalls(text string, names []string, ids *CallIDGenerator) []models.ToolCall {
	if text == "" || len(names) == 0 {
		return nil
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	var calls []models.ToolCall
	for i := 0; i < len(text); i++ {
		c := text[i]

		if c == '{' {
			if call, consumed, ok := parseJSONInvocation(text[i:], known); ok {
				call.ID = ids.Next()
				calls = append(calls, call)
				i += consumed - 1
				continue
			}
		}

		if isIdentByte(c) && (i == 0 || !isIdentByte(text[i-1])) {
			j := i
			for j < len(text) && isIdentByte(text[j]) {
				j++
			}
			name := text[i:j]
			if known[name] {
				k := j
				for k < len(text) && (text[k] == ' ' || text[k] == '\t') {
					k++
				}
				if k < len(text) && text[k] == '(' {
					if args, consumed, ok := parseParenArgs(text[k:]); ok {
						calls = append(calls, models.ToolCall{
							ID:        ids.Next(),
							Name:      name,
							Arguments: args,
						})
						i = k + consumed - 1
						continue
					}
				}
			}
			i = j - 1
		}
	}
	return calls
}

type jsonInvocation struct {
	Tool      string          `json:"tool"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseJSONInvocation tries to decode a JSON object at the start of s as a
// tool invocation. Returns the call, the number of bytes consumed, and
// whether the parse succeeded.
func parseJSONInvocation(s string, known map[string]bool) (models.ToolCall, int, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var inv jsonInvocation
	if err := dec.Decode(&inv); err != nil {
		return models.ToolCall{}, 0, false
	}
	name := inv.Tool
	if name == "" {
		name = inv.Name
	}
	if !known[name] {
		return models.ToolCall{}, 0, false
	}
	args := inv.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return models.ToolCall{Name: name, Arguments: args}, int(dec.InputOffset()), true
}

// parseParenArgs parses a parenthesized argument blob starting at the
// opening paren. The body must be empty or a single JSON object. Returns
// the arguments, bytes consumed including both parens, and success.
func parseParenArgs(s string) (json.RawMessage, int, bool) {
	if len(s) == 0 || s[0] != '(' {
		return nil, 0, false
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
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				body := strings.TrimSpace(s[1:i])
				if body == "" {
					return json.RawMessage(`{}`), i + 1, true
				}
				if strings.HasPrefix(body, "{") && json.Valid([]byte(body)) {
					return json.RawMessage(body), i + 1, true
				}
				return nil, 0, false
			}
		}
	}
	return nil, 0, false
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
