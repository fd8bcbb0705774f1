package scenario

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// expand replaces {{name}} placeholders in every string of doc with vars.
// Maps and slices are copied; doc is not modified. An unknown name is an
// error.
func expand(doc any, vars map[string]string) (any, error) {
	switch v := doc.(type) {
	case string:
		return expandString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			e, err := expand(child, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			e, err := expand(child, vars)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = e
		}
		return out, nil
	default:
		return doc, nil
	}
}

func expandString(s string, vars map[string]string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	var missing string
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("unknown placeholder {{%s}}", missing)
	}
	return out, nil
}

func expandMap(doc map[string]any, vars map[string]string) (map[string]any, error) {
	if doc == nil {
		return nil, nil
	}
	e, err := expand(doc, vars)
	if err != nil {
		return nil, err
	}
	return e.(map[string]any), nil
}

// Render returns a copy of a fixture document with {{name}} placeholders
// replaced from vars, such as an identity's Vars.
func Render(doc map[string]any, vars map[string]string) (map[string]any, error) {
	return expandMap(doc, vars)
}
