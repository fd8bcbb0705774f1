package scenario

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_placeholders(t *testing.T) {
	vars := map[string]string{"identity.email": "a@email.com", "identity.name": "Ana"}
	doc := map[string]any{
		"email":  "{{identity.email}}",
		"greet":  "hi {{ identity.name }}!",
		"nested": []any{map[string]any{"who": "{{identity.name}}"}, 3},
		"plain":  true,
	}

	out, err := expand(doc, vars)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"email":  "a@email.com",
		"greet":  "hi Ana!",
		"nested": []any{map[string]any{"who": "Ana"}, 3},
		"plain":  true,
	}, out)
	assert.Equal(t, "{{identity.email}}", doc["email"], "input must not change")
}

func TestExpand_unknownPlaceholder(t *testing.T) {
	_, err := expand(map[string]any{"a": []any{"{{identity.phone}}"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: [0]: unknown placeholder {{identity.phone}}")
}

func TestExpandMap_nil(t *testing.T) {
	out, err := expandMap(nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestValueAt(t *testing.T) {
	doc := map[string]any{"items": []any{map[string]any{"productId": 1.0}}, "token": "abc"}

	v, ok := valueAt(doc, "items.0.productId")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = valueAt(doc, "token")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	for _, path := range []string{"items.1", "items.x", "token.length", "missing"} {
		_, ok := valueAt(doc, path)
		assert.False(t, ok, path)
	}
}

func TestReport(t *testing.T) {
	rep := NewReport([]Result{
		{Scenario: "register [rest]", Transport: "rest", Isolation: EndToEnd, State: Passed, Duration: time.Millisecond},
		{
			Scenario: "checkout", Transport: "graphql", Isolation: EndToEnd, State: Failed,
			Clause: ClauseErrorMessage, Message: `error "Token inválido", want "x"`, Status: 200,
			Raw: `{"errors":[{"message":"Token inválido"}],"data":null}` + "\n",
		},
	}, time.Second)
	rep.Suite = "smoke"

	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 1, rep.Failed)

	var text bytes.Buffer
	require.NoError(t, rep.WriteText(&text))
	assert.Equal(t, `suite smoke
PASS  rest     end-to-end           register [rest]
FAIL  graphql  end-to-end           checkout
      clause:  error_message
      message: error "Token inválido", want "x"
      raw:     {"errors":[{"message":"Token inválido"}],"data":null}

1 passed, 1 failed
`, text.String())

	var buf bytes.Buffer
	require.NoError(t, rep.WriteJSON(&buf))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "smoke", decoded["suite"])
	assert.Len(t, decoded["results"], 2)
}
