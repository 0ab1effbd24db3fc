package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSubstitutesNestedPaths(t *testing.T) {
	payload := map[string]any{
		"item": map[string]any{
			"title": "The Matrix",
			"year":  1999,
		},
		"assets": 5,
	}

	out := Render("Published {{item.title}} ({{item.year}}) with {{assets}} assets", payload)
	assert.Equal(t, "Published The Matrix (1999) with 5 assets", out)
}

func TestRenderLeavesMissingPathsVerbatim(t *testing.T) {
	payload := map[string]any{"item": map[string]any{"title": "x"}}

	assert.Equal(t, "{{item.missing}}", Render("{{item.missing}}", payload))
	assert.Equal(t, "{{nope}}", Render("{{nope}}", payload))
	// A path through a non-map value cannot resolve.
	assert.Equal(t, "{{item.title.deeper}}", Render("{{item.title.deeper}}", payload))
}

func TestRenderToleratesWhitespaceAndNil(t *testing.T) {
	payload := map[string]any{"a": "v", "b": nil}

	assert.Equal(t, "v", Render("{{ a }}", payload))
	assert.Equal(t, "{{b}}", Render("{{b}}", payload), "explicit nil reads as missing")
	assert.Equal(t, "plain text", Render("plain text", payload))
}
