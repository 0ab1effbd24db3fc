package notifications

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRx = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render substitutes {{a.b.c}} placeholders with values looked up by dotted
// path in payload. Placeholders whose path does not resolve stay verbatim, so
// a typo in a template shows up in the delivered message instead of erroring.
func Render(template string, payload map[string]any) string {
	return placeholderRx.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholderRx.FindStringSubmatch(match)[1]
		val, ok := lookup(payload, strings.Split(path, "."))
		if !ok {
			return match
		}
		return fmt.Sprint(val)
	})
}

func lookup(payload map[string]any, path []string) (any, bool) {
	var cur any = payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}
