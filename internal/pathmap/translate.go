// Package pathmap rewrites filesystem paths between the views of download
// managers, the library host, and media players.
package pathmap

import (
	"sort"
	"strings"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Normalize canonicalises a path for prefix matching: forward slashes only, a
// forced leading slash, no trailing slash.
func Normalize(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// Translate applies the first matching mapping, longest source prefix first.
// Paths with no matching prefix pass through unchanged; an empty mapping set
// is the identity on normalised paths.
func Translate(path string, mappings []*models.PathMapping) string {
	p := Normalize(path)
	if len(mappings) == 0 {
		return p
	}

	ordered := make([]*models.PathMapping, len(mappings))
	copy(ordered, mappings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(Normalize(ordered[i].SourcePrefix)) > len(Normalize(ordered[j].SourcePrefix))
	})

	for _, m := range ordered {
		src := Normalize(m.SourcePrefix)
		if p == src {
			return Normalize(m.TargetPrefix)
		}
		if strings.HasPrefix(p, src+"/") {
			return Normalize(m.TargetPrefix) + p[len(src):]
		}
	}
	return p
}
