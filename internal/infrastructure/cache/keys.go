package cache

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// SemanticKey derives the cache key for a single document analysis from the
// file path and its content. The same path with changed content yields a
// different key.
func SemanticKey(path string, content []byte) string {
	h := xxhash.New()
	_, _ = h.WriteString(path)
	_, _ = h.Write([]byte{0}) // Separator
	_, _ = h.Write(content)
	return fmt.Sprintf("semantic:%016x", h.Sum64())
}

// CrossDomainKey derives the cache key for a cross-domain analysis from the
// participating file paths. Paths are sorted so the key is independent of
// input order.
func CrossDomainKey(paths []string) string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	h := xxhash.New()
	for _, p := range sorted {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("crossdomain:%016x", h.Sum64())
}
