package analysis

import "sort"

// Optimization tags attached to results that went through the optimizer.
const (
	OptConceptCap   = "concept-cap"
	OptHeadingCap   = "heading-cap"
	OptDeduplicated = "dedup"
)

// ResultOptimizer is the built-in MemoryOptimizer. It caps unbounded list
// fields on large result sets so oversized analyses don't dominate the cache.
type ResultOptimizer struct {
	// MaxConcepts and MaxHeadings bound the per-document list sizes.
	MaxConcepts int
	MaxHeadings int
}

// NewResultOptimizer creates an optimizer with the given list caps.
func NewResultOptimizer(maxConcepts, maxHeadings int) *ResultOptimizer {
	return &ResultOptimizer{MaxConcepts: maxConcepts, MaxHeadings: maxHeadings}
}

var _ MemoryOptimizer = (*ResultOptimizer)(nil)

// OptimizeDocuments returns a shrunk copy of the document set and the tags
// of optimizations that actually applied. Documents are never mutated in
// place; callers may still hold references to the originals.
func (o *ResultOptimizer) OptimizeDocuments(docs map[string]*DocumentAnalysis) (map[string]*DocumentAnalysis, []string) {
	applied := make(map[string]struct{})
	out := make(map[string]*DocumentAnalysis, len(docs))

	for key, doc := range docs {
		copied := *doc

		if deduped := dedupe(copied.Concepts); len(deduped) < len(copied.Concepts) {
			copied.Concepts = deduped
			applied[OptDeduplicated] = struct{}{}
		}
		if o.MaxConcepts > 0 && len(copied.Concepts) > o.MaxConcepts {
			copied.Concepts = copied.Concepts[:o.MaxConcepts]
			applied[OptConceptCap] = struct{}{}
		}
		if o.MaxHeadings > 0 && len(copied.Headings) > o.MaxHeadings {
			copied.Headings = copied.Headings[:o.MaxHeadings]
			applied[OptHeadingCap] = struct{}{}
		}

		out[key] = &copied
	}

	tags := make([]string, 0, len(applied))
	for tag := range applied {
		tags = append(tags, tag)
	}
	// Stable tag order so identical runs report identical envelopes.
	sort.Strings(tags)
	return out, tags
}

// dedupe removes repeated entries preserving first-seen order. Returns the
// input slice untouched when there is nothing to remove.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == len(values) {
		return values
	}
	return out
}
