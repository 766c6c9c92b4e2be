// Package analysis defines the collaborators whose results flow through the
// performance layer: the semantic analyzer, the cross-domain analyzer and the
// memory optimizer. The orchestrator treats all three as opaque producers;
// the built-in implementations are deliberately thin.
package analysis

import (
	"context"
	"time"
)

// DocumentAnalysis is the per-document result produced by a SemanticAnalyzer.
type DocumentAnalysis struct {
	Path       string    `json:"path"`
	Domain     string    `json:"domain"`
	Headings   []string  `json:"headings"`
	Concepts   []string  `json:"concepts"`
	WordCount  int       `json:"wordCount"`
	AnalyzedAt time.Time `json:"analyzedAt"`
}

// CrossDomainMapping links two domains through the concepts they share.
type CrossDomainMapping struct {
	SourceDomain   string   `json:"sourceDomain"`
	TargetDomain   string   `json:"targetDomain"`
	SharedConcepts []string `json:"sharedConcepts"`
	Strength       float64  `json:"strength"`
}

// CrossDomainResult is the aggregate output of a cross-domain analysis run.
type CrossDomainResult struct {
	Paths      []string             `json:"paths"`
	Mappings   []CrossDomainMapping `json:"mappings"`
	ComputedAt time.Time            `json:"computedAt"`
}

// SemanticAnalyzer produces a DocumentAnalysis for a single file.
type SemanticAnalyzer interface {
	Analyze(ctx context.Context, path string) (*DocumentAnalysis, error)
}

// CrossDomainAnalyzer correlates per-document analyses into domain mappings.
type CrossDomainAnalyzer interface {
	Correlate(ctx context.Context, docs []*DocumentAnalysis) ([]CrossDomainMapping, error)
}

// MemoryOptimizer shrinks large result sets before they are cached or
// returned. The transform reduces size only; it never changes semantics.
// The returned tags name the optimizations that were applied.
type MemoryOptimizer interface {
	OptimizeDocuments(docs map[string]*DocumentAnalysis) (map[string]*DocumentAnalysis, []string)
}
