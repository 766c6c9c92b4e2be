package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	headingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	conceptPattern = regexp.MustCompile(`\*\*([^*]+)\*\*|` + "`([^`]+)`")
)

// DocumentAnalyzer is the built-in SemanticAnalyzer. It extracts headings and
// emphasized terms from markdown context files. The extraction is a text
// heuristic, not a parser; downstream consumers treat the output as opaque.
type DocumentAnalyzer struct {
	basePath string
}

// NewDocumentAnalyzer creates an analyzer rooted at basePath, which is used
// to derive the owning domain from each file path.
func NewDocumentAnalyzer(basePath string) *DocumentAnalyzer {
	return &DocumentAnalyzer{basePath: basePath}
}

var _ SemanticAnalyzer = (*DocumentAnalyzer)(nil)

// Analyze reads the file and extracts its structure.
func (a *DocumentAnalyzer) Analyze(ctx context.Context, path string) (*DocumentAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	content := string(data)

	var headings []string
	for _, m := range headingPattern.FindAllStringSubmatch(content, -1) {
		headings = append(headings, strings.TrimSpace(m[1]))
	}

	seen := make(map[string]struct{})
	var concepts []string
	for _, m := range conceptPattern.FindAllStringSubmatch(content, -1) {
		term := m[1]
		if term == "" {
			term = m[2]
		}
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; !dup {
			seen[term] = struct{}{}
			concepts = append(concepts, term)
		}
	}
	sort.Strings(concepts)

	return &DocumentAnalysis{
		Path:       path,
		Domain:     DomainForPath(a.basePath, path),
		Headings:   headings,
		Concepts:   concepts,
		WordCount:  len(strings.Fields(content)),
		AnalyzedAt: time.Now(),
	}, nil
}

// ConceptCorrelator is the built-in CrossDomainAnalyzer. Two domains are
// mapped when their documents share concepts; strength is the Jaccard index
// of the two concept sets.
type ConceptCorrelator struct{}

// NewConceptCorrelator creates the built-in cross-domain analyzer.
func NewConceptCorrelator() *ConceptCorrelator {
	return &ConceptCorrelator{}
}

var _ CrossDomainAnalyzer = (*ConceptCorrelator)(nil)

// Correlate groups analyses by domain and maps each domain pair that shares
// at least one concept.
func (c *ConceptCorrelator) Correlate(ctx context.Context, docs []*DocumentAnalysis) ([]CrossDomainMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	domainConcepts := make(map[string]map[string]struct{})
	for _, doc := range docs {
		set, ok := domainConcepts[doc.Domain]
		if !ok {
			set = make(map[string]struct{})
			domainConcepts[doc.Domain] = set
		}
		for _, concept := range doc.Concepts {
			set[concept] = struct{}{}
		}
	}

	domains := make([]string, 0, len(domainConcepts))
	for d := range domainConcepts {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var mappings []CrossDomainMapping
	for i := 0; i < len(domains); i++ {
		for j := i + 1; j < len(domains); j++ {
			src, dst := domains[i], domains[j]
			shared := intersect(domainConcepts[src], domainConcepts[dst])
			if len(shared) == 0 {
				continue
			}
			union := len(domainConcepts[src]) + len(domainConcepts[dst]) - len(shared)
			mappings = append(mappings, CrossDomainMapping{
				SourceDomain:   src,
				TargetDomain:   dst,
				SharedConcepts: shared,
				Strength:       float64(len(shared)) / float64(union),
			})
		}
	}

	return mappings, nil
}

func intersect(a, b map[string]struct{}) []string {
	var shared []string
	for concept := range a {
		if _, ok := b[concept]; ok {
			shared = append(shared, concept)
		}
	}
	sort.Strings(shared)
	return shared
}

// DomainForPath derives the owning domain from a file path: the first path
// segment below basePath. Paths outside basePath map to "unknown".
func DomainForPath(basePath, path string) string {
	rel, err := filepath.Rel(basePath, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "unknown"
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 || parts[0] == "." {
		return "unknown"
	}
	return parts[0]
}

// DomainsForPaths derives the distinct sorted domain set for a path list.
func DomainsForPaths(basePath string, paths []string) []string {
	set := make(map[string]struct{})
	for _, p := range paths {
		set[DomainForPath(basePath, p)] = struct{}{}
	}
	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
