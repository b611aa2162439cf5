/*
search.go - Consumer and pipeline lookups

PURPOSE:
  Read-only queries over the loaded records: smart search of organizations
  by location and name pattern, location lookups, pipeline lookup by ID,
  and the distinct districts and settlements that populate selection lists.

  Location comparisons are trimmed and case-insensitive. Distinct value
  lists keep the trimmed original spelling and are sorted with Russian
  collation so that Cyrillic names come out in dictionary order.

SEE ALSO:
  - binder.go: BindSearchMatches consumes SmartSearchOrganizations results
*/
package allocation

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SearchMatch is one matching consumer. Index is its position in the slice
// that was searched, so callers can mutate the original.
type SearchMatch struct {
	Index       int
	Consumer    Consumer
	HasExpenses bool
}

type SearchResult struct {
	Matches              []SearchMatch
	TotalCount           int
	WithExpensesCount    int
	WithoutExpensesCount int
	Details              []string
}

// Indices returns the slice positions of all matches.
func (r *SearchResult) Indices() []int {
	out := make([]int, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Index
	}
	return out
}

func (r *SearchResult) add(i int, c Consumer) {
	has := HasExpenses(c)
	r.Matches = append(r.Matches, SearchMatch{Index: i, Consumer: c, HasExpenses: has})
	r.TotalCount++
	if has {
		r.WithExpensesCount++
	} else {
		r.WithoutExpensesCount++
	}
}

// =============================================================================
// CONSUMER SEARCH
// =============================================================================

type OrganizationQuery struct {
	District        string
	Settlement      string
	NamePattern     string // case-insensitive substring; empty matches all
	RequireExpenses bool
}

// SmartSearchOrganizations finds organizations in a location whose name
// contains the pattern.
func SmartSearchOrganizations(consumers []Consumer, q OrganizationQuery) *SearchResult {
	res := &SearchResult{}
	loc := Location{District: q.District, Settlement: q.Settlement}
	pattern := cases.Fold().String(q.NamePattern)

	for i, c := range consumers {
		if !c.IsOrganization() || !loc.Matches(c.Location()) {
			continue
		}
		if pattern != "" && !strings.Contains(cases.Fold().String(c.Name), pattern) {
			continue
		}
		if q.RequireExpenses && !HasExpenses(c) {
			continue
		}
		res.add(i, c)
	}

	res.Details = append(res.Details, fmt.Sprintf(
		"found %d organizations in %s, %s (%d with expenses)",
		res.TotalCount, q.District, q.Settlement, res.WithExpensesCount))
	return res
}

// FindConsumersByLocation returns consumers in a location. An empty kind
// matches both population and organizations.
func FindConsumersByLocation(consumers []Consumer, district, settlement string, kind ConsumerKind) *SearchResult {
	res := &SearchResult{}
	loc := Location{District: district, Settlement: settlement}
	for i, c := range consumers {
		if kind != "" && c.Kind != kind {
			continue
		}
		if loc.Matches(c.Location()) {
			res.add(i, c)
		}
	}
	return res
}

// ConsumerFilter selects consumers by attributes. Nil pointers mean "any".
type ConsumerFilter struct {
	Kind        ConsumerKind
	District    string
	Settlement  string
	HasBindings *bool
	HasExpenses *bool
}

// FilterConsumers returns the consumers matching every set criterion.
func FilterConsumers(consumers []Consumer, f ConsumerFilter) *SearchResult {
	res := &SearchResult{}
	for i, c := range consumers {
		if f.Kind != "" && c.Kind != f.Kind {
			continue
		}
		if f.District != "" && !SameKey(f.District, c.District) {
			continue
		}
		if f.Settlement != "" && !SameKey(f.Settlement, c.Settlement) {
			continue
		}
		if f.HasBindings != nil && (len(Decode(c.BindingCode)) > 0) != *f.HasBindings {
			continue
		}
		if f.HasExpenses != nil && HasExpenses(c) != *f.HasExpenses {
			continue
		}
		res.add(i, c)
	}
	return res
}

// FindConsumerByID returns the position of the consumer with the given ID.
func FindConsumerByID(consumers []Consumer, id string) (int, bool) {
	for i, c := range consumers {
		if c.ID == id {
			return i, true
		}
	}
	return -1, false
}

// =============================================================================
// PIPELINE SEARCH
// =============================================================================

func FindPipelinesByLocation(pipelines []Pipeline, district, settlement string) []Pipeline {
	loc := Location{District: district, Settlement: settlement}
	var out []Pipeline
	for _, p := range pipelines {
		if loc.Matches(p.Location()) {
			out = append(out, p)
		}
	}
	return out
}

// FindPipelineByID looks up a pipeline by ID, trimmed and case-insensitive.
func FindPipelineByID(pipelines []Pipeline, id string) (Pipeline, bool) {
	for _, p := range pipelines {
		if SameKey(p.PipelineID, id) {
			return p, true
		}
	}
	return Pipeline{}, false
}

// PipelineIDsAtLocation returns the distinct pipeline IDs in a location, sorted.
func PipelineIDsAtLocation(pipelines []Pipeline, district, settlement string) []string {
	set := make(map[string]struct{})
	for _, p := range FindPipelinesByLocation(pipelines, district, settlement) {
		if id := strings.TrimSpace(p.PipelineID); id != "" {
			set[id] = struct{}{}
		}
	}
	return sortedValues(set)
}

// =============================================================================
// DISTINCT VALUES
// =============================================================================

// UniqueDistricts returns the distinct non-empty districts, sorted.
func UniqueDistricts[T Located](records []T) []string {
	set := make(map[string]struct{})
	for _, r := range records {
		if d := strings.TrimSpace(r.Location().District); d != "" {
			set[d] = struct{}{}
		}
	}
	return sortedValues(set)
}

// SettlementsInDistrict returns the distinct non-empty settlements of a district, sorted.
func SettlementsInDistrict[T Located](records []T, district string) []string {
	set := make(map[string]struct{})
	for _, r := range records {
		loc := r.Location()
		if !SameKey(loc.District, district) {
			continue
		}
		if s := strings.TrimSpace(loc.Settlement); s != "" {
			set[s] = struct{}{}
		}
	}
	return sortedValues(set)
}

func sortedValues(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return SortValues(out)
}

// SortValues sorts location names in place by Russian collation and returns them.
func SortValues(values []string) []string {
	collate.New(language.Russian).SortStrings(values)
	return values
}
