/*
validation.go - Binding eligibility and data consistency checks

PURPOSE:
  Answers the questions the operator asks before and after binding:
  which pipelines have no consumers in their settlement, which consumers
  are unbound or have no expenses, whether a consumer and a pipeline are
  in the same place, and whether an organization's GRS reference agrees
  with the GRS name embedded in its binding code.

  All checks are read-only scans over the slices they are given. The data
  scale is hundreds to low thousands of rows, so plain nested scans are fine.

SEE ALSO:
  - search.go: location lookups used to pick consumers for bulk binding
*/
package allocation

import (
	"fmt"
	"strings"
)

// FindUnboundPipelines returns pipelines whose (district, settlement) is not
// shared by any consumer.
func FindUnboundPipelines(pipelines []Pipeline, consumers []Consumer) []Pipeline {
	var unbound []Pipeline
	for _, p := range pipelines {
		loc := p.Location()
		found := false
		for _, c := range consumers {
			if loc.Matches(c.Location()) {
				found = true
				break
			}
		}
		if !found {
			unbound = append(unbound, p)
		}
	}
	return unbound
}

// FindUnboundConsumers returns consumers whose binding code decodes to nothing.
func FindUnboundConsumers(consumers []Consumer) []Consumer {
	var unbound []Consumer
	for _, c := range consumers {
		if len(Decode(c.BindingCode)) == 0 {
			unbound = append(unbound, c)
		}
	}
	return unbound
}

func FindConsumersWithoutExpenses(consumers []Consumer) []Consumer {
	var out []Consumer
	for _, c := range consumers {
		if !HasExpenses(c) {
			out = append(out, c)
		}
	}
	return out
}

// ValidateLocationMatch reports whether a consumer may be bound to a pipeline.
// On mismatch the reason names the field that differs.
func ValidateLocationMatch(c Consumer, p Pipeline) (bool, string) {
	if !SameKey(c.District, p.District) {
		return false, fmt.Sprintf("district mismatch: %s != %s", c.District, p.District)
	}
	if !SameKey(c.Settlement, p.Settlement) {
		return false, fmt.Sprintf("settlement mismatch: %s != %s", c.Settlement, p.Settlement)
	}
	return true, ""
}

// =============================================================================
// GRS CONSISTENCY
// =============================================================================

type GRSIssue string

const (
	// IssueEmptyGRSReference: the organization has bindings but no GRS reference.
	IssueEmptyGRSReference GRSIssue = "empty_grs_id"
	// IssueGRSMismatch: the GRS name in the first binding differs from the referenced GRS.
	IssueGRSMismatch GRSIssue = "grs_mismatch"
)

type GRSMismatch struct {
	Consumer Consumer
	Issue    GRSIssue
	// GRSByReference is the name resolved from the direct reference (empty for IssueEmptyGRSReference).
	GRSByReference string
	// GRSInCode is the GRS name embedded in the first binding.
	GRSInCode string
}

// FindGRSMismatches cross-checks organizations' two sources of GRS truth.
// Population consumers and unbound organizations are not checked.
func FindGRSMismatches(consumers []Consumer, grs []GRS) []GRSMismatch {
	byID := make(map[string]GRS, len(grs))
	for _, g := range grs {
		byID[strings.TrimSpace(g.ID)] = g
	}

	var mismatches []GRSMismatch
	for _, c := range consumers {
		if !c.IsOrganization() {
			continue
		}
		bindings := Decode(c.BindingCode)
		if len(bindings) == 0 {
			continue
		}

		inCode := bindings[0].GRSName
		ref := strings.TrimSpace(c.GRSReferenceID)
		if ref == "" {
			mismatches = append(mismatches, GRSMismatch{
				Consumer:  c,
				Issue:     IssueEmptyGRSReference,
				GRSInCode: inCode,
			})
			continue
		}

		byRef := ref
		if g, ok := byID[ref]; ok {
			byRef = g.Name
		}
		if inCode != byRef {
			mismatches = append(mismatches, GRSMismatch{
				Consumer:       c,
				Issue:          IssueGRSMismatch,
				GRSByReference: byRef,
				GRSInCode:      inCode,
			})
		}
	}
	return mismatches
}

// GRSNameByID resolves a GRS name, falling back to "ГРС <id>" for unknown IDs.
func GRSNameByID(grs []GRS, id string) string {
	id = strings.TrimSpace(id)
	for _, g := range grs {
		if strings.TrimSpace(g.ID) == id && g.Name != "" {
			return g.Name
		}
	}
	return "ГРС " + id
}

// =============================================================================
// SHARE TOTALS
// =============================================================================

const (
	shareOverLimit  = 1.0001
	shareUnderLimit = 0.9999
)

type ShareProblemKind string

const (
	ShareOverAllocated  ShareProblemKind = "over_allocated"
	ShareUnderAllocated ShareProblemKind = "under_allocated"
)

type ShareProblem struct {
	Consumer   Consumer
	Kind       ShareProblemKind
	TotalShare float64
}

// CheckShareTotals flags bound consumers whose shares do not add up to 1.
// Forced binds and share edits may leave totals out of range; this is the warning.
func CheckShareTotals(consumers []Consumer) []ShareProblem {
	var problems []ShareProblem
	for _, c := range consumers {
		bindings := Decode(c.BindingCode)
		if len(bindings) == 0 {
			continue
		}
		total := TotalShare(bindings)
		switch {
		case total > shareOverLimit:
			problems = append(problems, ShareProblem{Consumer: c, Kind: ShareOverAllocated, TotalShare: total})
		case total < shareUnderLimit:
			problems = append(problems, ShareProblem{Consumer: c, Kind: ShareUnderAllocated, TotalShare: total})
		}
	}
	return problems
}
