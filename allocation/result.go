package allocation

import "fmt"

// =============================================================================
// OUTCOMES - Business results of a per-consumer operation
// =============================================================================

type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeAlreadyBound OutcomeKind = "already_bound"
	OutcomeSkipped      OutcomeKind = "skipped"
	OutcomeFailed       OutcomeKind = "failed"
)

// Skip reasons.
const (
	ReasonNoExpenses = "no expenses"
	ReasonNoHeadroom = "insufficient remaining share"
	ReasonNoBindings = "no bindings"
	ReasonNotBound   = "not bound to this pipeline"
)

// Outcome is the result of one operation on one consumer.
type Outcome struct {
	ConsumerID   string
	ConsumerName string
	Kind         OutcomeKind
	Reason       string        // set for OutcomeSkipped
	Err          error         // set for OutcomeFailed
	Change       *ChangeRecord // set for OutcomeSuccess
}

func success(c *Consumer, change ChangeRecord) Outcome {
	return Outcome{ConsumerID: c.ID, ConsumerName: c.Name, Kind: OutcomeSuccess, Change: &change}
}

func skipped(c *Consumer, reason string) Outcome {
	return Outcome{ConsumerID: c.ID, ConsumerName: c.Name, Kind: OutcomeSkipped, Reason: reason}
}

func alreadyBound(c *Consumer) Outcome {
	return Outcome{ConsumerID: c.ID, ConsumerName: c.Name, Kind: OutcomeAlreadyBound}
}

func failed(c *Consumer, err error) Outcome {
	if c == nil {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
	return Outcome{ConsumerID: c.ID, ConsumerName: c.Name, Kind: OutcomeFailed, Err: err}
}

// =============================================================================
// BINDING RESULT - Aggregate over one operation
// =============================================================================

// BindingResult aggregates per-consumer outcomes. It carries enough structure
// for a presentation layer to summarize without knowing the engine.
type BindingResult struct {
	Operation ChangeKind

	SuccessCount      int
	SkippedCount      int
	AlreadyBoundCount int

	Outcomes []Outcome
	Changes  []ChangeRecord
	Errors   []string
	Details  []string
}

func newResult(op ChangeKind) *BindingResult {
	return &BindingResult{Operation: op}
}

func (r *BindingResult) record(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Kind {
	case OutcomeSuccess:
		r.SuccessCount++
		r.Changes = append(r.Changes, *o.Change)
		r.Details = append(r.Details, o.Change.Description)
	case OutcomeSkipped:
		r.SkippedCount++
		r.Details = append(r.Details, fmt.Sprintf("skipped %s: %s", displayName(o), o.Reason))
	case OutcomeAlreadyBound:
		r.AlreadyBoundCount++
	case OutcomeFailed:
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", displayName(o), o.Err))
	}
}

// Merge folds another result into r, keeping r's operation tag.
func (r *BindingResult) Merge(other *BindingResult) {
	if other == nil {
		return
	}
	r.SuccessCount += other.SuccessCount
	r.SkippedCount += other.SkippedCount
	r.AlreadyBoundCount += other.AlreadyBoundCount
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	r.Changes = append(r.Changes, other.Changes...)
	r.Errors = append(r.Errors, other.Errors...)
	r.Details = append(r.Details, other.Details...)
}

// FailedCount is the number of consumers that raised an error.
func (r *BindingResult) FailedCount() int { return len(r.Errors) }

// Single returns the only outcome of a single-consumer operation.
func (r *BindingResult) Single() Outcome {
	if len(r.Outcomes) == 0 {
		return Outcome{}
	}
	return r.Outcomes[0]
}

func displayName(o Outcome) string {
	switch {
	case o.ConsumerName != "":
		return o.ConsumerName
	case o.ConsumerID != "":
		return o.ConsumerID
	}
	return "unknown"
}
