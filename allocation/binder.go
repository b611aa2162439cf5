/*
binder.go - Binding operations

PURPOSE:
  Every operation that creates, changes or removes a consumer's bindings.
  Operations mutate the Consumer values they are handed (only BindingCode)
  and return a BindingResult with one Outcome per consumer touched and one
  ChangeRecord per successful mutation.

SHARE HEADROOM:
  Bulk operations never push a consumer above a total share of 1.0:

    granted = min(requested, 1.0 - currentTotal)

  A grant at or below 0.001 is skipped as "insufficient remaining share".
  Single binds do NOT check headroom. Forced binds, and binds that update an
  existing binding in place, may leave a total above 1.0; CheckShareTotals
  reports those.

FAILURE ISOLATION:
  Bulk loops run each consumer in its own guard. A failure on one consumer
  is recorded as a Failed outcome and the loop continues.

SEE ALSO:
  - codec.go: encoding the mutated binding lists
  - result.go: Outcome and BindingResult
*/
package allocation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// minGrantableShare is the smallest share a bulk operation will grant.
	minGrantableShare = 0.001

	// DefaultAutoBindShare is the share requested by auto-binding.
	DefaultAutoBindShare = 1.0
)

// NewChangeID returns a new lexicographically sortable change ID.
func NewChangeID() ChangeID {
	return ChangeID(ulid.Make().String())
}

// Binder runs binding operations. NewID and Now are injectable so tests can
// produce deterministic change records.
type Binder struct {
	NewID func() ChangeID
	Now   func() time.Time
}

func NewBinder() *Binder {
	return &Binder{NewID: NewChangeID, Now: time.Now}
}

func (b *Binder) change(kind ChangeKind, c *Consumer, oldCode, description string) ChangeRecord {
	return ChangeRecord{
		ID:          b.NewID(),
		Kind:        kind,
		TargetID:    c.ID,
		Origin:      c.Origin,
		OldValue:    oldCode,
		NewValue:    c.BindingCode,
		Description: description,
		CreatedAt:   b.Now(),
	}
}

// guard runs fn for one consumer of a bulk loop. A panic from malformed
// state is converted into a Failed outcome.
func guard(r *BindingResult, c *Consumer, fn func() Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.record(failed(c, fmt.Errorf("unexpected failure: %v", p)))
		}
	}()
	r.record(fn())
}

// =============================================================================
// BIND
// =============================================================================

// BindSingle binds one consumer to one pipeline with the given share.
// An existing binding to the same pipeline is updated in place; otherwise a
// new binding is appended. Without force, a consumer with no expenses is
// skipped. No headroom check is applied in either mode.
func (b *Binder) BindSingle(c *Consumer, p Pipeline, grsName string, share float64, force bool) *BindingResult {
	kind := ChangeSingleBind
	if force {
		kind = ChangeManualBind
	}
	res := newResult(kind)

	if c == nil {
		res.record(failed(nil, ErrConsumerNotFound))
		return res
	}
	if !force && !HasExpenses(*c) {
		res.record(skipped(c, ReasonNoExpenses))
		return res
	}

	nb := Binding{PipelineID: strings.TrimSpace(p.PipelineID), Share: share, GRSName: grsName}
	if err := ValidateBinding(nb); err != nil {
		res.record(failed(c, err))
		return res
	}

	bindings := Decode(c.BindingCode)
	action := "added"
	if i := IndexOf(bindings, nb.PipelineID); i >= 0 {
		bindings[i].PipelineID = nb.PipelineID
		bindings[i].Share = share
		bindings[i].GRSName = grsName
		action = "updated"
	} else {
		bindings = append(bindings, nb)
	}

	old := c.BindingCode
	c.BindingCode = Encode(bindings)
	desc := fmt.Sprintf("bind %s -> PRG %s (share %.3f, %s)", c.Name, nb.PipelineID, share, action)
	res.record(success(c, b.change(kind, c, old, desc)))
	return res
}

// bindWithHeadroom adds a binding to pipelineID, clamped to the consumer's
// remaining headroom. It is the shared step of all bulk bind operations.
func (b *Binder) bindWithHeadroom(kind ChangeKind, c *Consumer, pipelineID, grsName string, share float64) Outcome {
	bindings := Decode(c.BindingCode)
	if IndexOf(bindings, pipelineID) >= 0 {
		return alreadyBound(c)
	}
	if !HasExpenses(*c) {
		return skipped(c, ReasonNoExpenses)
	}

	granted := math.Min(share, 1.0-TotalShare(bindings))
	if granted <= minGrantableShare {
		return skipped(c, ReasonNoHeadroom)
	}

	nb := Binding{PipelineID: pipelineID, Share: granted, GRSName: grsName}
	if err := ValidateBinding(nb); err != nil {
		return failed(c, err)
	}

	old := c.BindingCode
	c.BindingCode = Encode(append(bindings, nb))
	desc := fmt.Sprintf("%s: %s -> PRG %s (share %.3f)", kind, c.Name, pipelineID, granted)
	return success(c, b.change(kind, c, old, desc))
}

// BindPipelineToSettlement binds every consumer in the anchor's settlement
// to the pipeline. Consumers are mutated in place within all.
func (b *Binder) BindPipelineToSettlement(p Pipeline, anchor Consumer, all []Consumer, grsName string, share float64) *BindingResult {
	res := newResult(ChangeSettlementBind)

	pipelineID := strings.TrimSpace(p.PipelineID)
	if err := ValidateBinding(Binding{PipelineID: pipelineID, Share: share, GRSName: grsName}); err != nil {
		res.record(failed(nil, err))
		return res
	}

	loc := anchor.Location()
	for i := range all {
		c := &all[i]
		if !loc.Matches(c.Location()) {
			continue
		}
		guard(res, c, func() Outcome {
			return b.bindWithHeadroom(ChangeSettlementBind, c, pipelineID, grsName, share)
		})
	}
	return res
}

// AutoBindAll binds, for every pipeline, each unbound consumer with expenses
// in the pipeline's settlement. The GRS name comes from the pipeline's GRS
// reference. Consumers bound by an earlier pipeline in the same run are no
// longer unbound and are not touched again.
func (b *Binder) AutoBindAll(pipelines []Pipeline, consumers []Consumer, grs []GRS, share float64) *BindingResult {
	res := newResult(ChangeAutoBind)

	for _, p := range pipelines {
		pipelineID := strings.TrimSpace(p.PipelineID)
		grsName := GRSNameByID(grs, p.GRSID)
		if err := ValidateBinding(Binding{PipelineID: pipelineID, Share: share, GRSName: grsName}); err != nil {
			res.record(failed(nil, err))
			continue
		}

		loc := p.Location()
		for i := range consumers {
			c := &consumers[i]
			if !loc.Matches(c.Location()) {
				continue
			}
			if len(Decode(c.BindingCode)) > 0 || !HasExpenses(*c) {
				continue
			}
			guard(res, c, func() Outcome {
				return b.bindWithHeadroom(ChangeAutoBind, c, pipelineID, grsName, share)
			})
		}
	}
	return res
}

// BindSearchMatches binds the consumers at the given indices (typically from
// SmartSearchOrganizations) to the pipeline, with the same clamping as a
// settlement bind.
func (b *Binder) BindSearchMatches(p Pipeline, consumers []Consumer, indices []int, grsName string, share float64) *BindingResult {
	res := newResult(ChangeSmartSearch)

	pipelineID := strings.TrimSpace(p.PipelineID)
	if err := ValidateBinding(Binding{PipelineID: pipelineID, Share: share, GRSName: grsName}); err != nil {
		res.record(failed(nil, err))
		return res
	}

	for _, idx := range indices {
		if idx < 0 || idx >= len(consumers) {
			res.record(failed(nil, fmt.Errorf("%w: index %d", ErrConsumerNotFound, idx)))
			continue
		}
		c := &consumers[idx]
		guard(res, c, func() Outcome {
			return b.bindWithHeadroom(ChangeSmartSearch, c, pipelineID, grsName, share)
		})
	}
	return res
}

// =============================================================================
// UNBIND
// =============================================================================

func (b *Binder) unbind(c *Consumer) Outcome {
	if len(Decode(c.BindingCode)) == 0 {
		return skipped(c, ReasonNoBindings)
	}
	old := c.BindingCode
	c.BindingCode = ""
	return success(c, b.change(ChangeUnbind, c, old, fmt.Sprintf("unbind %s", c.Name)))
}

// UnbindSingle clears all bindings of one consumer. Unbinding an unbound
// consumer is a skip, so the operation is idempotent.
func (b *Binder) UnbindSingle(c *Consumer) *BindingResult {
	res := newResult(ChangeUnbind)
	if c == nil {
		res.record(failed(nil, ErrConsumerNotFound))
		return res
	}
	res.record(b.unbind(c))
	return res
}

// UnbindSettlement clears the bindings of every consumer in the anchor's settlement.
func (b *Binder) UnbindSettlement(anchor Consumer, all []Consumer) *BindingResult {
	res := newResult(ChangeUnbind)
	loc := anchor.Location()
	for i := range all {
		c := &all[i]
		if !loc.Matches(c.Location()) {
			continue
		}
		guard(res, c, func() Outcome { return b.unbind(c) })
	}
	return res
}

// RemovePipelineBinding removes the binding to one pipeline and keeps the rest.
func (b *Binder) RemovePipelineBinding(c *Consumer, pipelineID string) *BindingResult {
	res := newResult(ChangeRemovePipeline)
	if c == nil {
		res.record(failed(nil, ErrConsumerNotFound))
		return res
	}

	pipelineID = strings.TrimSpace(pipelineID)
	bindings := Decode(c.BindingCode)
	i := IndexOf(bindings, pipelineID)
	if i < 0 {
		res.record(skipped(c, ReasonNotBound))
		return res
	}

	old := c.BindingCode
	c.BindingCode = Encode(append(bindings[:i], bindings[i+1:]...))
	desc := fmt.Sprintf("remove PRG %s from %s", pipelineID, c.Name)
	res.record(success(c, b.change(ChangeRemovePipeline, c, old, desc)))
	return res
}

// =============================================================================
// EDIT
// =============================================================================

// EditShares replaces a consumer's binding list wholesale. Share totals are
// not checked; only bindings that would corrupt the encoding are rejected.
func (b *Binder) EditShares(c *Consumer, bindings []Binding) *BindingResult {
	res := newResult(ChangeEditShares)
	if c == nil {
		res.record(failed(nil, ErrConsumerNotFound))
		return res
	}

	cleaned := make([]Binding, len(bindings))
	for i, nb := range bindings {
		nb.PipelineID = strings.TrimSpace(nb.PipelineID)
		nb.GRSName = strings.TrimSpace(nb.GRSName)
		cleaned[i] = nb
	}
	if err := ValidateBindings(cleaned); err != nil {
		res.record(failed(c, err))
		return res
	}

	old := c.BindingCode
	c.BindingCode = Encode(cleaned)
	desc := fmt.Sprintf("edit shares of %s (%d bindings, total %.3f)", c.Name, len(cleaned), TotalShare(cleaned))
	res.record(success(c, b.change(ChangeEditShares, c, old, desc)))
	return res
}
