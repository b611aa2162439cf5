/*
codec.go - Binding text encoding

PURPOSE:
  A consumer's bindings are stored in a single workbook cell as text:

    P1|0,5|ГРС Север;P2|0,3|ГРС Юг

  Entries are separated by ';'. Each entry is pipelineID|share|grsName.
  Only the first two '|' are structural: anything after the second '|'
  is the GRS name verbatim, so GRS names may contain '|'.

PARSING RULES:
  - Blank input decodes to no bindings
  - Blank entries are skipped
  - Entries with fewer than three fields are skipped
  - Shares accept both '.' and ',' as the decimal point
  - Entries whose share does not parse are skipped
  Decoding never fails: legacy cells are full of hand-edited data.

FORMATTING RULES:
  - A share within 1e-4 of 1.0 is written as "1"
  - Any other share is written with ',' as the decimal point

SEE ALSO:
  - binder.go: the only writer of binding codes
*/
package allocation

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	BindingSeparator = ";"
	FieldSeparator   = "|"

	// shareOneTolerance is the distance from 1.0 at which a share is written as "1".
	shareOneTolerance = 1e-4
)

// Binding assigns a share of a consumer's consumption to a pipeline.
type Binding struct {
	PipelineID string
	Share      float64
	GRSName    string
}

// =============================================================================
// DECODE / ENCODE
// =============================================================================

// Decode parses a binding code. Malformed entries are dropped silently.
func Decode(code string) []Binding {
	if strings.TrimSpace(code) == "" {
		return nil
	}

	var bindings []Binding
	for _, entry := range strings.Split(code, BindingSeparator) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		fields := strings.Split(entry, FieldSeparator)
		if len(fields) < 3 {
			continue
		}

		share, ok := ParseDecimal(fields[1])
		if !ok {
			continue
		}

		bindings = append(bindings, Binding{
			PipelineID: strings.TrimSpace(fields[0]),
			Share:      share,
			GRSName:    strings.TrimSpace(strings.Join(fields[2:], FieldSeparator)),
		})
	}
	return bindings
}

// Encode formats bindings back into a binding code.
// Callers that accept external input should run ValidateBindings first.
func Encode(bindings []Binding) string {
	if len(bindings) == 0 {
		return ""
	}

	parts := make([]string, len(bindings))
	for i, b := range bindings {
		parts[i] = b.PipelineID + FieldSeparator + FormatShare(b.Share) + FieldSeparator + b.GRSName
	}
	return strings.Join(parts, BindingSeparator)
}

// TotalShare sums the shares of all bindings.
func TotalShare(bindings []Binding) float64 {
	total := 0.0
	for _, b := range bindings {
		total += b.Share
	}
	return total
}

// IndexOf returns the position of the binding for pipelineID, or -1.
// IDs compare case-insensitively after trimming, like pipeline lookups.
func IndexOf(bindings []Binding, pipelineID string) int {
	for i, b := range bindings {
		if SameKey(b.PipelineID, pipelineID) {
			return i
		}
	}
	return -1
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateBinding reports whether b can be encoded without corrupting the code.
func ValidateBinding(b Binding) error {
	id := strings.TrimSpace(b.PipelineID)
	if id == "" || strings.ContainsAny(id, BindingSeparator+FieldSeparator) {
		return &EncodeError{PipelineID: b.PipelineID, GRSName: b.GRSName, Err: ErrInvalidPipelineID}
	}
	if strings.Contains(b.GRSName, BindingSeparator) {
		return &EncodeError{PipelineID: b.PipelineID, GRSName: b.GRSName, Err: ErrInvalidGRSName}
	}
	if math.IsNaN(b.Share) || math.IsInf(b.Share, 0) {
		return &EncodeError{PipelineID: b.PipelineID, GRSName: b.GRSName, Err: fmt.Errorf("share is not a finite number")}
	}
	return nil
}

// ValidateBindings validates every binding in order and returns the first error.
func ValidateBindings(bindings []Binding) error {
	for _, b := range bindings {
		if err := ValidateBinding(b); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// NUMBERS
// =============================================================================

// ParseDecimal parses a number written with either '.' or ',' as the decimal
// point. It returns false for blank or unparsable text.
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		return 0, false
	}

	f, _ := d.Float64()
	if math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatShare renders a share for the workbook.
func FormatShare(share float64) string {
	if math.Abs(share-1.0) < shareOneTolerance {
		return "1"
	}
	return strings.Replace(decimal.NewFromFloat(share).String(), ".", ",", 1)
}
