package allocation

import (
	"strings"

	"golang.org/x/text/cases"
)

// Location is a (district, settlement) pair. GRS records only carry a district.
type Location struct {
	District   string
	Settlement string
}

// Located is implemented by every record that has a location.
type Located interface {
	Location() Location
}

// normalizeKey trims and case-folds a textual key. Folding is Unicode-aware,
// so Cyrillic names compare correctly ("Северный" == "СЕВЕРНЫЙ").
func normalizeKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// SameKey compares two textual keys case-insensitively after trimming.
func SameKey(a, b string) bool {
	return normalizeKey(a) == normalizeKey(b)
}

// Matches reports whether both district and settlement match.
func (l Location) Matches(other Location) bool {
	return SameKey(l.District, other.District) && SameKey(l.Settlement, other.Settlement)
}

func (l Location) key() Location {
	return Location{District: normalizeKey(l.District), Settlement: normalizeKey(l.Settlement)}
}
