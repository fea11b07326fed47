// Package suppression implements the opt-out list consulted before any
// message is handed to the messaging provider.
package suppression

import "strings"

// Normalize strips every non-digit from raw. A 10 digit result is returned
// unchanged; any other length has the character at index 2 removed, which
// collapses the 11 digit mobile form (extra leading 9 after the area code)
// onto the 10 digit form.
func Normalize(raw string) string {
	digits := Digits(raw)
	if len(digits) == 10 {
		return digits
	}
	return digits[:min(2, len(digits))] + digits[min(3, len(digits)):]
}

// Digits returns raw with every non-digit removed.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// List is an ordered set of normalized recipient keys. The zero value is an
// empty list.
type List []string

// Contains reports whether raw, once normalized, is suppressed.
func (l List) Contains(raw string) bool {
	key := Normalize(raw)
	return key != "" && l.index(key) >= 0
}

func (l List) index(key string) int {
	for i, k := range l {
		if k == key {
			return i
		}
	}
	return -1
}

// Add inserts the normalized key for raw. It reports whether the list
// changed; adding a present key or a number without digits is a no-op.
func (l *List) Add(raw string) bool {
	key := Normalize(raw)
	if key == "" || l.index(key) >= 0 {
		return false
	}
	*l = append(*l, key)
	return true
}

// Remove deletes the normalized key for raw and reports whether it was
// present.
func (l *List) Remove(raw string) bool {
	i := l.index(Normalize(raw))
	if i < 0 {
		return false
	}
	*l = append((*l)[:i:i], (*l)[i+1:]...)
	return true
}

// Clone returns an independent copy of l.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}
