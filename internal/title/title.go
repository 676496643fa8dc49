// Package title turns raw directory-listing entries into canonical titles.
package title

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalid marks a listing entry that carries no letters or digits.
var ErrInvalid = errors.New("invalid title")

const separator = "/"

var (
	yearSuffix   = regexp.MustCompile(` \((19|20)\d{2}\)$`)
	alphanumeric = regexp.MustCompile(`[a-zA-Z0-9]`)
)

// Normalize strips trailing path separators and a trailing " (YYYY)" release
// year from raw. Both steps repeat until the value is stable, so
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	out := raw
	for {
		next := yearSuffix.ReplaceAllString(strings.TrimRight(out, separator), "")
		if next == out {
			return out
		}
		out = next
	}
}

// IsValid reports whether t contains at least one ASCII letter or digit.
func IsValid(t string) bool {
	return alphanumeric.MatchString(t)
}

// Canonical normalizes raw and rejects the result with ErrInvalid when it
// fails IsValid.
func Canonical(raw string) (string, error) {
	t := Normalize(raw)
	if !IsValid(t) {
		return "", ErrInvalid
	}
	return t, nil
}
