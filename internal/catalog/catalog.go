// Package catalog accumulates enriched movie records and ranks them for export.
package catalog

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Source identifies one remote listing page.
type Source string

// MovieRecord is the normalized metadata kept for one title.
type MovieRecord struct {
	// Title is the provider's canonical name; it may differ from the lookup key.
	Title string
	// Year holds at most the first four characters of the provider year.
	Year string
	// Genre is the provider's comma-separated genre list.
	Genre string
	// IMDBRating is the raw rating token, possibly "N/A".
	IMDBRating string
	// Source is the listing that produced the title.
	Source Source
}

// Entry pairs a storage key with its record in ranked output.
type Entry struct {
	Key    string
	Record MovieRecord
}

// Catalog maps titles to records in insertion order. It also remembers which
// lookup keys were already attempted so a title is resolved at most once per
// run. It is not safe for concurrent use.
type Catalog struct {
	records map[string]MovieRecord
	order   []string
	seen    map[string]struct{}
	fold    cases.Caser
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{
		records: make(map[string]MovieRecord),
		seen:    make(map[string]struct{}),
		fold:    cases.Fold(),
	}
}

// MarkSeen records a lookup key. It returns false when the key was already
// attempted, successfully or not.
func (c *Catalog) MarkSeen(key string) bool {
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	return true
}

// UpsertIfAbsent stores record under key unless key is already present. The
// first inserted record always wins.
func (c *Catalog) UpsertIfAbsent(key string, record MovieRecord) bool {
	if _, ok := c.records[key]; ok {
		return false
	}
	c.records[key] = record
	c.order = append(c.order, key)
	return true
}

// Get returns the record stored under key.
func (c *Catalog) Get(key string) (MovieRecord, bool) {
	rec, ok := c.records[key]
	return rec, ok
}

// Len reports the number of stored records.
func (c *Catalog) Len() int {
	return len(c.records)
}

// FilterByGenre keeps only records whose genre contains, case-insensitively,
// at least one of allowed. Blank entries are ignored and an empty allow-list
// leaves the catalog untouched.
func (c *Catalog) FilterByGenre(allowed []string) {
	needles := make([]string, 0, len(allowed))
	for _, g := range allowed {
		if g = strings.TrimSpace(g); g != "" {
			needles = append(needles, c.fold.String(g))
		}
	}
	if len(needles) == 0 {
		return
	}

	kept := c.order[:0]
	for _, key := range c.order {
		genre := c.fold.String(c.records[key].Genre)
		if containsAny(genre, needles) {
			kept = append(kept, key)
			continue
		}
		delete(c.records, key)
	}
	c.order = kept
}

// Ranked returns the records ordered by IMDB rating. Numeric ratings compare
// numerically in the requested direction; non-numeric ratings such as "N/A"
// always sort after every numeric one. Ties keep insertion order.
func (c *Catalog) Ranked(descending bool) []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, Entry{Key: key, Record: c.records[key]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ratingLess(out[i].Record.IMDBRating, out[j].Record.IMDBRating, descending)
	})
	return out
}

func ratingLess(a, b string, descending bool) bool {
	av, aok := parseRating(a)
	bv, bok := parseRating(b)
	switch {
	case aok && bok:
		if descending {
			return av > bv
		}
		return av < bv
	case aok != bok:
		return aok
	default:
		return false
	}
}

// parseRating accepts finite decimal ratings only; NaN, infinities and hex
// floats count as non-numeric.
func parseRating(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if strings.ContainsAny(raw, "xX") {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
