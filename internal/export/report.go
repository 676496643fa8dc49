// Package export serializes a ranked catalog into the pipe-delimited report and
// hands it to a local or Cloud Storage destination.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/JakeFAU/movie-index/internal/catalog"
)

// ContentType is attached to uploaded reports.
const ContentType = "text/csv; charset=utf-8"

// Delimiter separates report fields.
const Delimiter = '|'

// Header is the fixed report schema.
var Header = []string{"Title", "Year", "Genre", "IMDB rating", "Index"}

// Write emits the header followed by one row per entry, in the given order.
func Write(w io.Writer, entries []catalog.Entry) error {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			displayTitle(e),
			e.Record.Year,
			e.Record.Genre,
			e.Record.IMDBRating,
			string(e.Record.Source),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %q: %w", e.Key, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

func displayTitle(e catalog.Entry) string {
	if e.Record.Title != "" {
		return e.Record.Title
	}
	return e.Key
}
