// Package parser turns one fetched result page into a lazy sequence of raw
// application records.
package parser

import (
	"iter"
	"strings"
)

// Field identifies one logical column of an application row, independent of
// how the portal labels it.
type Field string

const (
	FieldDANumber        Field = "da_number"
	FieldDetailURL       Field = "detail_url"
	FieldDescription     Field = "description"
	FieldSubmittedDate   Field = "submitted_date"
	FieldDecision        Field = "decision"
	FieldCategory        Field = "category"
	FieldPropertyAddress Field = "property_address"
	FieldApplicant       Field = "applicant"
	FieldProgress        Field = "progress"
	FieldFees            Field = "fees"
	FieldDocuments       Field = "documents"
	FieldContactCouncil  Field = "contact_council"
)

// Format is the wire format of a result page.
type Format string

const (
	FormatHTML Format = "html"
	FormatJSON Format = "json"
)

// RawRecord is one row as it appeared on the page, before normalization.
// A row that could not be read carries a *ParseError in Err and should be
// skipped by the caller.
type RawRecord struct {
	Fields   map[Field]string
	Page     int
	Position int
	Err      error
}

// Get returns the trimmed value of f, or "" if the row did not carry it.
func (r RawRecord) Get(f Field) string {
	return strings.TrimSpace(r.Fields[f])
}

// Page is the parsed form of one result page.
type Page struct {
	Format Format
	// Fingerprint names the layout version that matched, e.g. "html/v1".
	Fingerprint string
	// Records yields every row in document order. Ranging over it again
	// yields the same rows.
	Records iter.Seq[RawRecord]
	Count   int
	// HasNext is false on the last page of results.
	HasNext bool
}

// Collect drains Records into a slice.
func (p *Page) Collect() []RawRecord {
	out := make([]RawRecord, 0, p.Count)
	for rec := range p.Records {
		out = append(out, rec)
	}
	return out
}

func emptySeq(yield func(RawRecord) bool) {}
