// Package normalize converts raw portal rows into validated application records.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/parser"
)

// Rejection reasons.
const (
	BadDate    = model.RejectBadDate
	OutOfRange = model.RejectOutOfRange
	BadKey     = model.RejectBadKey
)

// Rejected is returned for a row that must not reach the store.
type Rejected struct {
	Reason   model.RejectReason
	DANumber string
	Value    string
	Err      error
}

func (e *Rejected) Error() string {
	msg := fmt.Sprintf("rejected %s: %s %q", e.DANumber, e.Reason, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Rejected) Unwrap() error {
	return e.Err
}

// AsRejected returns the *Rejected in err's chain, if any.
func AsRejected(err error) (*Rejected, bool) {
	var r *Rejected
	ok := errors.As(err, &r)
	return r, ok
}

// DateFormats are the portal's known submitted-date layouts, tried in order.
var DateFormats = []string{
	"02/01/2006",
	"2/1/2006",
	"2006-01-02",
	"2 Jan 2006",
	"2 January 2006",
}

// Normalizer shapes raw rows for one run's date range.
type Normalizer struct {
	dr    model.DateRange
	vocab *Vocabulary
}

// New creates a Normalizer for dr. A nil vocabulary means DefaultVocabulary.
func New(dr model.DateRange, vocab *Vocabulary) *Normalizer {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Normalizer{dr: dr, vocab: vocab}
}

// Normalize validates and canonicalizes one row. It does not deduplicate.
// A row carrying a parse error is returned unchanged as the error.
func (n *Normalizer) Normalize(raw parser.RawRecord) (model.ApplicationRecord, error) {
	if raw.Err != nil {
		return model.ApplicationRecord{}, raw.Err
	}

	rawKey := raw.Get(parser.FieldDANumber)
	key, err := CanonicalDANumber(rawKey)
	if err != nil {
		return model.ApplicationRecord{}, &Rejected{Reason: BadKey, DANumber: rawKey, Value: rawKey, Err: err}
	}

	rawDate := raw.Get(parser.FieldSubmittedDate)
	submitted, err := ParseSubmittedDate(rawDate)
	if err != nil {
		return model.ApplicationRecord{}, &Rejected{Reason: BadDate, DANumber: key, Value: rawDate, Err: err}
	}
	if !n.dr.Contains(submitted) {
		return model.ApplicationRecord{}, &Rejected{
			Reason:   OutOfRange,
			DANumber: key,
			Value:    submitted.String(),
			Err:      eris.Errorf("outside %s", n.dr),
		}
	}

	rawDecision := raw.Get(parser.FieldDecision)
	rawCategory := raw.Get(parser.FieldCategory)
	fees := cleanText(raw.Get(parser.FieldFees))

	rec := model.ApplicationRecord{
		DANumber:        key,
		DetailURL:       cleanText(raw.Get(parser.FieldDetailURL)),
		Description:     cleanText(raw.Get(parser.FieldDescription)),
		SubmittedDate:   submitted,
		Decision:        n.vocab.Decision(rawDecision),
		Category:        n.vocab.Category(rawCategory),
		PropertyAddress: canonicalAddress(raw.Get(parser.FieldPropertyAddress)),
		Applicant:       orDefault(cleanText(raw.Get(parser.FieldApplicant)), model.UnknownApplicant),
		Progress:        cleanText(raw.Get(parser.FieldProgress)),
		Fees:            orDefault(fees, model.NotRequired),
		FeesAmount:      FeeAmount(fees),
		Documents:       SplitDocuments(raw.Get(parser.FieldDocuments)),
		ContactCouncil:  orDefault(cleanText(raw.Get(parser.FieldContactCouncil)), model.NotRequired),
		RawDecision:     rawDecision,
		RawCategory:     rawCategory,
		SourcePage:      raw.Page,
		SourcePosition:  raw.Position,
	}
	return rec, nil
}

// ParseSubmittedDate parses s with the first matching DateFormats layout.
func ParseSubmittedDate(s string) (model.Date, error) {
	s = collapse(s)
	if s == "" {
		return model.Date{}, eris.New("empty date")
	}
	for _, layout := range DateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return model.DateOf(t), nil
		}
	}
	return model.Date{}, eris.Errorf("date %q matches no known format", s)
}

var daNumberRe = regexp.MustCompile(`(?i)^(?:DA)?[\s\-/_.]*(\d{4})[\s\-/_.]+(\d{1,5})$`)

// CanonicalDANumber rewrites an application number to DA-YYYY-NNNN, e.g.
// "da 2025/12" becomes "DA-2025-0012".
func CanonicalDANumber(s string) (string, error) {
	m := daNumberRe.FindStringSubmatch(collapse(s))
	if m == nil {
		return "", eris.Errorf("application number %q is not of the form DA-YYYY-NNNN", s)
	}
	year, _ := strconv.Atoi(m[1])
	if year < 1900 || year > 2999 {
		return "", eris.Errorf("application number %q has implausible year %d", s, year)
	}
	seq, _ := strconv.Atoi(m[2])
	if seq == 0 {
		return "", eris.Errorf("application number %q has zero sequence", s)
	}
	if seq > 9999 {
		return "", eris.Errorf("application number %q has sequence %d beyond four digits", s, seq)
	}
	return fmt.Sprintf("DA-%04d-%04d", year, seq), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
