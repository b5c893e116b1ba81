// Package export writes stored applications as CSV or XLSX tables and reads
// such tables back.
package export

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/normalize"
)

// Row is one application in tabular form. Column names are the ones council
// DA spreadsheets are usually shared with.
type Row struct {
	DANumber        string `csv:"DA_Number"`
	DetailURL       string `csv:"Detail_URL"`
	Description     string `csv:"Description"`
	SubmittedDate   string `csv:"Submitted_Date"`
	Decision        string `csv:"Decision"`
	Category        string `csv:"Categories"`
	PropertyAddress string `csv:"Property_Address"`
	Applicant       string `csv:"Applicant"`
	Progress        string `csv:"Progress"`
	Fees            string `csv:"Fees"`
	Documents       string `csv:"Documents"`
	ContactCouncil  string `csv:"Contact_Council"`
	RawDecision     string `csv:"Raw_Decision"`
	RawCategory     string `csv:"Raw_Category"`
}

// Columns is the header of every exported table, in order.
var Columns = []string{
	"DA_Number", "Detail_URL", "Description", "Submitted_Date", "Decision", "Categories",
	"Property_Address", "Applicant", "Progress", "Fees", "Documents", "Contact_Council",
	"Raw_Decision", "Raw_Category",
}

const documentSep = "; "

// FromRecord flattens rec into a Row.
func FromRecord(rec model.ApplicationRecord) Row {
	return Row{
		DANumber:        rec.DANumber,
		DetailURL:       rec.DetailURL,
		Description:     rec.Description,
		SubmittedDate:   rec.SubmittedDate.String(),
		Decision:        string(rec.Decision),
		Category:        string(rec.Category),
		PropertyAddress: rec.PropertyAddress,
		Applicant:       rec.Applicant,
		Progress:        rec.Progress,
		Fees:            rec.Fees,
		Documents:       strings.Join(rec.Documents, documentSep),
		ContactCouncil:  rec.ContactCouncil,
		RawDecision:     rec.RawDecision,
		RawCategory:     rec.RawCategory,
	}
}

func (r Row) cells() []string {
	return []string{
		r.DANumber, r.DetailURL, r.Description, r.SubmittedDate, r.Decision, r.Category,
		r.PropertyAddress, r.Applicant, r.Progress, r.Fees, r.Documents, r.ContactCouncil,
		r.RawDecision, r.RawCategory,
	}
}

// Record converts r back into an ApplicationRecord. Decision and category
// text goes through vocab, so any spelling the normalizer accepts is read.
// The raw audit text comes from the Raw_ columns, or from the Decision and
// Categories cells for tables that lack them.
func (r Row) Record(vocab *normalize.Vocabulary) (model.ApplicationRecord, error) {
	if vocab == nil {
		vocab = normalize.DefaultVocabulary()
	}
	key, err := normalize.CanonicalDANumber(r.DANumber)
	if err != nil {
		return model.ApplicationRecord{}, err
	}
	submitted, err := normalize.ParseSubmittedDate(r.SubmittedDate)
	if err != nil {
		return model.ApplicationRecord{}, eris.Wrapf(err, "export: %s submitted date", key)
	}
	return model.ApplicationRecord{
		DANumber:        key,
		DetailURL:       r.DetailURL,
		Description:     r.Description,
		SubmittedDate:   submitted,
		Decision:        vocab.Decision(r.Decision),
		Category:        vocab.Category(r.Category),
		PropertyAddress: r.PropertyAddress,
		Applicant:       orDefault(r.Applicant, model.UnknownApplicant),
		Progress:        r.Progress,
		Fees:            orDefault(r.Fees, model.NotRequired),
		FeesAmount:      normalize.FeeAmount(r.Fees),
		Documents:       normalize.SplitDocuments(r.Documents),
		ContactCouncil:  orDefault(r.ContactCouncil, model.NotRequired),
		RawDecision:     firstNonEmpty(r.RawDecision, r.Decision),
		RawCategory:     firstNonEmpty(r.RawCategory, r.Category),
	}, nil
}

// Records converts rows, numbering source positions from 1. Rows that do not
// convert are returned as errors alongside the good ones.
func Records(rows []Row, vocab *normalize.Vocabulary) ([]model.ApplicationRecord, []error) {
	var (
		out  []model.ApplicationRecord
		errs []error
	)
	for i, row := range rows {
		rec, err := row.Record(vocab)
		if err != nil {
			errs = append(errs, eris.Wrapf(err, "export: row %d", i+1))
			continue
		}
		rec.SourcePosition = i + 1
		out = append(out, rec)
	}
	return out, errs
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

// firstNonEmpty returns raw untouched when set; audit text is kept verbatim.
func firstNonEmpty(raw, fallback string) string {
	if raw != "" {
		return raw
	}
	return fallback
}
