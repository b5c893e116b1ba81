package normalize

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/parser"
)

var september = model.DateRange{
	Start: model.NewDate(2025, time.September, 1),
	End:   model.NewDate(2025, time.September, 30),
}

func row(fields map[parser.Field]string) parser.RawRecord {
	base := map[parser.Field]string{
		parser.FieldDANumber:      "DA-2025-0001",
		parser.FieldSubmittedDate: "15/09/2025",
	}
	for k, v := range fields {
		base[k] = v
	}
	return parser.RawRecord{Fields: base, Page: 2, Position: 4}
}

func TestNormalize_FullRecord(t *testing.T) {
	n := New(september, nil)
	rec, err := n.Normalize(row(map[parser.Field]string{
		parser.FieldDetailURL:       "https://portal.example/applications/DA-2025-0001",
		parser.FieldDescription:     "  Swimming pool   and deck installation ",
		parser.FieldDecision:        "approved",
		parser.FieldCategory:        "RESIDENTIAL",
		parser.FieldPropertyAddress: "12 Ocean View Road, Ulladulla nsw 2539",
		parser.FieldApplicant:       "Bay Area Builders",
		parser.FieldProgress:        "Determined",
		parser.FieldFees:            "Application fee $1,250.50 paid",
		parser.FieldDocuments:       "plans.pdf; statement.pdf\nnotice.pdf;",
		parser.FieldContactCouncil:  "Planning Officer",
	}))
	require.NoError(t, err)

	assert.Equal(t, "DA-2025-0001", rec.DANumber)
	assert.Equal(t, model.NewDate(2025, time.September, 15), rec.SubmittedDate)
	assert.Equal(t, "Swimming pool and deck installation", rec.Description)
	assert.Equal(t, model.DecisionApproved, rec.Decision)
	assert.Equal(t, "approved", rec.RawDecision)
	assert.Equal(t, model.CategoryResidential, rec.Category)
	assert.Equal(t, "RESIDENTIAL", rec.RawCategory)
	assert.Equal(t, "12 Ocean View Road, ULLADULLA NSW 2539", rec.PropertyAddress)
	assert.Equal(t, "Bay Area Builders", rec.Applicant)
	assert.Equal(t, "Application fee $1,250.50 paid", rec.Fees)
	require.True(t, rec.FeesAmount.Valid)
	assert.True(t, decimal.RequireFromString("1250.50").Equal(rec.FeesAmount.Decimal))
	assert.Equal(t, []string{"plans.pdf", "statement.pdf", "notice.pdf"}, rec.Documents)
	assert.Equal(t, "Planning Officer", rec.ContactCouncil)
	assert.Equal(t, 2, rec.SourcePage)
	assert.Equal(t, 4, rec.SourcePosition)
}

func TestNormalize_Defaults(t *testing.T) {
	rec, err := New(september, nil).Normalize(row(nil))
	require.NoError(t, err)

	assert.Equal(t, model.UnknownApplicant, rec.Applicant)
	assert.Equal(t, model.NotRequired, rec.Fees)
	assert.False(t, rec.FeesAmount.Valid)
	assert.Equal(t, model.NotRequired, rec.ContactCouncil)
	assert.Equal(t, model.DecisionUnknown, rec.Decision)
	assert.Equal(t, model.CategoryUnknown, rec.Category)
	assert.Empty(t, rec.Documents)
	assert.NotNil(t, rec.Documents)
}

func TestNormalize_UnknownVocabulary(t *testing.T) {
	n := New(september, nil)

	rec, err := n.Normalize(row(map[parser.Field]string{parser.FieldCategory: "Mixed-Use"}))
	require.NoError(t, err)
	assert.Equal(t, model.CategoryUnknown, rec.Category)
	assert.Equal(t, "Mixed-Use", rec.RawCategory)

	rec, err = n.Normalize(row(map[parser.Field]string{parser.FieldDecision: "Deferred commencement"}))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionUnknown, rec.Decision)
	assert.Equal(t, "Deferred commencement", rec.RawDecision)
	assert.True(t, rec.Decision.Valid())
}

func TestNormalize_DateFormats(t *testing.T) {
	want := model.NewDate(2025, time.September, 5)
	for _, s := range []string{"05/09/2025", "5/9/2025", "2025-09-05", "5 Sep 2025", "5 September 2025", " 05/09/2025 "} {
		d, err := ParseSubmittedDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, d, s)
	}
}

func TestNormalize_BadDate(t *testing.T) {
	n := New(september, nil)
	for _, s := range []string{"31/13/2025", "30/02/2025", "", "next Tuesday", "2025-9-31"} {
		_, err := n.Normalize(row(map[parser.Field]string{parser.FieldSubmittedDate: s}))
		r, ok := AsRejected(err)
		require.True(t, ok, s)
		assert.Equal(t, BadDate, r.Reason, s)
		assert.Equal(t, "DA-2025-0001", r.DANumber)
	}
}

func TestNormalize_OutOfRange(t *testing.T) {
	n := New(september, nil)

	_, err := n.Normalize(row(map[parser.Field]string{parser.FieldSubmittedDate: "31/08/2025"}))
	r, ok := AsRejected(err)
	require.True(t, ok)
	assert.Equal(t, OutOfRange, r.Reason)
	assert.Equal(t, "2025-08-31", r.Value)

	_, err = n.Normalize(row(map[parser.Field]string{parser.FieldSubmittedDate: "01/10/2025"}))
	r, ok = AsRejected(err)
	require.True(t, ok)
	assert.Equal(t, OutOfRange, r.Reason)

	for _, edge := range []string{"01/09/2025", "30/09/2025"} {
		_, err = n.Normalize(row(map[parser.Field]string{parser.FieldSubmittedDate: edge}))
		assert.NoError(t, err, "range is inclusive: %s", edge)
	}
}

func TestNormalize_BadKey(t *testing.T) {
	_, err := New(september, nil).Normalize(row(map[parser.Field]string{parser.FieldDANumber: "CDC-17"}))
	r, ok := AsRejected(err)
	require.True(t, ok)
	assert.Equal(t, BadKey, r.Reason)
	assert.Equal(t, "CDC-17", r.Value)
}

func TestNormalize_PassesThroughParseErrors(t *testing.T) {
	perr := &parser.ParseError{Kind: parser.MalformedField, Page: 1, Position: 3}
	_, err := New(september, nil).Normalize(parser.RawRecord{Err: perr})
	assert.True(t, parser.IsMalformed(err))
	_, ok := AsRejected(err)
	assert.False(t, ok)
}

func TestCanonicalDANumber(t *testing.T) {
	cases := map[string]string{
		"DA-2025-0012":  "DA-2025-0012",
		"da 2025/12":    "DA-2025-0012",
		"DA2025-0012":   "DA-2025-0012",
		"2025.0012":     "DA-2025-0012",
		" DA-2025-123 ": "DA-2025-0123",
		"DA-2025-9999":  "DA-2025-9999",
		"DA-2025-00042": "DA-2025-0042",
	}
	for in, want := range cases {
		got, err := CanonicalDANumber(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Regexp(t, `^DA-\d{4}-\d{4}$`, got, in)
	}
	for _, bad := range []string{"", "DA", "DA-25-0012", "DA-2025-0000", "DA-0999-0001", "BA-2025-0001", "DA20250012", "DA-2025-12345"} {
		_, err := CanonicalDANumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestCanonicalAddress(t *testing.T) {
	assert.Equal(t, "45 Bushland Avenue, NOWRA NSW 2541", canonicalAddress("45  Bushland Avenue,  Nowra NSW   2541"))
	assert.Equal(t, "Lot 3 Princes Highway, MILTON NSW", canonicalAddress("Lot 3 Princes Highway, Milton nsw"))
	assert.Equal(t, "Princes Highway", canonicalAddress("Princes Highway"))
	assert.Equal(t, "", canonicalAddress("  "))
}

func TestFeeAmount(t *testing.T) {
	assert.False(t, FeeAmount("Not required").Valid)
	assert.False(t, FeeAmount("").Valid)

	got := FeeAmount("$480.50")
	require.True(t, got.Valid)
	assert.Equal(t, "480.5", got.Decimal.String())

	got = FeeAmount("Fees: $ 12,000 (incl. GST)")
	require.True(t, got.Valid)
	assert.True(t, decimal.NewFromInt(12000).Equal(got.Decimal))
}

func TestVocabulary_Extend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
decisions:
  "Deferred Commencement": Approved
  "APPROVED": Approved
categories:
  "Dual Occupancy": Residential
  "Subdivision": Other
`), 0o600))

	v, err := LoadVocabulary(path)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, v.Decision("deferred   commencement"))
	assert.Equal(t, model.CategoryResidential, v.Category("dual occupancy"))
	assert.Equal(t, model.CategoryOther, v.Category("SUBDIVISION"))
	assert.Equal(t, model.CategoryUnknown, v.Category("Mixed-Use"), "defaults survive")
}

func TestVocabulary_ExtendRejectsRemapAndBadValues(t *testing.T) {
	v := DefaultVocabulary()
	err := v.Extend([]byte("categories:\n  Mixed-Use: Commercial\n"))
	assert.Error(t, err)

	err = v.Extend([]byte("decisions:\n  Granted: Yes\n"))
	assert.Error(t, err)

	err = v.Extend([]byte("decisions: [not, a, map]"))
	assert.Error(t, err)
}

func TestLoadVocabulary_EmptyPathAndMissingFile(t *testing.T) {
	v, err := LoadVocabulary("")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionPending, v.Decision("Pending"))

	_, err = LoadVocabulary(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
