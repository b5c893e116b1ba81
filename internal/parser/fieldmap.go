package parser

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// FieldMap is one known version of the portal's column layout. Labels are
// matched after case and whitespace folding only; any other drift in the
// layout must be registered as a new version.
type FieldMap struct {
	Format  Format
	Version string
	// Labels maps a folded column label (HTML header or JSON key) to its field.
	Labels map[string]Field
	// Required fields must be present in the header set for the map to match.
	Required []Field
}

// Fingerprint is the stable identity of the layout, e.g. "html/v1".
func (m FieldMap) Fingerprint() string {
	return string(m.Format) + "/" + m.Version
}

// Registry holds the known layouts.
type Registry struct {
	maps []FieldMap
}

// NewRegistry returns a registry containing maps. Labels are folded on entry.
func NewRegistry(maps ...FieldMap) *Registry {
	r := &Registry{}
	for _, m := range maps {
		r.Register(m)
	}
	return r
}

// Register adds a layout version.
func (r *Registry) Register(m FieldMap) {
	folded := make(map[string]Field, len(m.Labels))
	for label, f := range m.Labels {
		folded[foldLabel(label)] = f
	}
	m.Labels = folded
	r.maps = append(r.maps, m)
}

// MatchHeaders finds the HTML layout whose labels exactly cover headers.
// The returned slice maps each column index to its field.
func (r *Registry) MatchHeaders(headers []string) (*FieldMap, []Field, error) {
	for i := range r.maps {
		m := &r.maps[i]
		if m.Format != FormatHTML {
			continue
		}
		if cols, ok := m.columns(headers); ok {
			return m, cols, nil
		}
	}
	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = foldLabel(h)
	}
	return nil, nil, eris.Errorf("parser: header set [%s] matches no known layout", strings.Join(folded, ", "))
}

// ForSchema returns the JSON layout registered under version.
func (r *Registry) ForSchema(version string) (*FieldMap, error) {
	for i := range r.maps {
		m := &r.maps[i]
		if m.Format == FormatJSON && m.Version == version {
			return m, nil
		}
	}
	return nil, eris.Errorf("parser: json schema %q is not registered", version)
}

// Versions lists the registered fingerprints, sorted.
func (r *Registry) Versions() []string {
	out := make([]string, 0, len(r.maps))
	for _, m := range r.maps {
		out = append(out, m.Fingerprint())
	}
	sort.Strings(out)
	return out
}

func (m *FieldMap) columns(headers []string) ([]Field, bool) {
	cols := make([]Field, len(headers))
	seen := make(map[Field]bool, len(headers))
	for i, h := range headers {
		f, ok := m.Labels[foldLabel(h)]
		if !ok || seen[f] {
			return nil, false
		}
		cols[i] = f
		seen[f] = true
	}
	for _, f := range m.Required {
		if !seen[f] {
			return nil, false
		}
	}
	return cols, true
}

// foldLabel lowercases and collapses internal whitespace.
func foldLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// DefaultRegistry returns the layouts the portal is known to serve.
func DefaultRegistry() *Registry {
	return NewRegistry(
		FieldMap{
			Format:  FormatHTML,
			Version: "v1",
			Labels: map[string]Field{
				"DA Number":        FieldDANumber,
				"Description":      FieldDescription,
				"Lodged":           FieldSubmittedDate,
				"Decision":         FieldDecision,
				"Category":         FieldCategory,
				"Property Address": FieldPropertyAddress,
				"Applicant":        FieldApplicant,
				"Progress":         FieldProgress,
				"Fees":             FieldFees,
				"Documents":        FieldDocuments,
				"Contact Council":  FieldContactCouncil,
			},
			Required: []Field{FieldDANumber, FieldSubmittedDate},
		},
		// The export layout, with underscored labels and an explicit detail URL column.
		FieldMap{
			Format:  FormatHTML,
			Version: "v2",
			Labels: map[string]Field{
				"DA_Number":        FieldDANumber,
				"Detail_URL":       FieldDetailURL,
				"Description":      FieldDescription,
				"Submitted_Date":   FieldSubmittedDate,
				"Decision":         FieldDecision,
				"Categories":       FieldCategory,
				"Property_Address": FieldPropertyAddress,
				"Applicant":        FieldApplicant,
				"Progress":         FieldProgress,
				"Fees":             FieldFees,
				"Documents":        FieldDocuments,
				"Contact_Council":  FieldContactCouncil,
			},
			Required: []Field{FieldDANumber, FieldSubmittedDate},
		},
		FieldMap{
			Format:  FormatJSON,
			Version: "da-search/1",
			Labels: map[string]Field{
				"daNumber":        FieldDANumber,
				"detailUrl":       FieldDetailURL,
				"description":     FieldDescription,
				"submittedDate":   FieldSubmittedDate,
				"decision":        FieldDecision,
				"category":        FieldCategory,
				"propertyAddress": FieldPropertyAddress,
				"applicant":       FieldApplicant,
				"progress":        FieldProgress,
				"fees":            FieldFees,
				"documents":       FieldDocuments,
				"contactCouncil":  FieldContactCouncil,
			},
			Required: []Field{FieldDANumber, FieldSubmittedDate},
		},
	)
}
