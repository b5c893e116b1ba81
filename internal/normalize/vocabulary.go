package normalize

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/da-ingest/internal/model"
)

// Vocabulary maps portal decision and category text to the closed enums.
// Keys are folded (NFC, lowercase, single spaces) before lookup.
type Vocabulary struct {
	decisions  map[string]model.Decision
	categories map[string]model.Category
}

// DefaultVocabulary returns the built-in lookup tables. "Mixed-Use" is
// deliberately mapped to Unknown rather than guessed.
func DefaultVocabulary() *Vocabulary {
	v := &Vocabulary{
		decisions:  make(map[string]model.Decision),
		categories: make(map[string]model.Category),
	}
	for text, d := range map[string]model.Decision{
		"under assessment":         model.DecisionUnderAssessment,
		"in assessment":            model.DecisionUnderAssessment,
		"assessment in progress":   model.DecisionUnderAssessment,
		"pending":                  model.DecisionPending,
		"lodged":                   model.DecisionPending,
		"referred":                 model.DecisionReferred,
		"referred to panel":        model.DecisionReferred,
		"approved":                 model.DecisionApproved,
		"approved with conditions": model.DecisionApproved,
		"determined - approved":    model.DecisionApproved,
		"refused":                  model.DecisionRefused,
		"determined - refused":     model.DecisionRefused,
		"withdrawn":                model.DecisionWithdrawn,
	} {
		v.decisions[foldKey(text)] = d
	}
	for text, c := range map[string]model.Category{
		"residential": model.CategoryResidential,
		"dwelling":    model.CategoryResidential,
		"commercial":  model.CategoryCommercial,
		"retail":      model.CategoryCommercial,
		"industrial":  model.CategoryIndustrial,
		"other":       model.CategoryOther,
		"mixed-use":   model.CategoryUnknown,
		"mixed use":   model.CategoryUnknown,
	} {
		v.categories[foldKey(text)] = c
	}
	return v
}

// Decision maps raw to a Decision, falling back to Unknown.
func (v *Vocabulary) Decision(raw string) model.Decision {
	if d, ok := v.decisions[foldKey(raw)]; ok {
		return d
	}
	return model.DecisionUnknown
}

// Category maps raw to a Category, falling back to Unknown.
func (v *Vocabulary) Category(raw string) model.Category {
	if c, ok := v.categories[foldKey(raw)]; ok {
		return c
	}
	return model.CategoryUnknown
}

// vocabularyFile is the YAML layout of a vocabulary extension.
type vocabularyFile struct {
	Decisions  map[string]string `yaml:"decisions"`
	Categories map[string]string `yaml:"categories"`
}

// Extend adds entries from a YAML document. Entries may only add new source
// text; remapping text the vocabulary already knows is an error.
func (v *Vocabulary) Extend(data []byte) error {
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return eris.Wrap(err, "normalize: parse vocabulary")
	}

	for text, value := range f.Decisions {
		d := model.Decision(value)
		if !d.Valid() {
			return eris.Errorf("normalize: vocabulary decision %q maps to unknown value %q", text, value)
		}
		key := foldKey(text)
		if prev, ok := v.decisions[key]; ok && prev != d {
			return eris.Errorf("normalize: vocabulary cannot remap decision %q from %s to %s", text, prev, d)
		}
		v.decisions[key] = d
	}
	for text, value := range f.Categories {
		c := model.Category(value)
		if !c.Valid() {
			return eris.Errorf("normalize: vocabulary category %q maps to unknown value %q", text, value)
		}
		key := foldKey(text)
		if prev, ok := v.categories[key]; ok && prev != c {
			return eris.Errorf("normalize: vocabulary cannot remap category %q from %s to %s", text, prev, c)
		}
		v.categories[key] = c
	}
	return nil
}

// LoadVocabulary returns the default vocabulary extended by the YAML file at
// path. An empty path returns the defaults.
func LoadVocabulary(path string) (*Vocabulary, error) {
	v := DefaultVocabulary()
	if path == "" {
		return v, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read vocabulary %s", path)
	}
	if err := v.Extend(data); err != nil {
		return nil, eris.Wrapf(err, "normalize: vocabulary %s", path)
	}
	zap.L().Info("loaded vocabulary extension",
		zap.String("path", path),
		zap.Int("decisions", len(v.decisions)),
		zap.Int("categories", len(v.categories)),
	)
	return v, nil
}

func foldKey(s string) string {
	return strings.ToLower(collapse(norm.NFC.String(s)))
}
