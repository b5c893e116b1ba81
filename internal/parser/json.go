package parser

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/da-ingest/internal/fetcher"
)

// parseJSON reads {"schema": "...", "applications": [...], "next": ...}.
// Rows are extracted from the raw bytes on each iteration.
func (p *Parser) parseJSON(raw *fetcher.RawPage) (*Page, error) {
	if !gjson.ValidBytes(raw.Body) {
		return nil, unrecognized(raw.Page, eris.New("parser: invalid json"))
	}
	doc := gjson.ParseBytes(raw.Body)
	if !doc.IsObject() {
		return nil, unrecognized(raw.Page, eris.New("parser: json page is not an object"))
	}

	schema := doc.Get("schema")
	if schema.Type != gjson.String {
		return nil, unrecognized(raw.Page, eris.New("parser: json page has no schema"))
	}
	fm, err := p.registry.ForSchema(schema.String())
	if err != nil {
		return nil, unrecognized(raw.Page, err)
	}

	apps := doc.Get("applications")
	if !apps.IsArray() {
		return nil, unrecognized(raw.Page, eris.New("parser: json page has no applications array"))
	}
	items := apps.Array()

	page := &Page{
		Format:      FormatJSON,
		Fingerprint: fm.Fingerprint(),
		Count:       len(items),
		HasNext:     len(items) > 0 && hasNext(doc.Get("next")),
		Records:     emptySeq,
	}
	if len(items) > 0 {
		page.Records = func(yield func(RawRecord) bool) {
			for i, item := range items {
				if !yield(readJSONItem(item, fm, raw.Page, i+1)) {
					return
				}
			}
		}
	}
	return page, nil
}

func hasNext(next gjson.Result) bool {
	switch next.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return strings.TrimSpace(next.String()) != ""
	default:
		return next.Exists()
	}
}

func readJSONItem(item gjson.Result, fm *FieldMap, page, pos int) RawRecord {
	if !item.IsObject() {
		return malformed(page, pos, "", eris.Errorf("application is a json %s, not an object", item.Type))
	}
	fields := make(map[Field]string, len(fm.Labels))
	item.ForEach(func(key, value gjson.Result) bool {
		if f, ok := fm.Labels[foldLabel(key.String())]; ok {
			fields[f] = jsonText(value)
		}
		return true
	})
	if strings.TrimSpace(fields[FieldDANumber]) == "" {
		return malformed(page, pos, FieldDANumber, eris.New("missing application number"))
	}
	return RawRecord{Fields: fields, Page: page, Position: pos}
}

// jsonText flattens a value to text. Arrays become one element per line.
func jsonText(v gjson.Result) string {
	switch {
	case v.Type == gjson.Null:
		return ""
	case v.IsArray():
		parts := make([]string, 0)
		for _, el := range v.Array() {
			if s := strings.TrimSpace(jsonText(el)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return strings.TrimSpace(v.String())
	}
}
