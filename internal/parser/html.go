package parser

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/da-ingest/internal/fetcher"
)

// Selectors of the portal's results grid.
const (
	resultsTableSelector = "table#applications"
	nextLinkSelector     = `a[rel="next"]`
)

func (p *Parser) parseHTML(raw *fetcher.RawPage) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, unrecognized(raw.Page, eris.Wrap(err, "parser: read html"))
	}

	table := doc.Find(resultsTableSelector).First()
	if table.Length() == 0 {
		return nil, unrecognized(raw.Page, eris.Errorf("parser: no %s on page", resultsTableSelector))
	}

	var headers []string
	table.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find("th").Length() > 0
	}).First().Find("th").Each(func(_ int, s *goquery.Selection) {
		headers = append(headers, s.Text())
	})
	if len(headers) == 0 {
		return nil, unrecognized(raw.Page, eris.New("parser: results table has no header row"))
	}

	fm, cols, err := p.registry.MatchHeaders(headers)
	if err != nil {
		return nil, unrecognized(raw.Page, err)
	}

	rows := table.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find("td").Length() > 0
	})
	base, _ := url.Parse(raw.URL)
	n := rows.Length()

	page := &Page{
		Format:      FormatHTML,
		Fingerprint: fm.Fingerprint(),
		Count:       n,
		HasNext:     n > 0 && doc.Find(nextLinkSelector).Length() > 0,
		Records:     emptySeq,
	}
	if n > 0 {
		page.Records = func(yield func(RawRecord) bool) {
			for i := range n {
				if !yield(readHTMLRow(rows.Eq(i), cols, raw.Page, i+1, base)) {
					return
				}
			}
		}
	}
	return page, nil
}

func readHTMLRow(row *goquery.Selection, cols []Field, page, pos int, base *url.URL) RawRecord {
	cells := row.Find("td")
	if cells.Length() != len(cols) {
		return malformed(page, pos, "", eris.Errorf("row has %d cells, header has %d", cells.Length(), len(cols)))
	}

	fields := make(map[Field]string, len(cols)+1)
	cells.Each(func(i int, cell *goquery.Selection) {
		f := cols[i]
		switch f {
		case FieldDANumber:
			if href, ok := cell.Find("a[href]").First().Attr("href"); ok {
				if _, set := fields[FieldDetailURL]; !set {
					fields[FieldDetailURL] = resolveHref(base, href)
				}
			}
			fields[f] = collapseSpace(cell.Text())
		case FieldDetailURL:
			if href, ok := cell.Find("a[href]").First().Attr("href"); ok {
				fields[f] = resolveHref(base, href)
			} else {
				fields[f] = collapseSpace(cell.Text())
			}
		case FieldDocuments:
			fields[f] = documentRefs(cell, base)
		default:
			fields[f] = collapseSpace(cell.Text())
		}
	})

	if fields[FieldDANumber] == "" {
		return malformed(page, pos, FieldDANumber, eris.New("missing application number"))
	}
	return RawRecord{Fields: fields, Page: page, Position: pos}
}

// documentRefs lists linked documents one per line, or returns the cell text
// when it carries no links.
func documentRefs(cell *goquery.Selection, base *url.URL) string {
	links := cell.Find("a")
	if links.Length() == 0 {
		return strings.TrimSpace(cell.Text())
	}
	refs := make([]string, 0, links.Length())
	links.Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && strings.TrimSpace(href) != "" {
			refs = append(refs, resolveHref(base, href))
			return
		}
		if text := collapseSpace(a.Text()); text != "" {
			refs = append(refs, text)
		}
	})
	return strings.Join(refs, "\n")
}

func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
