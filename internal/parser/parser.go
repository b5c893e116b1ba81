package parser

import (
	"bytes"
	"iter"
	"mime"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/da-ingest/internal/fetcher"
)

// Parser parses result pages against a registry of known layouts.
type Parser struct {
	registry *Registry
}

// New creates a Parser. A nil registry means DefaultRegistry.
func New(registry *Registry) *Parser {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Parser{registry: registry}
}

var defaultParser = New(nil)

// Parse parses raw with the default layouts.
func Parse(raw *fetcher.RawPage) (*Page, error) {
	return defaultParser.Parse(raw)
}

// Parse detects the page format and returns its records. A page whose
// structure matches no registered layout, or whose rows are all malformed,
// fails with an UnrecognizedFormat *ParseError.
func (p *Parser) Parse(raw *fetcher.RawPage) (*Page, error) {
	if raw == nil {
		return nil, eris.New("parser: nil page")
	}

	var (
		page *Page
		err  error
	)
	switch detectFormat(raw.ContentType, raw.Body) {
	case FormatHTML:
		page, err = p.parseHTML(raw)
	case FormatJSON:
		page, err = p.parseJSON(raw)
	default:
		err = unrecognized(raw.Page, eris.Errorf("parser: cannot detect format of %q body", raw.ContentType))
	}
	if err != nil {
		return nil, err
	}

	if page.Count > 0 && allMalformed(page.Records) {
		return nil, unrecognized(raw.Page,
			eris.Errorf("parser: all %d rows malformed under layout %s", page.Count, page.Fingerprint))
	}
	return page, nil
}

func detectFormat(contentType string, body []byte) Format {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
			return FormatJSON
		case mediaType == "text/html" || mediaType == "application/xhtml+xml":
			return FormatHTML
		}
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n\ufeff")
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '{':
		return FormatJSON
	case '<':
		return FormatHTML
	}
	return ""
}

func allMalformed(records iter.Seq[RawRecord]) bool {
	for rec := range records {
		if rec.Err == nil {
			return false
		}
	}
	return true
}

func unrecognized(page int, err error) *ParseError {
	return &ParseError{Kind: UnrecognizedFormat, Page: page, Err: err}
}

func malformed(page, pos int, field Field, err error) RawRecord {
	return RawRecord{
		Page:     page,
		Position: pos,
		Err:      &ParseError{Kind: MalformedField, Page: page, Position: pos, Field: field, Err: err},
	}
}

// collapseSpace trims s and folds internal whitespace runs to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
