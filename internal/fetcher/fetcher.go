// Package fetcher retrieves result pages from a council planning portal's
// application-search endpoint.
package fetcher

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/da-ingest/internal/model"
)

// PageToken is an opaque cursor into the portal's paginated results. Callers
// must pass FirstPage or the Next token of the previous RawPage.
type PageToken string

// FirstPage returns the token of the first result page.
func FirstPage() PageToken {
	return TokenForPage(1)
}

// TokenForPage returns the token addressing the given 1-based page. Resuming
// runs use it to continue after a checkpoint.
func TokenForPage(page int) PageToken {
	return PageToken("p" + strconv.Itoa(page))
}

// Page decodes the 1-based page index carried by the token.
func (t PageToken) Page() (int, error) {
	if len(t) < 2 || t[0] != 'p' {
		return 0, eris.Errorf("fetcher: malformed page token %q", string(t))
	}
	n, err := strconv.Atoi(string(t[1:]))
	if err != nil || n < 1 {
		return 0, eris.Errorf("fetcher: malformed page token %q", string(t))
	}
	return n, nil
}

// RawPage is one undecoded result page as returned by the portal.
type RawPage struct {
	Token       PageToken `json:"token"`
	Next        PageToken `json:"next"`
	Page        int       `json:"page"`
	URL         string    `json:"url"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"-"`
	FetchedAt   time.Time `json:"fetched_at"`
	Attempts    int       `json:"attempts"`
}

// PageFetcher fetches one result page of the portal's search for a date range.
type PageFetcher interface {
	FetchPage(ctx context.Context, token PageToken, dr model.DateRange) (*RawPage, error)
}
