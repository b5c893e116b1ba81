package portaltest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// Format selects how the portal renders pages.
type Format string

const (
	HTML Format = "html"
	JSON Format = "json"
)

// Portal is a synthetic council portal backed by a Fixture.
type Portal struct {
	server  *httptest.Server
	fixture Fixture
	format  Format

	mu       sync.Mutex
	hits     map[int]int
	statuses map[int][]int
	broken   map[int]bool
	queries  []string
}

// Option configures a Portal.
type Option func(*Portal)

// WithFormat serves pages as HTML (default) or JSON.
func WithFormat(f Format) Option {
	return func(p *Portal) { p.format = f }
}

// New starts a portal serving fx at /search. It is closed on test cleanup.
func New(t testing.TB, fx Fixture, opts ...Option) *Portal {
	t.Helper()
	p := &Portal{
		fixture:  fx,
		format:   HTML,
		hits:     make(map[int]int),
		statuses: make(map[int][]int),
		broken:   make(map[int]bool),
	}
	for _, o := range opts {
		o(p)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/search", p.handleSearch)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// SearchURL is the base URL a fetcher should be configured with.
func (p *Portal) SearchURL() string {
	return p.server.URL + "/search"
}

// Origin is the scheme and host of the portal.
func (p *Portal) Origin() string {
	return p.server.URL
}

// FailWith queues HTTP statuses returned for page before it is served normally.
func (p *Portal) FailWith(page int, statuses ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[page] = append(p.statuses[page], statuses...)
}

// BreakLayout serves page with column labels no layout version knows.
func (p *Portal) BreakLayout(page int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broken[page] = true
}

// Hits returns how many requests page received.
func (p *Portal) Hits(page int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[page]
}

// TotalHits returns the number of search requests served.
func (p *Portal) TotalHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.hits {
		n += h
	}
	return n
}

// Queries returns the raw query strings received, in order.
func (p *Portal) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

func (p *Portal) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("date_from") == "" || q.Get("date_to") == "" {
		http.Error(w, "date range required", http.StatusBadRequest)
		return
	}
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		http.Error(w, "bad page", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.hits[page]++
	p.queries = append(p.queries, r.URL.RawQuery)
	var status int
	if queued := p.statuses[page]; len(queued) > 0 {
		status = queued[0]
		p.statuses[page] = queued[1:]
	}
	broken := p.broken[page]
	p.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	var rows []Row
	if page <= len(p.fixture.Pages) {
		rows = p.fixture.Pages[page-1]
	}
	hasNext := page < len(p.fixture.Pages)

	if p.format == JSON {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(RenderJSON(rows, page, hasNext, p.server.URL))
		return
	}
	var headers []string
	if broken {
		headers = append([]string{"Application No."}, HTMLHeaders[1:]...)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(RenderHTML(rows, page, hasNext, headers))
}
