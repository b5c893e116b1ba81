package portaltest

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// HTMLHeaders are the results grid column labels.
var HTMLHeaders = []string{
	"DA Number", "Description", "Lodged", "Decision", "Category", "Property Address",
	"Applicant", "Progress", "Fees", "Documents", "Contact Council",
}

// JSONSchema is the schema tag written on JSON pages.
const JSONSchema = "da-search/1"

// RenderHTML renders one results page. headers overrides HTMLHeaders when
// non-nil.
func RenderHTML(rows []Row, page int, hasNext bool, headers []string) []byte {
	if headers == nil {
		headers = HTMLHeaders
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><title>Application Tracking</title></head><body>\n")
	b.WriteString(`<table id="applications" class="grid">` + "\n<thead><tr>")
	for _, h := range headers {
		fmt.Fprintf(&b, "<th>%s</th>", html.EscapeString(h))
	}
	b.WriteString("</tr></thead>\n<tbody>\n")
	for _, r := range rows {
		b.WriteString("<tr>")
		fmt.Fprintf(&b, `<td><a href="%s">%s</a></td>`, html.EscapeString(r.DetailPath), html.EscapeString(r.DANumber))
		for _, v := range []string{r.Description, r.Lodged, r.Decision, r.Category, r.Address, r.Applicant, r.Progress, r.Fees} {
			fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(v))
		}
		b.WriteString("<td>")
		for _, d := range r.Documents {
			fmt.Fprintf(&b, `<a href="%s">%s</a> `, html.EscapeString(d), html.EscapeString(d[strings.LastIndex(d, "/")+1:]))
		}
		b.WriteString("</td>")
		fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(r.Contact))
		b.WriteString("</tr>\n")
	}
	b.WriteString("</tbody></table>\n<div class=\"pager\">")
	if page > 1 {
		fmt.Fprintf(&b, `<a rel="prev" href="?page=%d">Previous</a>`, page-1)
	}
	if hasNext {
		fmt.Fprintf(&b, `<a rel="next" href="?page=%d">Next</a>`, page+1)
	}
	b.WriteString("</div>\n</body></html>\n")
	return []byte(b.String())
}

type jsonApplication struct {
	DANumber        string   `json:"daNumber"`
	DetailURL       string   `json:"detailUrl"`
	Description     string   `json:"description"`
	SubmittedDate   string   `json:"submittedDate"`
	Decision        string   `json:"decision"`
	Category        string   `json:"category"`
	PropertyAddress string   `json:"propertyAddress"`
	Applicant       string   `json:"applicant"`
	Progress        string   `json:"progress"`
	Fees            string   `json:"fees"`
	Documents       []string `json:"documents"`
	ContactCouncil  string   `json:"contactCouncil"`
}

type jsonPage struct {
	Schema       string            `json:"schema"`
	Page         int               `json:"page"`
	Applications []jsonApplication `json:"applications"`
	Next         *int              `json:"next"`
}

// RenderJSON renders one results page in the portal's JSON form. Detail and
// document paths are made absolute against origin.
func RenderJSON(rows []Row, page int, hasNext bool, origin string) []byte {
	out := jsonPage{Schema: JSONSchema, Page: page, Applications: make([]jsonApplication, 0, len(rows))}
	if hasNext {
		next := page + 1
		out.Next = &next
	}
	for _, r := range rows {
		docs := make([]string, len(r.Documents))
		for i, d := range r.Documents {
			docs[i] = origin + d
		}
		out.Applications = append(out.Applications, jsonApplication{
			DANumber:        r.DANumber,
			DetailURL:       origin + r.DetailPath,
			Description:     r.Description,
			SubmittedDate:   r.Lodged,
			Decision:        r.Decision,
			Category:        r.Category,
			PropertyAddress: r.Address,
			Applicant:       r.Applicant,
			Progress:        r.Progress,
			Fees:            r.Fees,
			Documents:       docs,
			ContactCouncil:  r.Contact,
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		panic(err)
	}
	return b
}
