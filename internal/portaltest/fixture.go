// Package portaltest serves synthetic council portal result pages for tests.
package portaltest

import (
	"fmt"
	"time"
)

// Row is one application as the portal displays it. Values are verbatim
// portal text.
type Row struct {
	DANumber    string
	DetailPath  string
	Description string
	Lodged      string
	Decision    string
	Category    string
	Address     string
	Applicant   string
	Progress    string
	Fees        string
	Documents   []string
	Contact     string
}

// Fixture is the full result set for one search, split into pages.
type Fixture struct {
	Pages [][]Row
}

// Rows returns every row across pages in order.
func (f Fixture) Rows() []Row {
	var out []Row
	for _, p := range f.Pages {
		out = append(out, p...)
	}
	return out
}

// Standard fixture anchors, for assertions.
const (
	DuplicateDANumber  = "DA-2025-0003"
	OutOfRangeDANumber = "DA-2025-0015"
	BadDateDANumber    = "DA-2025-0022"
	MixedUseDANumber   = "DA-2025-0007"
	// StandardExpectedCount is 30 rows less one duplicate, one
	// out-of-range and one bad date.
	StandardExpectedCount = 27
)

var (
	addresses = []string{
		"12 Ocean View Road, Ulladulla NSW 2539",
		"45 Bushland Avenue, Nowra NSW 2541",
		"78 River Street, Sussex Inlet NSW 2540",
		"23 Beach Road, Culburra Beach NSW 2540",
		"56 Mountain Way, Berry NSW 2535",
		"89 Bay Parade, Huskisson NSW 2540",
		"34 Forest Drive, Bomaderry NSW 2541",
		"67 Valley Road, Milton NSW 2538",
		"91 Hill Street, Sanctuary Point NSW 2540",
		"15 Creek Lane, Worrigee NSW 2540",
	}
	descriptions = []string{
		"Residential dwelling - New construction",
		"Swimming pool and deck installation",
		"Garage and carport development",
		"Commercial building alterations",
		"Dual occupancy development",
		"Demolition of existing structures",
		"Change of use to restaurant",
		"Industrial shed construction",
		"Retail shop fitout",
		"Multi-unit housing development",
	}
	applicants = []string{
		"John Smith & Associates",
		"Sarah Johnson Building Co",
		"Green Earth Developments",
		"Coastal Property Group",
		"Mountain View Constructions",
		"Bay Area Builders",
		"Urban Design Partners",
		"Regional Development Corp",
		"Sustainable Living Pty Ltd",
		"Heritage Restoration Co",
	}
	decisions = []string{"Under Assessment", "Pending", "Referred"}
)

// StandardFixture returns 3 pages of 10 rows for September 2025:
//   - DuplicateDANumber appears on page 1 as Pending and again on page 3 as Approved
//   - OutOfRangeDANumber was lodged on 31/08/2025
//   - BadDateDANumber carries the impossible date 31/13/2025
//   - MixedUseDANumber has category "Mixed-Use"
func StandardFixture() Fixture {
	var pages [][]Row
	n := 0
	for p := 0; p < 3; p++ {
		var rows []Row
		for i := 0; i < 10; i++ {
			n++
			if p == 2 && i == 9 {
				dup := standardRow(3)
				dup.Decision = "Approved"
				dup.Progress = "Determined"
				dup.Fees = "$1,250.00"
				rows = append(rows, dup)
				continue
			}
			rows = append(rows, standardRow(n))
		}
		pages = append(pages, rows)
	}
	return Fixture{Pages: pages}
}

func standardRow(n int) Row {
	da := fmt.Sprintf("DA-2025-%04d", n)
	lodged := time.Date(2025, time.September, (n%28)+1, 0, 0, 0, 0, time.UTC)
	row := Row{
		DANumber:    da,
		DetailPath:  "/applications/" + da,
		Description: descriptions[n%len(descriptions)],
		Lodged:      lodged.Format("02/01/2006"),
		Decision:    decisions[n%len(decisions)],
		Category:    "Residential",
		Address:     addresses[n%len(addresses)],
		Applicant:   applicants[n%len(applicants)],
		Progress:    "Assessment in Progress",
		Fees:        "Not required",
		Documents:   []string{"/docs/" + da + "/plans.pdf"},
		Contact:     "",
	}
	if n%2 == 1 {
		row.Category = "Commercial"
	}

	switch da {
	case DuplicateDANumber:
		row.Decision = "Pending"
	case MixedUseDANumber:
		row.Category = "Mixed-Use"
	case OutOfRangeDANumber:
		row.Lodged = "31/08/2025"
	case BadDateDANumber:
		row.Lodged = "31/13/2025"
	case "DA-2025-0012":
		row.Category = "industrial"
	case "DA-2025-0018":
		row.Category = "Other"
		row.Applicant = ""
	case "DA-2025-0020":
		row.Lodged = "2025-09-20"
	case "DA-2025-0025":
		row.Lodged = "25 Sep 2025"
		row.Decision = "REFUSED"
	case "DA-2025-0011":
		row.Fees = "$480.50"
		row.Contact = "Planning Officer 02 4429 3111"
	}
	return row
}
