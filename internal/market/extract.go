package market

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// RawRow holds the trimmed cell text of one price table row before
// normalization.
type RawRow struct {
	Market        string
	CropName      string
	CurrentPrice  string
	Unit          string
	Date          string
	Change        string
	PreviousPrice string
}

// TableHeader records the header labels found for one table.
type TableHeader struct {
	Section string
	Table   int
	Labels  []string
}

// Extraction is the result of walking a price page.
type Extraction struct {
	Rows []RawRow
	// Dropped counts body rows that were too short or repeated the header.
	Dropped int
	Headers []TableHeader
	// MissingSections lists selectors not present in the page.
	MissingSections []string
	// Snippets holds the first part of each present section's HTML, for
	// diagnosing empty scrapes.
	Snippets map[string]string
}

const snippetLen = 500

// Extract walks every table in every section of doc and pulls rows out
// positionally. It never fails; a page with none of the sections yields an
// empty Extraction.
func Extract(doc *goquery.Document, sections []Section) Extraction {
	ex := Extraction{Snippets: make(map[string]string)}

	for _, sec := range sections {
		sel := doc.Find(sec.Selector)
		if sel.Length() == 0 {
			ex.MissingSections = append(ex.MissingSections, sec.Selector)
			continue
		}
		if html, err := sel.First().Html(); err == nil {
			ex.Snippets[sec.Selector] = truncateRunes(html, snippetLen)
		}

		sel.Find("table").Each(func(ti int, table *goquery.Selection) {
			ex.Headers = append(ex.Headers, TableHeader{
				Section: sec.Selector,
				Table:   ti,
				Labels:  tableHeaders(table),
			})

			table.Find("tbody > tr").Each(func(_ int, tr *goquery.Selection) {
				cells := tr.ChildrenFiltered("td")
				if cells.Length() < minCells {
					ex.Dropped++
					return
				}
				text := func(i int) string {
					return strings.TrimSpace(cells.Eq(i).Text())
				}
				row := RawRow{
					Market:        sec.Market,
					CropName:      text(colCropName),
					CurrentPrice:  text(colCurrentPrice),
					Unit:          text(colUnit),
					Date:          text(colDate),
					Change:        text(colChange),
					PreviousPrice: text(colPreviousPrice),
				}
				if row.CropName == "" || row.CropName == headerLabel {
					ex.Dropped++
					return
				}
				ex.Rows = append(ex.Rows, row)
			})
		})
	}
	return ex
}

// tableHeaders reads labels from thead, falling back to the cells of the
// table's first row.
func tableHeaders(table *goquery.Selection) []string {
	var labels []string
	table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		labels = append(labels, strings.TrimSpace(th.Text()))
	})
	if len(labels) > 0 {
		return labels
	}
	table.Find("tr").First().ChildrenFiltered("td, th").Each(func(_ int, c *goquery.Selection) {
		labels = append(labels, strings.TrimSpace(c.Text()))
	})
	return labels
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
