package market

import (
	"strings"

	"farmconnect/internal/types"
)

// Column positions in a price table row. The source tables have no reliable
// header markup, so extraction is positional; a layout change on the site is
// fixed here and nowhere else.
const (
	colCropName = iota
	colCurrentPrice
	colUnit
	colDate
	colChange
	colPreviousPrice

	minCells
)

// expectedHeaders are the labels the source shows above each column, in
// column order. They are only used for the header self-check.
var expectedHeaders = [minCells]string{
	colCropName:      "Product Name",
	colCurrentPrice:  "Price",
	colUnit:          "Quantity Type",
	colDate:          "Date",
	colChange:        "Change",
	colPreviousPrice: "Previous Price",
}

// headerLabel is the first-cell text of a header row that leaked into tbody.
const headerLabel = "Product Name"

// Section maps a tab container on the page to the market label its rows get.
type Section struct {
	Selector string
	Market   string
}

// DefaultSections are the three produce tabs scraped from the price page.
var DefaultSections = []Section{
	{Selector: "#tab-content-Grains", Market: types.MarketGrains},
	{Selector: "#tab-content-Fruits", Market: types.MarketFruits},
	{Selector: "#tab-content-Vegetables", Market: types.MarketVegetables},
}

// headerMismatches compares found header labels against expectedHeaders and
// returns the positions that differ. Labels are compared case-insensitively
// with surrounding whitespace ignored. Extra trailing columns are allowed.
func headerMismatches(found []string) []int {
	if len(found) == 0 {
		return nil
	}
	var bad []int
	for i, want := range expectedHeaders {
		if i >= len(found) {
			bad = append(bad, i)
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(found[i]), want) {
			bad = append(bad, i)
		}
	}
	return bad
}
