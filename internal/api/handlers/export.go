package handlers

import (
	"time"

	"github.com/xuri/excelize/v2"

	"farmconnect/internal/types"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	priceSheet      = "Prices"
)

var priceColumns = []string{
	"Crop", "Market", "Current Price (R)", "Previous Price (R)", "Change (%)",
	"Trend", "Unit", "Last Updated", "Region",
}

// buildPriceWorkbook lays rows out one per line under a bold, frozen header.
// Prices are written as numbers so the sheet can sum and chart them.
func buildPriceWorkbook(rows []types.MarketPrice, generated time.Time) (*excelize.File, error) {
	f := excelize.NewFile()
	fail := func(err error) (*excelize.File, error) {
		_ = f.Close()
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build price export", err)
	}

	if err := f.SetSheetName("Sheet1", priceSheet); err != nil {
		return fail(err)
	}

	header := make([]any, len(priceColumns))
	for i, c := range priceColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(priceSheet, "A1", &header); err != nil {
		return fail(err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fail(err)
	}
	if err := f.SetRowStyle(priceSheet, 1, 1, bold); err != nil {
		return fail(err)
	}

	for i, p := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fail(err)
		}
		line := []any{
			p.CropName,
			p.Market,
			p.CurrentPrice.InexactFloat64(),
			p.PreviousPrice.InexactFloat64(),
			p.PriceChange,
			string(p.Trend),
			p.Unit,
			p.LastUpdated.UTC().Format(time.RFC3339),
			p.Region,
		}
		if err := f.SetSheetRow(priceSheet, cell, &line); err != nil {
			return fail(err)
		}
	}

	if err := f.SetColWidth(priceSheet, "A", "B", 22); err != nil {
		return fail(err)
	}
	if err := f.SetColWidth(priceSheet, "C", "I", 18); err != nil {
		return fail(err)
	}
	if err := f.SetPanes(priceSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fail(err)
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "FarmConnect market prices",
		Created: generated.UTC().Format(time.RFC3339),
	}); err != nil {
		return fail(err)
	}
	return f, nil
}
