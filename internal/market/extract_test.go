package market

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmconnect/internal/types"
)

func loadFixture(t *testing.T, name string) *goquery.Document {
	t.Helper()
	f, err := os.Open("testdata/" + name)
	require.NoError(t, err)
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

func TestExtract_Fixture(t *testing.T) {
	ex := Extract(loadFixture(t, "prices.html"), DefaultSections)

	require.Len(t, ex.Rows, 4)
	assert.Equal(t, 3, ex.Dropped, "short row, repeated header and blank crop")
	assert.Empty(t, ex.MissingSections)

	assert.Equal(t, RawRow{
		Market:        types.MarketGrains,
		CropName:      "Yellow Maize",
		CurrentPrice:  "R 3 755,00",
		Unit:          "per ton",
		Date:          "14/03/2025",
		Change:        "-2.5%",
		PreviousPrice: "R 3 851,00",
	}, ex.Rows[0])
	assert.Equal(t, "Wheat", ex.Rows[1].CropName)
	assert.Equal(t, types.MarketFruits, ex.Rows[2].Market)
	assert.Equal(t, types.MarketVegetables, ex.Rows[3].Market)

	require.Len(t, ex.Headers, 3)
	for _, h := range ex.Headers {
		assert.Empty(t, headerMismatches(h.Labels), h.Section)
	}
}

func TestExtract_MissingAndEmptySections(t *testing.T) {
	ex := Extract(loadFixture(t, "empty.html"), DefaultSections)

	assert.Empty(t, ex.Rows)
	assert.Equal(t, []string{"#tab-content-Vegetables"}, ex.MissingSections)
	assert.Contains(t, ex.Snippets, "#tab-content-Grains")
	assert.Contains(t, ex.Snippets["#tab-content-Grains"], "Prices are loading")
	assert.Contains(t, ex.Snippets, "#tab-content-Fruits")
}

func TestExtract_HeaderFallbackToFirstRow(t *testing.T) {
	html := `<div id="s"><table>
		<tr><td>Product Name</td><td>Price</td><td>Quantity Type</td><td>Date</td><td>Change</td><td>Previous Price</td></tr>
		<tr><td>Beans</td><td>R 20,00</td><td>per kg</td><td>2025-03-14</td><td>1%</td><td>R 19,80</td></tr>
	</table></div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	ex := Extract(doc, []Section{{Selector: "#s", Market: "Test Market"}})

	require.Len(t, ex.Headers, 1)
	assert.Equal(t, "Product Name", ex.Headers[0].Labels[0])
	require.Len(t, ex.Rows, 1)
	assert.Equal(t, "Beans", ex.Rows[0].CropName)
	assert.Equal(t, 1, ex.Dropped)
}

func TestHeaderMismatches(t *testing.T) {
	assert.Nil(t, headerMismatches(nil))
	assert.Empty(t, headerMismatches([]string{"product name", " PRICE ", "Quantity Type", "Date", "Change", "Previous Price", "Volume"}))
	assert.Equal(t, []int{0, 2}, headerMismatches([]string{"Commodity", "Price", "Unit", "Date", "Change", "Previous Price"}))
	assert.Equal(t, []int{4, 5}, headerMismatches([]string{"Product Name", "Price", "Quantity Type", "Date"}))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "éé", truncateRunes("ééé", 2))
}

func TestNormalize(t *testing.T) {
	now := time.Date(2025, 3, 15, 6, 0, 0, 0, time.UTC)
	n := Normalizer{Region: "South Africa", Location: SAST}

	ex := Extract(loadFixture(t, "prices.html"), DefaultSections)
	rows, dropped := n.NormalizeAll(ex.Rows, now)
	require.Len(t, rows, 4)
	assert.Zero(t, dropped)

	maize := rows[0]
	assert.Equal(t, "3755", maize.CurrentPrice.String())
	assert.Equal(t, "3851", maize.PreviousPrice.String())
	assert.InDelta(t, -2.5, maize.PriceChange, 1e-9)
	assert.Equal(t, types.TrendDown, maize.Trend)
	assert.Equal(t, time.Date(2025, 3, 13, 22, 0, 0, 0, time.UTC), maize.LastUpdated)
	assert.Equal(t, "South Africa", maize.Region)
	assert.Equal(t, "", maize.Volume)

	wheat := rows[1]
	assert.True(t, wheat.PreviousPrice.Equal(wheat.CurrentPrice), "missing previous takes current")
	assert.Equal(t, types.TrendUp, wheat.Trend)

	apples := rows[2]
	assert.Equal(t, "12.4", apples.PreviousPrice.String(), "zero previous takes current")
	assert.Equal(t, types.DefaultUnit, apples.Unit)
	assert.Equal(t, now, apples.LastUpdated)

	potatoes := rows[3]
	assert.Zero(t, potatoes.PriceChange)
	assert.Equal(t, types.TrendStable, potatoes.Trend)
}

func TestNormalize_EdgeCases(t *testing.T) {
	now := time.Date(2025, 3, 15, 6, 0, 0, 0, time.UTC)
	n := Normalizer{Region: "South Africa", Location: SAST}

	_, ok := n.Normalize(RawRow{CropName: "   "}, now)
	assert.False(t, ok)

	p, ok := n.Normalize(RawRow{CropName: " Carrots ", CurrentPrice: "??", Market: types.MarketVegetables}, now)
	require.True(t, ok)
	assert.Equal(t, "Carrots", p.CropName)
	assert.True(t, p.CurrentPrice.IsZero())
	assert.True(t, p.PreviousPrice.IsZero())
	assert.Equal(t, types.TrendStable, p.Trend)

	p, ok = n.Normalize(RawRow{CropName: "Onions", CurrentPrice: "R 9,999"}, now)
	require.True(t, ok)
	assert.Equal(t, "9.999", p.CurrentPrice.String(), "parsed precision kept")
	assert.Equal(t, "9.999", p.PreviousPrice.String())
}
