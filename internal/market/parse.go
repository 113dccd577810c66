package market

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	priceToken   = regexp.MustCompile(`\d+\.?\d*`)
	percentToken = regexp.MustCompile(`-?\d+\.?\d*`)
)

// ParsePrice reads a South African formatted amount such as "R 3 755,00".
// Currency marks and all whitespace (including non-breaking spaces) are
// removed, decimal commas become points, and the first numeric token is
// parsed. ok is false when no number is present.
func ParsePrice(s string) (d decimal.Decimal, ok bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == 'R' || unicode.IsSpace(r):
			return -1
		case r == ',':
			return '.'
		}
		return r
	}, s)

	tok := priceToken.FindString(cleaned)
	if tok == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(tok, "."))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParsePercentage reads a signed percentage such as "-2.5%" or "+1,2 %".
// Anything unparseable is 0.
func ParsePercentage(s string) float64 {
	cleaned := strings.NewReplacer("%", "", ",", ".", "\u2212", "-", " ", "", "\u00a0", "").Replace(s)
	tok := percentToken.FindString(strings.TrimSpace(cleaned))
	if tok == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(tok, "."), 64)
	if err != nil {
		return 0
	}
	return v
}

// dateLayouts are tried in order. Slash dates are day-first, as written on
// South African sites.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate parses a source date string. Values without a zone are read in
// loc. ok is false when no layout matches.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SAST is South African Standard Time. The country observes no DST.
var SAST = time.FixedZone("SAST", 2*60*60)
