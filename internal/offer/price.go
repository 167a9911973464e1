package offer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrPriceUnreadable marks a candidate whose price could not be read or
// parsed. Such a candidate can never match an expected price.
var ErrPriceUnreadable = errors.New("offer price unreadable")

var priceRe = regexp.MustCompile(`\$?\s*([\d,]+(?:\.\d+)?)`)

// ParsePrice extracts the first amount from display text such as
// "$1,234.56" or "US$29.74 with 5 percent savings".
func ParsePrice(text string) (decimal.Decimal, error) {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrPriceUnreadable, text)
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrPriceUnreadable, text, err)
	}
	return d, nil
}
