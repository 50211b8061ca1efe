package marketdata

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Markets recognized in the prepared universe.
const (
	MarketTWSE = "TWSE"
	MarketTWO  = "TWO"
)

// Row is one instrument in the prepared daily dataset. The column set is the
// stable bridge schema between the prepare step and everything downstream.
type Row struct {
	Code            string
	Name            string
	Market          string
	Close           float64
	Volume          float64
	TradeValue      float64
	Turnover        float64
	ShortUsedRatio  float64
	MarginUsedRatio float64
}

// Columns is the canonical column order of the prepared dataset.
var Columns = []string{
	"code",
	"name",
	"market",
	"close",
	"volume",
	"trade_value",
	"turnover",
	"short_used_ratio",
	"margin_used_ratio",
}

var commonStockRe = regexp.MustCompile(`^[1-9]\d{3}$`)

// IsCommonStockCode reports whether code is a 4-digit common-stock code
// (1000-9999). ETF/ETN, warrants and convertibles use other shapes.
func IsCommonStockCode(code string) bool {
	return commonStockRe.MatchString(strings.TrimSpace(code))
}

var codeSuffixRe = regexp.MustCompile(`(?i)\.TWO$|\.TW$|\.T$`)

// CleanCode strips exchange suffixes and whitespace from an instrument code.
func CleanCode(code string) string {
	c := strings.TrimSpace(code)
	c = codeSuffixRe.ReplaceAllString(c, "")
	return strings.TrimSpace(c)
}

// ParseFloat converts an exchange-formatted number ("1,234.5", "-", "—")
// to a float64. Unparseable values come back as NaN.
func ParseFloat(s string) float64 {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || s == "—" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// ParseFloatOrZero is ParseFloat with NaN collapsed to zero, for fields
// where absence means "none" rather than "unknown".
func ParseFloatOrZero(s string) float64 {
	v := ParseFloat(s)
	if math.IsNaN(v) {
		return 0
	}
	return v
}
