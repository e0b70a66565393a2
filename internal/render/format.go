package render

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// maxLabelLen bounds display labels; longer ones truncate to 37 + "...".
const maxLabelLen = 40

var (
	titleCaser = cases.Title(language.English)
	numPrinter = message.NewPrinter(language.English)
)

// DisplayLabel turns a canonical identifier into its display form:
// underscores to spaces, title case, truncated past 40 characters.
func DisplayLabel(category string) string {
	label := titleCaser.String(strings.ReplaceAll(category, "_", " "))
	if len(label) > maxLabelLen {
		label = label[:37] + "..."
	}
	return label
}

// Currency renders a currency amount with thousands separators and two
// decimals. Negative amounts carry the sign ahead of the symbol.
func Currency(v float64) string {
	if v < 0 {
		return "-$" + numPrinter.Sprintf("%.2f", -v)
	}
	return "$" + numPrinter.Sprintf("%.2f", v)
}

// Percent renders a rate with two decimals. Fractional rates below
// magnitude 1 are stored ratios and scale by 100; anything at or above 1
// is already in percent units.
func Percent(v float64) string {
	if v != 0 && math.Abs(v) < 1 {
		v *= 100
	}
	return fmt.Sprintf("%.2f%%", v)
}

// Value renders a metric value in its natural unit: percent for rate-like
// identifiers, currency for everything else.
func Value(category string, v float64) string {
	if model.IsRateLike(category) {
		return Percent(v)
	}
	return Currency(v)
}

// Delta renders a difference with an explicit sign. Zero renders unsigned.
func Delta(category string, difference float64) string {
	switch {
	case difference > 0:
		return "+" + Value(category, difference)
	case difference < 0:
		return "-" + Value(category, -difference)
	default:
		return Value(category, 0)
	}
}
