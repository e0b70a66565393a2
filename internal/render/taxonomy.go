// Package render turns a comparison dataset into the three synchronized
// artifacts: the tabular PDF document, the flat spreadsheet, and the
// machine-readable JSON record. Rendering is all-or-nothing: artifacts are
// produced in memory and nothing is written unless all three succeed.
package render

import (
	"strings"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// Bucket is one fixed display category with its ordered match rules.
type Bucket struct {
	Name  string
	Rules []string
}

// otherBucket catches every identifier no rule claims.
const otherBucket = "OTHER"

// buckets is the fixed taxonomy in display order. Matching is first match
// wins, scanning buckets in this order and rules in their listed order, so
// REFUND lands in PAYMENTS even though FINAL OUTCOMES also lists it.
var buckets = []Bucket{
	{Name: "PERSONAL INFORMATION", Rules: []string{"FILING", "DEPENDENT"}},
	{Name: "INCOME", Rules: []string{"WAGES", "INTEREST", "DIVIDEND", "BUSINESS", "CAPITAL", "RENTAL", "TOTAL_INCOME"}},
	{Name: "ADJUSTMENTS", Rules: []string{"IRA_DEDUCTION", "STUDENT", "SELF_EMPLOYED", "HEALTH", "ADJUSTMENT", "ADJUSTED_GROSS"}},
	{Name: "DEDUCTIONS", Rules: []string{"MEDICAL", "STATE", "TAX", "MORTGAGE", "CHARITABLE", "DEDUCTION"}},
	{Name: "TAX CALCULATION", Rules: []string{"TAXABLE", "LIABILITY", "ALTERNATIVE", "CALCULATION"}},
	{Name: "CREDITS", Rules: []string{"CREDIT"}},
	{Name: "PAYMENTS", Rules: []string{"WITHHELD", "ESTIMATED", "PAYMENT", "REFUND"}},
	{Name: "FINAL OUTCOMES", Rules: []string{"TOTAL_TAX", "OVERPAYMENT", "REFUND", "AMOUNT_OWED", "EFFECTIVE", "MARGINAL"}},
}

// Categorize assigns a canonical identifier to its display bucket.
func Categorize(category string) string {
	for _, b := range buckets {
		for _, rule := range b.Rules {
			if strings.Contains(category, rule) {
				return b.Name
			}
		}
	}
	return otherBucket
}

// Group is one non-empty bucket with its metrics in dataset order.
type Group struct {
	Name    string
	Metrics []model.Metric
}

// GroupMetrics buckets a dataset's metrics for the document artifact.
// Buckets come out in display order, metrics keep dataset order within
// their bucket, and empty buckets are omitted.
func GroupMetrics(metrics []model.Metric) []Group {
	byBucket := make(map[string][]model.Metric, len(buckets)+1)
	for _, m := range metrics {
		name := Categorize(m.Category)
		byBucket[name] = append(byBucket[name], m)
	}

	groups := make([]Group, 0, len(byBucket))
	for _, b := range buckets {
		if ms, ok := byBucket[b.Name]; ok {
			groups = append(groups, Group{Name: b.Name, Metrics: ms})
		}
	}
	if ms, ok := byBucket[otherBucket]; ok {
		groups = append(groups, Group{Name: otherBucket, Metrics: ms})
	}
	return groups
}

// Polarity says which direction of change is favorable for a metric.
type Polarity int

const (
	HigherFavorable Polarity = iota
	LowerFavorable
)

// polarityRules is the explicit favorability table, first match wins.
// Order matters: REFUND, OVERPAYMENT, and TAX_CREDIT must outrank the
// broader TAX rule.
var polarityRules = []struct {
	Substring string
	Polarity  Polarity
}{
	{"REFUND", HigherFavorable},
	{"OVERPAYMENT", HigherFavorable},
	{"TAX_CREDIT", HigherFavorable},
	{"OWED", LowerFavorable},
	{"TAX", LowerFavorable},
	{"LIABILITY", LowerFavorable},
}

// PolarityOf returns the favorability direction for a canonical
// identifier. The default is higher-favorable: most metrics are
// income-like.
func PolarityOf(category string) Polarity {
	for _, rule := range polarityRules {
		if strings.Contains(category, rule.Substring) {
			return rule.Polarity
		}
	}
	return HigherFavorable
}

// Favorability scores a difference for display: +1 favorable, -1
// unfavorable, 0 for no change.
func Favorability(category string, difference float64) int {
	if difference == 0 {
		return 0
	}
	higher := difference > 0
	if PolarityOf(category) == HigherFavorable {
		if higher {
			return 1
		}
		return -1
	}
	if higher {
		return -1
	}
	return 1
}
