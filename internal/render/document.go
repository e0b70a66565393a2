package render

import (
	"bytes"

	"github.com/go-pdf/fpdf"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// Table geometry in mm on A4 with default margins.
const (
	labelCellW = 80
	valueCellW = 35
	deltaCellW = 40
	rowH       = 7
)

// Document renders the grouped tabular PDF: title, run context, one table
// per non-empty bucket with color-coded differences, then the summary
// block.
func Document(ds model.Dataset) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Tax Comparison Report", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	if ds.Client != "" {
		pdf.CellFormat(0, 6, "Client: "+ds.Client, "", 1, "C", false, 0, "")
	}
	pdf.CellFormat(0, 6, ds.YearALabel+" vs "+ds.YearBLabel, "", 1, "C", false, 0, "")
	if !ds.GeneratedAt.IsZero() {
		pdf.CellFormat(0, 6, "Generated: "+ds.GeneratedAt.Format("2006-01-02 15:04:05"), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	for _, group := range GroupMetrics(ds.Metrics) {
		writeGroup(pdf, ds, group)
	}

	writeSummary(pdf, ds)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, eris.Wrap(err, "render: write document")
	}
	return buf.Bytes(), nil
}

func writeGroup(pdf *fpdf.Fpdf, ds model.Dataset, group Group) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, group.Name, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(215, 228, 188)
	pdf.CellFormat(labelCellW, rowH, "Metric", "1", 0, "L", true, 0, "")
	pdf.CellFormat(valueCellW, rowH, ds.YearALabel, "1", 0, "R", true, 0, "")
	pdf.CellFormat(valueCellW, rowH, ds.YearBLabel, "1", 0, "R", true, 0, "")
	pdf.CellFormat(deltaCellW, rowH, "Difference", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, m := range group.Metrics {
		pdf.CellFormat(labelCellW, rowH, DisplayLabel(m.Category), "1", 0, "L", false, 0, "")
		pdf.CellFormat(valueCellW, rowH, Value(m.Category, m.YearAValue), "1", 0, "R", false, 0, "")
		pdf.CellFormat(valueCellW, rowH, Value(m.Category, m.YearBValue), "1", 0, "R", false, 0, "")

		switch Favorability(m.Category, m.Difference) {
		case 1:
			pdf.SetTextColor(0, 128, 0)
		case -1:
			pdf.SetTextColor(192, 0, 0)
		}
		pdf.CellFormat(deltaCellW, rowH, Delta(m.Category, m.Difference), "1", 1, "R", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(3)
}

// writeSummary appends the adjusted gross income and total tax recap with
// a derived effective rate per year. Skipped entirely when the dataset
// carries neither anchor metric.
func writeSummary(pdf *fpdf.Fpdf, ds model.Dataset) {
	agi, hasAGI := findMetric(ds, "ADJUSTED_GROSS_INCOME")
	tax, hasTax := findMetric(ds, "TOTAL_TAX")
	if !hasAGI && !hasTax {
		return
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "SUMMARY", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)

	if hasAGI {
		writeSummaryRow(pdf, "Adjusted Gross Income", agi)
	}
	if hasTax {
		writeSummaryRow(pdf, "Total Tax", tax)
	}

	rateA, okA := effectiveRate(tax.YearAValue, agi.YearAValue)
	rateB, okB := effectiveRate(tax.YearBValue, agi.YearBValue)
	if hasAGI && hasTax && okA && okB {
		delta := rateB.Sub(rateA)
		sign := ""
		if delta.IsPositive() {
			sign = "+"
		}
		pdf.CellFormat(labelCellW, rowH, "Effective Tax Rate", "1", 0, "L", false, 0, "")
		pdf.CellFormat(valueCellW, rowH, rateA.StringFixed(2)+"%", "1", 0, "R", false, 0, "")
		pdf.CellFormat(valueCellW, rowH, rateB.StringFixed(2)+"%", "1", 0, "R", false, 0, "")
		pdf.CellFormat(deltaCellW, rowH, sign+delta.StringFixed(2)+"%", "1", 1, "R", false, 0, "")
	}
}

func writeSummaryRow(pdf *fpdf.Fpdf, label string, m model.Metric) {
	pdf.CellFormat(labelCellW, rowH, label, "1", 0, "L", false, 0, "")
	pdf.CellFormat(valueCellW, rowH, Currency(m.YearAValue), "1", 0, "R", false, 0, "")
	pdf.CellFormat(valueCellW, rowH, Currency(m.YearBValue), "1", 0, "R", false, 0, "")
	pdf.CellFormat(deltaCellW, rowH, Delta(m.Category, m.Difference), "1", 1, "R", false, 0, "")
}

func findMetric(ds model.Dataset, category string) (model.Metric, bool) {
	for _, m := range ds.Metrics {
		if m.Category == category {
			return m, true
		}
	}
	return model.Metric{}, false
}

// effectiveRate divides tax by income with decimal arithmetic, as a
// percentage to 2 places. Zero or negative income yields no rate.
func effectiveRate(tax, income float64) (decimal.Decimal, bool) {
	if income <= 0 {
		return decimal.Zero, false
	}
	rate := decimal.NewFromFloat(tax).
		Div(decimal.NewFromFloat(income)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	return rate, true
}
