package render

import (
	"bytes"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// Sheet layout constants match the long-standing report format clients
// already consume.
const (
	sheetName     = "Tax Comparison"
	headerFill    = "FFD7E4BC"
	labelColWidth = 40
	valueColWidth = 15
)

// Spreadsheet renders the flat spreadsheet artifact: one header row, one
// row per metric in dataset order, formatted the same as the document.
func Spreadsheet(ds model.Dataset) ([]byte, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return nil, eris.Wrap(err, "render: add sheet")
	}

	sheet.SetColWidth(0, 0, labelColWidth)
	sheet.SetColWidth(1, 3, valueColWidth)

	headerStyle := xlsx.NewStyle()
	headerStyle.Font.Bold = true
	headerStyle.Fill = *xlsx.NewFill("solid", headerFill, "FF000000")
	headerStyle.Border = *xlsx.NewBorder("thin", "thin", "thin", "thin")
	headerStyle.ApplyFont = true
	headerStyle.ApplyFill = true
	headerStyle.ApplyBorder = true

	header := sheet.AddRow()
	for _, title := range []string{"Metric", ds.YearALabel, ds.YearBLabel, "Difference"} {
		cell := header.AddCell()
		cell.Value = title
		cell.SetStyle(headerStyle)
	}

	for _, m := range ds.Metrics {
		row := sheet.AddRow()
		row.AddCell().Value = DisplayLabel(m.Category)
		row.AddCell().Value = Value(m.Category, m.YearAValue)
		row.AddCell().Value = Value(m.Category, m.YearBValue)
		row.AddCell().Value = Delta(m.Category, m.Difference)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "render: write spreadsheet")
	}
	return buf.Bytes(), nil
}
