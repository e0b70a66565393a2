package parse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Word documents are zip archives; the text lives in word/document.xml.
// Body-level paragraphs come out one per line in document order. Tables
// are appended after a literal "Tables:" header, one row per line with
// cells joined by tabs, so label/value pairs stay adjacent for extraction.

type wordDocument struct {
	Body wordBody `xml:"body"`
}

type wordBody struct {
	Paragraphs []wordParagraph `xml:"p"`
	Tables     []wordTable     `xml:"tbl"`
}

type wordParagraph struct {
	Runs []wordRun `xml:"r"`
}

type wordRun struct {
	Text []string `xml:"t"`
	Tabs []struct{} `xml:"tab"`
}

type wordTable struct {
	Rows []wordTableRow `xml:"tr"`
}

type wordTableRow struct {
	Cells []wordTableCell `xml:"tc"`
}

type wordTableCell struct {
	Paragraphs []wordParagraph `xml:"p"`
}

func extractWordText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "open docx archive")
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return "", eris.Wrap(err, "open word/document.xml")
			}
			docXML, err = io.ReadAll(rc)
			rc.Close() //nolint:errcheck
			if err != nil {
				return "", eris.Wrap(err, "read word/document.xml")
			}
			break
		}
	}
	if docXML == nil {
		return "", eris.New("word/document.xml not found in archive")
	}

	var doc wordDocument
	if err := xml.Unmarshal(docXML, &doc); err != nil {
		return "", eris.Wrap(err, "unmarshal word/document.xml")
	}

	var b strings.Builder
	for _, p := range doc.Body.Paragraphs {
		b.WriteString(paragraphText(p))
		b.WriteString("\n")
	}

	if len(doc.Body.Tables) > 0 {
		b.WriteString("\nTables:\n")
		for _, tbl := range doc.Body.Tables {
			for _, row := range tbl.Rows {
				cells := make([]string, 0, len(row.Cells))
				for _, cell := range row.Cells {
					var ct []string
					for _, p := range cell.Paragraphs {
						ct = append(ct, paragraphText(p))
					}
					cells = append(cells, strings.Join(ct, " "))
				}
				b.WriteString(strings.Join(cells, "\t"))
				b.WriteString("\n")
			}
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func paragraphText(p wordParagraph) string {
	var b strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Text {
			b.WriteString(t)
		}
		for range r.Tabs {
			b.WriteString("\t")
		}
	}
	return b.String()
}
