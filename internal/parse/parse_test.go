package parse

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		want    Kind
		wantErr bool
	}{
		{"return_2023.json", KindJSON, false},
		{"/tmp/docs/Return 2024.DOCX", KindWord, false},
		{"scan.pdf", KindPDF, false},
		{"notes.txt", "", true},
		{"archive", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, err := KindFromPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeJSONRecord(t *testing.T) {
	t.Parallel()

	doc, err := Normalize([]byte(`{"wages": 75000.50, "filing_status": "single"}`), KindJSON)
	require.NoError(t, err)
	assert.Equal(t, KindJSON, doc.Kind)
	require.NotNil(t, doc.Record)
	assert.Contains(t, doc.Record, "wages")

	// Numbers survive as written, no float re-rendering.
	text := doc.PromptText()
	assert.Contains(t, text, "75000.50")
	assert.Contains(t, text, `"filing_status": "single"`)
}

func TestNormalizeJSONRecordErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"wages": `},
		{"null", `null`},
		{"array not object", `[1, 2, 3]`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize([]byte(tt.data), KindJSON)
			require.Error(t, err)
			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, KindJSON, perr.Kind)
		})
	}
}

const wordDocXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Tax Return 2023</w:t></w:r></w:p>
    <w:p><w:r><w:t>Filing status: </w:t></w:r><w:r><w:t>Single</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Wages</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>75000</w:t></w:r></w:p></w:tc>
      </w:tr>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Refund</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>1200</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
  </w:body>
</w:document>`

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestNormalizeWordDocument(t *testing.T) {
	t.Parallel()

	doc, err := Normalize(buildDocx(t, wordDocXML), KindWord)
	require.NoError(t, err)
	assert.Equal(t, KindWord, doc.Kind)

	lines := strings.Split(doc.Text, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Tax Return 2023", lines[0])
	assert.Equal(t, "Filing status: Single", lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "Tables:", lines[3])
	assert.Equal(t, "Wages\t75000", lines[4])
	assert.Equal(t, "Refund\t1200", lines[5])
}

func TestNormalizeWordDocumentNoTables(t *testing.T) {
	t.Parallel()

	xml := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body><w:p><w:r><w:t>Just one paragraph</w:t></w:r></w:p></w:body>
</w:document>`

	doc, err := Normalize(buildDocx(t, xml), KindWord)
	require.NoError(t, err)
	assert.Equal(t, "Just one paragraph", doc.Text)
	assert.NotContains(t, doc.Text, "Tables:")
}

func TestNormalizeWordDocumentErrors(t *testing.T) {
	t.Parallel()

	// Not a zip archive at all.
	_, err := Normalize([]byte("plain text, not a docx"), KindWord)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindWord, perr.Kind)

	// Zip archive without the document part.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, werr := zw.Create("word/other.xml")
	require.NoError(t, werr)
	_, werr = w.Write([]byte("<x/>"))
	require.NoError(t, werr)
	require.NoError(t, zw.Close())

	_, err = Normalize(buf.Bytes(), KindWord)
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "document.xml")

	// Valid archive, malformed XML.
	_, err = Normalize(buildDocx(t, "<w:document><unclosed"), KindWord)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindWord, perr.Kind)
}

func TestNormalizePDFErrors(t *testing.T) {
	t.Parallel()

	_, err := Normalize([]byte("not a pdf"), KindPDF)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindPDF, perr.Kind)
}

func TestNormalizeUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := Normalize([]byte("{}"), Kind("spreadsheet"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported document kind")
}

func TestNormalizeReader(t *testing.T) {
	t.Parallel()

	doc, err := NormalizeReader(strings.NewReader(`{"income": 60000}`), KindJSON)
	require.NoError(t, err)
	assert.Contains(t, doc.Record, "income")
}
