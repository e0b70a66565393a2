// Package parse normalizes input tax documents into the canonical
// intermediate the extraction flows consume: a key-value record for
// structured inputs, a flattened text block for word-processing and PDF
// documents. Parsing is a pure transform over bytes; callers own fetching
// and cleanup of the underlying sources.
package parse

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind declares how an input document should be decoded.
type Kind string

const (
	KindJSON Kind = "json-record"
	KindWord Kind = "word-document"
	KindPDF  Kind = "pdf-document"
)

// KindFromPath infers the document kind from a file extension.
func KindFromPath(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return KindJSON, nil
	case ".docx":
		return KindWord, nil
	case ".pdf":
		return KindPDF, nil
	default:
		return "", eris.Errorf("parse: cannot infer document kind from %q", path)
	}
}

// Error reports an input document that could not be decoded for its
// declared kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Document is the canonical intermediate form. Exactly one of Record or
// Text is populated, depending on the kind.
type Document struct {
	Kind   Kind
	Record map[string]any
	Text   string
}

// PromptText renders the document as the single text block the request
// builder substitutes into a template. Records serialize as indented JSON
// so key-value structure survives into the prompt.
func (d Document) PromptText() string {
	if d.Record != nil {
		b, err := json.MarshalIndent(d.Record, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", d.Record)
		}
		return string(b)
	}
	return d.Text
}

// Normalize decodes data according to kind. Any decode failure surfaces as
// a *Error carrying the kind and the underlying cause.
func Normalize(data []byte, kind Kind) (Document, error) {
	switch kind {
	case KindJSON:
		rec, err := decodeRecord(data)
		if err != nil {
			return Document{}, &Error{Kind: kind, Err: err}
		}
		return Document{Kind: kind, Record: rec}, nil
	case KindWord:
		text, err := extractWordText(data)
		if err != nil {
			return Document{}, &Error{Kind: kind, Err: err}
		}
		return Document{Kind: kind, Text: text}, nil
	case KindPDF:
		text, err := extractPDFText(data)
		if err != nil {
			return Document{}, &Error{Kind: kind, Err: err}
		}
		return Document{Kind: kind, Text: text}, nil
	default:
		return Document{}, &Error{Kind: kind, Err: eris.Errorf("unsupported document kind %q", kind)}
	}
}

// NormalizeReader buffers r fully, then normalizes. Document kinds need
// random access, so streaming sources are read to completion first.
func NormalizeReader(r io.Reader, kind Kind) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, &Error{Kind: kind, Err: eris.Wrap(err, "read source")}
	}
	return Normalize(data, kind)
}
