package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// Error means an artifact could not be produced. When any artifact fails,
// none are written.
type Error struct {
	Artifact string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %v", e.Artifact, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Artifacts holds the three rendered outputs in memory.
type Artifacts struct {
	Document    []byte
	Spreadsheet []byte
	Record      []byte
}

// Render produces all three artifacts from one dataset, in memory. The
// dataset invariants are checked first; any violation or per-artifact
// failure aborts the whole set.
func Render(ds model.Dataset) (Artifacts, error) {
	if problems := ds.Validate(); len(problems) > 0 {
		return Artifacts{}, &Error{Artifact: "dataset", Err: eris.New(strings.Join(problems, "; "))}
	}

	record, err := Record(ds)
	if err != nil {
		return Artifacts{}, &Error{Artifact: "record", Err: err}
	}
	sheet, err := Spreadsheet(ds)
	if err != nil {
		return Artifacts{}, &Error{Artifact: "spreadsheet", Err: err}
	}
	doc, err := Document(ds)
	if err != nil {
		return Artifacts{}, &Error{Artifact: "document", Err: err}
	}

	return Artifacts{Document: doc, Spreadsheet: sheet, Record: record}, nil
}

// WriteArtifacts persists a rendered set under dir as stem.pdf, stem.xlsx,
// and stem.json. A failed write removes anything already written, so the
// directory never holds a partial set.
func WriteArtifacts(dir, stem string, a Artifacts) (model.ArtifactPaths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.ArtifactPaths{}, &Error{Artifact: "output dir", Err: err}
	}

	paths := model.ArtifactPaths{
		Document:    filepath.Join(dir, stem+".pdf"),
		Spreadsheet: filepath.Join(dir, stem+".xlsx"),
		Record:      filepath.Join(dir, stem+".json"),
	}

	written := make([]string, 0, 3)
	write := func(path string, data []byte) error {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			for _, p := range written {
				os.Remove(p) //nolint:errcheck
			}
			return &Error{Artifact: filepath.Base(path), Err: err}
		}
		written = append(written, path)
		return nil
	}

	if err := write(paths.Document, a.Document); err != nil {
		return model.ArtifactPaths{}, err
	}
	if err := write(paths.Spreadsheet, a.Spreadsheet); err != nil {
		return model.ArtifactPaths{}, err
	}
	if err := write(paths.Record, a.Record); err != nil {
		return model.ArtifactPaths{}, err
	}
	return paths, nil
}
