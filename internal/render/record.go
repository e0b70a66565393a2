package render

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// Record renders the machine-readable artifact: a 2-space-indented JSON
// array of metric objects with stable key order and raw numeric values.
// Identical datasets produce identical bytes.
func Record(ds model.Dataset) ([]byte, error) {
	b, err := json.MarshalIndent(ds.Metrics, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "render: marshal record")
	}
	return append(b, '\n'), nil
}
