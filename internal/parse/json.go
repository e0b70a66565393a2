package parse

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// decodeRecord parses a JSON object into a key-value map. Keys pass
// through untouched; normalization happens downstream.
func decodeRecord(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, eris.Wrap(err, "decode json record")
	}
	if rec == nil {
		return nil, eris.New("json record is null")
	}
	return rec, nil
}
