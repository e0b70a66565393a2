package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxcomp-cli/internal/parse"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref  string
		want parse.Kind
	}{
		{"returns/2023.json", parse.KindJSON},
		{"/data/return_2024.docx", parse.KindWord},
		{"Return.PDF", parse.KindPDF},
		{"https://portal.example.com/docs/2023.json?version=2", parse.KindJSON},
		{"ftp://drop.example.com/returns/2024.pdf", parse.KindPDF},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.ref, func(t *testing.T) {
			t.Parallel()
			kind, err := KindOf(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestKindOf_UnknownExtension(t *testing.T) {
	t.Parallel()

	_, err := KindOf("notes.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot infer document kind")
}

func TestMaterialize_LocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "return_2023.json")
	content := []byte(`{"wages": 75000}`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	doc, err := NewResolver().Materialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, doc.Ref)
	assert.Equal(t, parse.KindJSON, doc.Kind)
	assert.Equal(t, content, doc.Data)
}

func TestMaterialize_LocalFileMissing(t *testing.T) {
	t.Parallel()

	_, err := NewResolver().Materialize(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestMaterialize_HTTP(t *testing.T) {
	t.Parallel()

	content := []byte(`{"wages": 80000}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clients/acme/return_2024.json", r.URL.Path)
		w.Write(content) //nolint:errcheck
	}))
	defer srv.Close()

	doc, err := NewResolver().Materialize(context.Background(), srv.URL+"/clients/acme/return_2024.json")
	require.NoError(t, err)
	assert.Equal(t, parse.KindJSON, doc.Kind)
	assert.Equal(t, content, doc.Data)
}

func TestMaterialize_HTTPNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewResolver().Materialize(context.Background(), srv.URL+"/gone.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestMaterialize_UnknownKindSkipsFetch(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	_, err := NewResolver().Materialize(context.Background(), srv.URL+"/notes.txt")
	require.Error(t, err)
	assert.Zero(t, hits)
}
