// Package source resolves comparison inputs into document bytes for the
// normalizer. A reference can be a local path, an HTTP(S) URL, or an FTP
// URL; the document kind is detected from the reference's file extension.
package source

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/parse"
)

// Document is one materialized input, ready for normalization.
type Document struct {
	Ref  string
	Kind parse.Kind
	Data []byte
}

// Resolver dispatches references to the fetcher that can serve them.
type Resolver struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPFetcher replaces the default HTTP fetcher.
func WithHTTPFetcher(f *HTTPFetcher) Option {
	return func(r *Resolver) {
		r.http = f
	}
}

// WithFTPFetcher replaces the default FTP fetcher.
func WithFTPFetcher(f *FTPFetcher) Option {
	return func(r *Resolver) {
		r.ftp = f
	}
}

// NewResolver creates a Resolver with default fetchers.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		http: NewHTTPFetcher(HTTPOptions{}),
		ftp:  NewFTPFetcher(FTPOptions{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open returns a reader over the referenced bytes. The caller must close
// it.
func (r *Resolver) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return r.http.Download(ctx, ref)
	case strings.HasPrefix(ref, "ftp://"):
		return r.ftp.Download(ctx, ref)
	default:
		f, err := os.Open(ref)
		if err != nil {
			return nil, eris.Wrapf(err, "source: open %s", ref)
		}
		return f, nil
	}
}

// Materialize fetches the reference fully into memory and pairs it with
// its detected document kind.
func (r *Resolver) Materialize(ctx context.Context, ref string) (Document, error) {
	kind, err := KindOf(ref)
	if err != nil {
		return Document{}, err
	}
	return r.MaterializeAs(ctx, ref, kind)
}

// MaterializeAs fetches the reference fully into memory with the kind
// forced by the caller, bypassing extension detection.
func (r *Resolver) MaterializeAs(ctx context.Context, ref string, kind parse.Kind) (Document, error) {
	rc, err := r.Open(ctx, ref)
	if err != nil {
		return Document{}, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	if err != nil {
		return Document{}, eris.Wrapf(err, "source: read %s", ref)
	}

	zap.L().Debug("source: materialized input",
		zap.String("ref", ref),
		zap.String("kind", string(kind)),
		zap.Int("bytes", len(data)),
	)

	return Document{Ref: ref, Kind: kind, Data: data}, nil
}

// KindOf detects the document kind from a reference's file extension,
// ignoring any URL query or fragment.
func KindOf(ref string) (parse.Kind, error) {
	path := ref
	if strings.Contains(ref, "://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", eris.Wrapf(err, "source: parse url %s", ref)
		}
		path = u.Path
	}
	return parse.KindFromPath(path)
}
