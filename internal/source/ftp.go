package source

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions adjusts the FTP fetcher. A zero Timeout takes defaultTimeout.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher retrieves documents from FTP drops. A few filing services
// still publish client returns on plain FTP, so the resolver keeps this
// path alive next to HTTP.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher builds a fetcher, filling in the default timeout.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	return &FTPFetcher{opts: opts}
}

// ftpTarget is the dial plan for one FTP URL: server address, remote
// path, and the login taken from the URL userinfo. URLs without
// userinfo log in as anonymous.
type ftpTarget struct {
	host string
	path string
	user string
	pass string
}

// parseFTPURL splits an FTP URL into its dial plan.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "source: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("source: ftp fetcher got scheme %q", u.Scheme)
	}
	if u.Path == "" {
		return ftpTarget{}, eris.Errorf("source: ftp url %s has no path", rawURL)
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", pass: "anonymous@"}
	if _, _, err := net.SplitHostPort(t.host); err != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			t.pass = pass
		}
	}

	return t, nil
}

// ftpStream is the body of an FTP retrieval. Closing it finishes the
// transfer and quits the control connection.
type ftpStream struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (s *ftpStream) Read(p []byte) (int, error) {
	return s.resp.Read(p)
}

func (s *ftpStream) Close() error {
	err := s.resp.Close()
	if quitErr := s.conn.Quit(); err == nil {
		err = quitErr
	}
	if err != nil {
		return eris.Wrap(err, "source: close ftp stream")
	}
	return nil
}

// Download logs in to the server named by ftpURL and starts retrieving
// the file. The returned reader streams the transfer; closing it
// releases the connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	target, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp retrieval",
		zap.String("host", target.host),
		zap.String("path", target.path),
		zap.String("user", target.user),
	)

	conn, err := ftp.Dial(target.host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.opts.Timeout))
	if err != nil {
		return nil, eris.Wrapf(err, "source: dial %s", target.host)
	}
	if err := conn.Login(target.user, target.pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "source: ftp login as %s", target.user)
	}

	resp, err := conn.Retr(target.path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "source: retrieve %s", target.path)
	}

	return &ftpStream{resp: resp, conn: conn}, nil
}
