// Package fetcher resolves a dataset source (local path, http(s) or ftp URL,
// optionally zipped) to a local file the dataset loaders can read.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// DatasetExtensions are the file types the dataset loaders accept.
var DatasetExtensions = []string{".json", ".csv", ".xlsx"}

// Resolver maps dataset sources to local files.
type Resolver struct {
	HTTP Fetcher
	FTP  Fetcher
	// Dir receives downloads and extracted archives. Empty uses os.TempDir.
	Dir string
}

// NewResolver returns a Resolver with default HTTP and FTP fetchers.
func NewResolver(dir string) *Resolver {
	return &Resolver{
		HTTP: NewHTTPFetcher(HTTPOptions{}),
		FTP:  NewFTPFetcher(FTPOptions{}),
		Dir:  dir,
	}
}

// IsRemote reports whether src is a URL the Resolver downloads.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// Resolve returns a local path for src. Remote sources are downloaded; zip
// archives are extracted to their first dataset file. Local non-zip paths
// are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, src string) (string, error) {
	local := src
	if IsRemote(src) {
		p, err := r.download(ctx, src)
		if err != nil {
			return "", err
		}
		local = p
	}
	if strings.EqualFold(filepath.Ext(local), ".zip") {
		dir, err := r.workDir("grantscope-unzip-*")
		if err != nil {
			return "", err
		}
		return ExtractDataset(local, dir)
	}
	return local, nil
}

func (r *Resolver) download(ctx context.Context, src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: parse url")
	}
	f := r.HTTP
	if u.Scheme == "ftp" {
		f = r.FTP
	}
	if f == nil {
		return "", eris.Errorf("fetcher: no fetcher for %s", u.Scheme)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "dataset.json"
	}
	dir, err := r.workDir("grantscope-fetch-*")
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)

	n, err := DownloadToFile(ctx, f, src, dest)
	if err != nil {
		return "", err
	}
	zap.L().Info("fetcher: dataset downloaded", zap.String("url", src), zap.String("path", dest), zap.Int64("bytes", n))
	return dest, nil
}

func (r *Resolver) workDir(pattern string) (string, error) {
	dir, err := os.MkdirTemp(r.Dir, pattern)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create work dir")
	}
	return dir, nil
}

// DownloadToFile downloads url with f and writes it to dest. Returns bytes
// written.
func DownloadToFile(ctx context.Context, f Fetcher, url, dest string) (int64, error) {
	rc, err := f.Download(ctx, url)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	n, err := io.Copy(file, rc)
	if err != nil {
		file.Close()
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, eris.Wrap(file.Close(), "fetcher: close file")
}
