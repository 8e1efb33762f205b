// Package fetcher downloads remote files over HTTP and FTP with per-host
// rate limiting and retry, and extracts the ZIP archives it fetches.
package fetcher

import (
	"context"
	"io"
)

// Downloader is the transfer contract shared by the HTTP and FTP fetchers.
type Downloader interface {
	// Download fetches the URL and returns the response body. The caller
	// must close it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path and returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

var (
	_ Downloader = (*HTTPFetcher)(nil)
	_ Downloader = (*FTPFetcher)(nil)
)
