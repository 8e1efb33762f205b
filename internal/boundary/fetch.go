package boundary

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/fetcher"
	"github.com/sells-group/zipatlas/internal/resilience"
)

// FetchOptions configures boundary archive acquisition.
type FetchOptions struct {
	Product Product
	Year    int
	DestDir string
	URL     string // overrides the catalog URL when set
	UseFTP  bool
	Refresh bool // re-check an existing archive against the remote ETag

	HTTP  *fetcher.HTTPFetcher
	FTP   *fetcher.FTPFetcher
	Retry *resilience.RetryConfig // overrides the default FTP retry shaping
}

// Fetch downloads the boundary archive, extracts it, and returns the path to
// the extracted .shp file. An archive already present on disk is reused
// unless Refresh is set, in which case the remote ETag decides.
func Fetch(ctx context.Context, opts FetchOptions) (string, error) {
	if opts.Product.Name == "" {
		opts.Product = ZCTA5
	}
	if opts.Year <= 0 {
		opts.Year = DefaultYear
	}
	if opts.HTTP == nil {
		opts.HTTP = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			RateLimiters: fetcher.DefaultRateLimiters(),
		})
	}
	if opts.FTP == nil {
		opts.FTP = fetcher.NewFTPFetcher(fetcher.FTPOptions{})
	}

	url := opts.URL
	if url == "" {
		if opts.UseFTP {
			url = FTPDownloadURL(opts.Product, opts.Year)
		} else {
			url = DownloadURL(opts.Product, opts.Year)
		}
	}

	log := zap.L().With(
		zap.String("component", "boundary.fetch"),
		zap.String("url", url),
	)

	if err := os.MkdirAll(opts.DestDir, 0o755); err != nil {
		return "", eris.Wrap(err, "boundary: create dest dir")
	}

	parts := strings.Split(url, "/")
	zipName := parts[len(parts)-1]
	zipPath := filepath.Join(opts.DestDir, zipName)

	info, statErr := os.Stat(zipPath)
	exists := statErr == nil && info.Size() > 0

	switch {
	case exists && !opts.Refresh:
		log.Debug("archive already exists, skipping download", zap.String("path", zipPath))

	case exists && opts.Refresh && !opts.UseFTP:
		if err := refreshArchive(ctx, opts.HTTP, url, zipPath, log); err != nil {
			return "", err
		}

	default:
		log.Info("downloading boundary archive")
		if err := downloadArchive(ctx, opts, url, zipPath); err != nil {
			return "", err
		}
		if !opts.UseFTP {
			// Record the ETag so later --refresh runs can skip unchanged archives.
			if etag, err := opts.HTTP.HeadETag(ctx, url); err == nil && etag != "" {
				writeETag(zipPath, etag)
			}
		}
	}

	extractDir := filepath.Join(opts.DestDir, strings.TrimSuffix(zipName, ".zip"))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "boundary: create extract dir")
	}
	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "boundary: extract archive")
	}

	shpPath, err := findShapefile(extractDir)
	if err != nil {
		return "", err
	}

	return shpPath, nil
}

func downloadArchive(ctx context.Context, opts FetchOptions, url, zipPath string) error {
	if opts.UseFTP {
		// The FTP fetcher has no built-in retry, so wrap the transfer.
		cfg := resilience.DefaultRetryConfig()
		if opts.Retry != nil {
			cfg = *opts.Retry
		}
		if cfg.OnRetry == nil {
			cfg.OnRetry = resilience.RetryLogger("census-ftp", "download")
		}
		return resilience.Do(ctx, cfg, func(ctx context.Context) error {
			_, err := opts.FTP.DownloadToFile(ctx, url, zipPath)
			return err
		})
	}

	if _, err := opts.HTTP.DownloadToFile(ctx, url, zipPath); err != nil {
		return eris.Wrap(err, "boundary: download archive")
	}
	return nil
}

func refreshArchive(ctx context.Context, f *fetcher.HTTPFetcher, url, zipPath string, log *zap.Logger) error {
	etag := readETag(zipPath)

	body, newETag, changed, err := f.DownloadIfChanged(ctx, url, etag)
	if err != nil {
		return eris.Wrap(err, "boundary: refresh archive")
	}
	if !changed {
		log.Debug("archive unchanged upstream", zap.String("etag", etag))
		return nil
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(zipPath)
	if err != nil {
		return eris.Wrap(err, "boundary: create archive file")
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(file, body); err != nil {
		return eris.Wrap(err, "boundary: write archive file")
	}

	log.Info("archive refreshed", zap.String("etag", newETag))
	if newETag != "" {
		writeETag(zipPath, newETag)
	}
	return nil
}

// writeETag stores the archive's ETag in a sidecar file next to the ZIP.
func writeETag(zipPath, etag string) {
	if err := os.WriteFile(zipPath+".etag", []byte(etag), 0o644); err != nil {
		zap.L().Debug("boundary: write etag sidecar", zap.Error(err))
	}
}

func readETag(zipPath string) string {
	data, err := os.ReadFile(zipPath + ".etag")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// findShapefile returns the first .shp file in dir.
func findShapefile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "boundary: read extract dir")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".shp") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("boundary: no .shp file found in %s", dir)
}
