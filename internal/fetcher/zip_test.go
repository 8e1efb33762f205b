package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestZIP(t *testing.T, members map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range members {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_ShapefileSidecars(t *testing.T) {
	zipPath := writeTestZIP(t, map[string]string{
		"tl_2023_us_zcta520.shp": "shp bytes",
		"tl_2023_us_zcta520.shx": "shx bytes",
		"tl_2023_us_zcta520.dbf": "dbf bytes",
		"tl_2023_us_zcta520.prj": "GEOGCS[...]",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 4)

	for _, path := range extracted {
		_, err := os.Stat(path)
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(destDir, "tl_2023_us_zcta520.shp"))
	require.NoError(t, err)
	assert.Equal(t, "shp bytes", string(data))

	data, err = os.ReadFile(filepath.Join(destDir, "tl_2023_us_zcta520.prj"))
	require.NoError(t, err)
	assert.Equal(t, "GEOGCS[...]", string(data))
}

func TestExtractZIP_EscapingEntryRejected(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "malicious.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	fw, err := w.Create("../../../etc/passwd")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("malicious")) //nolint:errcheck
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	destDir := t.TempDir()
	_, err = ExtractZIP(zipPath, destDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the destination")
}

func TestExtractZIP_DirectoryEntries(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "nested.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	_, err = w.Create("shapes/")
	require.NoError(t, err)
	fw, err := w.Create("shapes/boundaries.dbf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("records")) //nolint:errcheck
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	// Directory entries are created but not reported.
	assert.Len(t, extracted, 1)

	data, err := os.ReadFile(filepath.Join(destDir, "shapes", "boundaries.dbf"))
	require.NoError(t, err)
	assert.Equal(t, "records", string(data))
}

func TestExtractZIP_MissingParentDirsCreated(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "deep.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	fw, err := w.Create("a/b/c/deep.shp")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("deep")) //nolint:errcheck
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 1)

	data, err := os.ReadFile(filepath.Join(destDir, "a", "b", "c", "deep.shp"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestExtractZIP_EmptyArchive(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "empty.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	extracted, err := ExtractZIP(zipPath, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, extracted)
}

func TestExtractZIP_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notazip.zip")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip"), 0o644))

	_, err := ExtractZIP(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip: open archive")
}

func TestExtractZIP_ReadOnlyDest(t *testing.T) {
	zipPath := writeTestZIP(t, map[string]string{
		"boundaries.shp": "shp bytes",
	})

	destDir := t.TempDir()
	require.NoError(t, os.Chmod(destDir, 0o555))
	defer os.Chmod(destDir, 0o755) //nolint:errcheck

	_, err := ExtractZIP(zipPath, destDir)
	require.Error(t, err)
}
