package device

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestOpenPackage_DFUZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app_dfu_package.zip")
	writeZip(t, path, map[string]string{
		"manifest.json": `{"manifest":{"application":{"bin_file":"app.bin","dat_file":"app.dat"},"softdevice":{"bin_file":"sd.bin","dat_file":"sd.dat"}}}`,
		"app.bin":       "firmware",
		"app.dat":       "init",
	})

	pkg, err := OpenPackage(path)
	require.NoError(t, err)
	assert.Equal(t, path, pkg.Path)
	assert.Equal(t, []string{"application", "softdevice"}, pkg.Images)
	assert.Greater(t, pkg.Size, int64(0))
	assert.Equal(t, "app_dfu_package.zip", pkg.String())
}

func TestOpenPackage_RawImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x01, 0x02}, 0644))

	pkg, err := OpenPackage(path)
	require.NoError(t, err)
	assert.Empty(t, pkg.Images)
	assert.Equal(t, int64(2), pkg.Size)
}

func TestOpenPackage_Errors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	noManifest := filepath.Join(dir, "nomanifest.zip")
	writeZip(t, noManifest, map[string]string{"app.bin": "x"})

	badManifest := filepath.Join(dir, "bad.zip")
	writeZip(t, badManifest, map[string]string{"manifest.json": `{"manifest":{}}`})

	notZip := filepath.Join(dir, "corrupt.zip")
	require.NoError(t, os.WriteFile(notZip, []byte("not a zip"), 0644))

	tests := []struct {
		name    string
		path    string
		wantMsg string
	}{
		{"empty path", "", "path is required"},
		{"missing", filepath.Join(dir, "missing.zip"), "no such file"},
		{"directory", dir, "not a regular file"},
		{"empty file", empty, "is empty"},
		{"zip without manifest", noManifest, "manifest.json not found"},
		{"manifest without images", badManifest, "lists no images"},
		{"corrupt zip", notZip, "open zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenPackage(tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPackage)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
