package device

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Package references firmware content. The sequencer never looks inside it;
// it is handed unmodified to the Transferer.
type Package struct {
	Path string `json:"path"`

	// Images lists the image kinds found in a DFU zip manifest
	// (application, bootloader, softdevice, softdevice_bootloader).
	// Empty for packages that are not zip archives.
	Images []string `json:"images,omitempty"`

	Size int64 `json:"size"`
}

func (p Package) String() string {
	return filepath.Base(p.Path)
}

// ErrInvalidPackage is wrapped by every error returned from OpenPackage.
var ErrInvalidPackage = errors.New("invalid firmware package")

const manifestName = "manifest.json"

// dfuManifest mirrors the top level of a DFU zip's manifest.json. Only the
// image keys are read; their contents stay opaque.
type dfuManifest struct {
	Manifest map[string]json.RawMessage `json:"manifest"`
}

// OpenPackage resolves path into a Package. The file must be a non-empty
// regular file. Zip archives must carry a manifest.json naming at least one
// image.
func OpenPackage(path string) (Package, error) {
	if path == "" {
		return Package{}, fmt.Errorf("%w: path is required", ErrInvalidPackage)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Package{}, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	if !info.Mode().IsRegular() {
		return Package{}, fmt.Errorf("%w: %s is not a regular file", ErrInvalidPackage, path)
	}
	if info.Size() == 0 {
		return Package{}, fmt.Errorf("%w: %s is empty", ErrInvalidPackage, path)
	}

	pkg := Package{Path: path, Size: info.Size()}

	if filepath.Ext(path) != ".zip" {
		return pkg, nil
	}

	images, err := readManifestImages(path)
	if err != nil {
		return Package{}, fmt.Errorf("%w: %s: %v", ErrInvalidPackage, path, err)
	}
	pkg.Images = images
	return pkg, nil
}

func readManifestImages(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != manifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open manifest: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}

		var m dfuManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		if len(m.Manifest) == 0 {
			return nil, fmt.Errorf("manifest lists no images")
		}

		images := make([]string, 0, len(m.Manifest))
		for name := range m.Manifest {
			images = append(images, name)
		}
		sort.Strings(images)
		return images, nil
	}

	return nil, fmt.Errorf("%s not found", manifestName)
}
