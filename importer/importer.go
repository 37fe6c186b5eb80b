// Package importer reads a project archive produced by the project export
// back into a diagram snapshot.
package importer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/panyam/classdraw/diagram"
	"github.com/panyam/classdraw/export"
)

var (
	ErrUnsupportedType  = errors.New("unsupported upload type, expected a .zip project archive")
	ErrArchiveTooLarge  = errors.New("project archive is too large")
	ErrMalformedArchive = errors.New("malformed project archive")
)

const DefaultMaxSize int64 = 10 << 20

var zipTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/x-zip":            true,
}

// CheckType accepts zip content types, and a generic binary upload only if
// the file name ends in .zip.
func CheckType(contentType, filename string) error {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if zipTypes[mt] {
		return nil
	}
	if mt == "application/octet-stream" && strings.EqualFold(path.Ext(filename), ".zip") {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedType, mt)
}

type Importer struct {
	MaxSize int64
}

func New(maxSize int64) *Importer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Importer{MaxSize: maxSize}
}

// Import checks the upload type before reading anything, then reads at
// most MaxSize bytes and decodes the first diagram.json in the archive.
func (im *Importer) Import(r io.Reader, contentType, filename string) (*diagram.Snapshot, error) {
	if err := CheckType(contentType, filename); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, im.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > im.MaxSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrArchiveTooLarge, im.MaxSize)
	}
	return im.ReadArchive(data)
}

func (im *Importer) ReadArchive(data []byte) (*diagram.Snapshot, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || path.Base(f.Name) != export.ProjectFile {
			continue
		}
		if f.UncompressedSize64 > uint64(im.MaxSize) {
			return nil, fmt.Errorf("%w: %s expands to %d bytes", ErrArchiveTooLarge, f.Name, f.UncompressedSize64)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
		}
		defer rc.Close()
		snap, err := diagram.DecodeSnapshot(io.LimitReader(rc, im.MaxSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
		}
		return validate(snap)
	}
	return nil, fmt.Errorf("%w: no %s found", ErrMalformedArchive, export.ProjectFile)
}

func validate(snap *diagram.Snapshot) (*diagram.Snapshot, error) {
	d, err := diagram.FromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	return d.Snapshot(), nil
}
