// Package model unpacks model archives and locates the files a model
// directory provides.
package model

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-onnx-bridge/internal/status"
)

var (
	ErrBadArchive = fmt.Errorf("bad archive: %w", status.ErrInvalidParams)
	ErrUnsafePath = fmt.Errorf("unsafe archive path: %w", status.ErrInvalidParams)
)

// ExtractTarBz2 unpacks a .tar.bz2 archive into dest, creating it if needed.
func ExtractTarBz2(archivePath, dest string) error {
	return extractTarFile(archivePath, dest, func(r io.Reader) (io.Reader, error) {
		return bzip2.NewReader(r), nil
	})
}

func ExtractTarGz(archivePath, dest string) error {
	return extractTarFile(archivePath, dest, func(r io.Reader) (io.Reader, error) {
		return gzip.NewReader(r)
	})
}

// Extract picks the unpacker from the file name, falling back to the
// leading magic bytes for names without a known suffix.
func Extract(archivePath, dest string) error {
	base := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(base, ".tar.bz2"), strings.HasSuffix(base, ".tbz2"):
		return ExtractTarBz2(archivePath, dest)
	case strings.HasSuffix(base, ".tar.gz"), strings.HasSuffix(base, ".tgz"):
		return ExtractTarGz(archivePath, dest)
	case strings.HasSuffix(base, ".zip"):
		return ExtractZip(archivePath, dest)
	}

	magic, err := readMagic(archivePath)
	if err != nil {
		return err
	}

	switch {
	case bytes.HasPrefix(magic, []byte("BZh")):
		return ExtractTarBz2(archivePath, dest)
	case bytes.HasPrefix(magic, []byte{0x1f, 0x8b}):
		return ExtractTarGz(archivePath, dest)
	case bytes.HasPrefix(magic, []byte("PK\x03\x04")):
		return ExtractZip(archivePath, dest)
	default:
		return fmt.Errorf("%s: expected .tar.bz2, .tar.gz or .zip: %w", archivePath, ErrBadArchive)
	}
}

func readMagic(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %v: %w", err, ErrBadArchive)
	}
	defer func() { _ = fh.Close() }()

	magic := make([]byte, 4)
	n, err := io.ReadFull(fh, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read archive header: %v: %w", err, ErrBadArchive)
	}

	return magic[:n], nil
}

func extractTarFile(archivePath, dest string, decompress func(io.Reader) (io.Reader, error)) error {
	fh, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %v: %w", err, ErrBadArchive)
	}
	defer func() { _ = fh.Close() }()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	r, err := decompress(bufio.NewReader(fh))
	if err != nil {
		return fmt.Errorf("open %s: %v: %w", archivePath, err, ErrBadArchive)
	}

	if c, ok := r.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	files, err := extractTar(r, dest)
	if err != nil {
		return err
	}

	slog.Info("extracted archive", "archive", archivePath, "dest", dest, "files", files)

	return nil
}

func extractTar(r io.Reader, dest string) (int, error) {
	tr := tar.NewReader(r)
	files := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}

		if err != nil {
			return files, fmt.Errorf("read tar entry: %v: %w", err, ErrBadArchive)
		}

		targetPath, err := safeExtractPath(dest, hdr.Name)
		if err != nil {
			return files, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return files, fmt.Errorf("create dir %s: %w", targetPath, err)
			}
		case tar.TypeReg:
			if err := writeFile(targetPath, tr); err != nil {
				if isReadErr(err) {
					return files, fmt.Errorf("extract tar entry %s: %v: %w", hdr.Name, err, ErrBadArchive)
				}
				return files, err
			}
			files++
		default:
			// Links and devices are skipped.
			slog.Debug("skipping tar entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
}

func ExtractZip(archivePath, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip archive: %v: %w", err, ErrBadArchive)
	}
	defer func() { _ = zr.Close() }()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	files := 0
	for _, f := range zr.File {
		targetPath, err := safeExtractPath(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", targetPath, err)
			}
			continue
		}

		if !f.Mode().IsRegular() {
			continue
		}

		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %v: %w", f.Name, err, ErrBadArchive)
		}

		err = writeFile(targetPath, src)
		_ = src.Close()
		if err != nil {
			if isReadErr(err) {
				return fmt.Errorf("extract zip entry %s: %v: %w", f.Name, err, ErrBadArchive)
			}
			return err
		}
		files++
	}

	slog.Info("extracted archive", "archive", archivePath, "dest", dest, "files", files)

	return nil
}

// readErr marks a failure on the archive side of a copy.
type readErr struct{ err error }

func (e readErr) Error() string { return e.err.Error() }
func (e readErr) Unwrap() error { return e.err }

func isReadErr(err error) bool {
	var re readErr
	return errors.As(err, &re)
}

type trackedReader struct{ r io.Reader }

func (t trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, readErr{err}
	}
	return n, err
}

func writeFile(targetPath string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", targetPath, err)
	}

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("create extracted file %s: %w", targetPath, err)
	}

	//nolint:gosec // Archives come from explicit caller paths; size is bounded by the source.
	if _, err := io.Copy(dst, trackedReader{src}); err != nil {
		_ = dst.Close()
		if isReadErr(err) {
			return err
		}
		return fmt.Errorf("write %s: %w", targetPath, err)
	}

	return dst.Close()
}

func safeExtractPath(baseDir, entryName string) (string, error) {
	cleaned := filepath.Clean(strings.TrimPrefix(entryName, "/"))
	target := filepath.Join(baseDir, cleaned)

	base := filepath.Clean(baseDir) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator), base) {
		return "", fmt.Errorf("%q escapes %s: %w", entryName, baseDir, ErrUnsafePath)
	}

	return target, nil
}
