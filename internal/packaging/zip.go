// Package packaging turns a finished output tree into a distributable zip
// archive and optionally publishes it to S3-compatible object storage.
package packaging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrArchiveInsideSource is returned when the archive would be written into
// the directory being archived.
var ErrArchiveInsideSource = errors.New("archive path is inside the source directory")

// ArchivePath returns where the archive for outputDir is written: next to
// the directory, named <name>.zip. An empty name uses the directory's base
// name.
func ArchivePath(outputDir, name string) string {
	clean := filepath.Clean(outputDir)
	if name == "" {
		name = filepath.Base(clean)
	}
	return filepath.Join(filepath.Dir(clean), strings.TrimSuffix(name, ".zip")+".zip")
}

// Compress writes a zip archive of srcDir's contents to archivePath. Entry
// names are relative to srcDir, so the archive root holds srcDir's
// children. Entries are added depth-first in lexical order. Only regular
// files are archived; directories are implied by entry names.
//
// It returns the number of files written.
func Compress(srcDir, archivePath string) (int, error) {
	if err := checkOutside(srcDir, archivePath); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", archivePath, err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive %s: %w", archivePath, err)
	}

	count, err := writeArchive(out, srcDir)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close archive %s: %w", archivePath, cerr)
	}
	if err != nil {
		_ = os.Remove(archivePath)
		return 0, err
	}
	return count, nil
}

func writeArchive(w io.Writer, srcDir string) (int, error) {
	zw := zip.NewWriter(w)
	count := 0

	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if err := addFile(zw, path, filepath.ToSlash(rel)); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish archive: %w", err)
	}
	return count, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	_, err = io.Copy(dst, src)
	return err
}

// Entries lists the file entry names of the archive at path, in archive
// order.
func Entries(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
	}
	return names, nil
}

// ReadEntry returns the contents of the named entry in the archive at path.
func ReadEntry(path, name string) ([]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", name, err)
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("entry %s: %w", name, fs.ErrNotExist)
}

func checkOutside(srcDir, archivePath string) error {
	src, err := filepath.Abs(srcDir)
	if err != nil {
		return err
	}
	dst, err := filepath.Abs(archivePath)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(src, dst)
	if err != nil {
		return nil
	}
	if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrArchiveInsideSource, archivePath)
	}
	return nil
}
