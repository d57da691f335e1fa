package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/shinji-kodama/datapack-builder/internal/logging"
)

// refPlaceholder is substituted with the ref in explicit archive URLs.
const refPlaceholder = "{ref}"

// ArchiveFetcher downloads a zip archive of a ref and extracts it.
type ArchiveFetcher struct {
	workDir string
	client  *http.Client
	logger  zerolog.Logger
}

// NewArchiveFetcher creates an ArchiveFetcher extracting under workDir. A
// nil client gets a default client with a generous timeout.
func NewArchiveFetcher(workDir string, client *http.Client) *ArchiveFetcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &ArchiveFetcher{
		workDir: workDir,
		client:  client,
		logger:  logging.GetLogger("fetch.archive"),
	}
}

// ArchiveURL returns the download location for src. An explicit
// src.ArchiveURL wins; otherwise the GitHub-style
// <repo>/archive/refs/heads/<ref>.zip location is derived from the
// repository URL.
func ArchiveURL(src Source) (string, error) {
	if src.ArchiveURL != "" {
		return strings.ReplaceAll(src.ArchiveURL, refPlaceholder, src.Ref), nil
	}
	if src.Repository == "" {
		return "", fmt.Errorf("%w: no repository configured", ErrNotFound)
	}
	if src.Ref == "" {
		return "", fmt.Errorf("%w: archive fetch needs a ref", ErrNotFound)
	}
	base := strings.TrimSuffix(strings.TrimRight(src.Repository, "/"), ".git")
	return fmt.Sprintf("%s/archive/refs/heads/%s.zip", base, src.Ref), nil
}

// Fetch downloads and extracts the archive for src and returns the root of
// the extracted tree. When every entry shares one top-level directory, as
// in forge-generated archives, that directory is returned.
func (a *ArchiveFetcher) Fetch(ctx context.Context, src Source) (string, error) {
	url, err := ArchiveURL(src)
	if err != nil {
		return "", err
	}

	dir, err := newCheckoutDir(a.workDir, "archive-*")
	if err != nil {
		return "", err
	}
	root, err := a.fetch(ctx, url, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return root, nil
}

func (a *ArchiveFetcher) fetch(ctx context.Context, url, dir string) (string, error) {
	a.logger.Info().Str("url", url).Msg("Downloading archive")

	zipPath := filepath.Join(dir, "source.zip")
	if err := a.download(ctx, url, zipPath); err != nil {
		return "", err
	}

	dest := filepath.Join(dir, "tree")
	if err := Extract(zipPath, dest); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	_ = os.Remove(zipPath)

	return singleTopDir(dest), nil
}

// download streams url into the file at dst.
func (a *ArchiveFetcher) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrTransport, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: GET %s: %s", ErrNotFound, url, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: GET %s: %s", ErrTransport, url, resp.Status)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrTransport, dst, err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", ErrTransport, url, err)
	}

	a.logger.Debug().Int64("bytes", n).Msg("Archive downloaded")
	return nil
}

// Extract unpacks the zip archive at zipPath into dest. Entries whose names
// would land outside dest are rejected.
func Extract(zipPath, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = r.Close() }()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	for _, f := range r.File {
		target, err := entryPath(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o200)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// entryPath maps an archive entry name to a path under dest. Names with a
// ".." element are rejected so no entry lands outside dest.
func entryPath(dest, name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	for _, elem := range strings.Split(slashed, "/") {
		if elem == ".." {
			return "", fmt.Errorf("illegal archive entry %q", name)
		}
	}
	rel := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	return filepath.Join(dest, filepath.FromSlash(rel)), nil
}

// singleTopDir returns the only entry of dir when it is a directory, and
// dir otherwise.
func singleTopDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}
