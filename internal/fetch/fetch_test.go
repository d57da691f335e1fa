package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"git", MethodGit, false},
		{"ARCHIVE", MethodArchive, false},
		{" archive ", MethodArchive, false},
		{"", MethodGit, false},
		{"svn", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArchiveURL(t *testing.T) {
	tests := []struct {
		name    string
		src     Source
		want    string
		wantErr error
	}{
		{
			name: "github style",
			src:  Source{Repository: "https://github.com/owner/repo.git", Ref: "1.21.4"},
			want: "https://github.com/owner/repo/archive/refs/heads/1.21.4.zip",
		},
		{
			name: "trailing slash",
			src:  Source{Repository: "https://example.com/owner/repo/", Ref: "main"},
			want: "https://example.com/owner/repo/archive/refs/heads/main.zip",
		},
		{
			name: "explicit template",
			src:  Source{Repository: "ignored", Ref: "v2", ArchiveURL: "https://cdn.example.com/{ref}/src.zip"},
			want: "https://cdn.example.com/v2/src.zip",
		},
		{
			name:    "no repository",
			src:     Source{Ref: "main"},
			wantErr: ErrNotFound,
		},
		{
			name:    "no ref",
			src:     Source{Repository: "https://github.com/owner/repo.git"},
			wantErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ArchiveURL(tt.src)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// zipBytes builds an in-memory zip archive from name/content pairs. Names
// ending in "/" become directory entries.
func zipBytes(t *testing.T, entries ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for i := 0; i < len(entries); i += 2 {
		f, err := w.Create(entries[i])
		require.NoError(t, err)
		_, err = f.Write([]byte(entries[i+1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func serve(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestArchiveFetcher_Fetch verifies download, extraction and stripping of
// the archive's single top-level directory.
func TestArchiveFetcher_Fetch(t *testing.T) {
	body := zipBytes(t,
		"repo-1.21.4/", "",
		"repo-1.21.4/common/src/main/resources/data/ns/a.json", `{"id": "OLDID"}`,
		"repo-1.21.4/README.md", "readme",
	)
	srv := serve(t, http.StatusOK, body)

	f := NewArchiveFetcher(t.TempDir(), srv.Client())
	root, err := f.Fetch(context.Background(), Source{Ref: "1.21.4", ArchiveURL: srv.URL + "/{ref}.zip"})
	require.NoError(t, err)

	assert.Equal(t, "repo-1.21.4", filepath.Base(root))
	data, err := os.ReadFile(filepath.Join(root, "common", "src", "main", "resources", "data", "ns", "a.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"id": "OLDID"}`, string(data))
	assert.FileExists(t, filepath.Join(root, "README.md"))
}

// TestArchiveFetcher_NoTopDir verifies archives with several roots are
// returned as-is.
func TestArchiveFetcher_NoTopDir(t *testing.T) {
	srv := serve(t, http.StatusOK, zipBytes(t, "a.txt", "a", "b/c.txt", "c"))

	root, err := NewArchiveFetcher(t.TempDir(), srv.Client()).Fetch(context.Background(), Source{ArchiveURL: srv.URL})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "a.txt"))
	assert.FileExists(t, filepath.Join(root, "b", "c.txt"))
}

// TestArchiveFetcher_Errors verifies HTTP status classification and cleanup.
func TestArchiveFetcher_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   []byte
		want   error
	}{
		{"not found", http.StatusNotFound, nil, ErrNotFound},
		{"server error", http.StatusInternalServerError, nil, ErrTransport},
		{"forbidden", http.StatusForbidden, nil, ErrTransport},
		{"not a zip", http.StatusOK, []byte("<html>"), ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)
			work := t.TempDir()

			_, err := NewArchiveFetcher(work, srv.Client()).Fetch(context.Background(), Source{ArchiveURL: srv.URL})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			entries, err := os.ReadDir(work)
			require.NoError(t, err)
			assert.Empty(t, entries, "partial download must be cleaned up")
		})
	}
}

// TestArchiveFetcher_Unreachable verifies connection failures are transport
// errors.
func TestArchiveFetcher_Unreachable(t *testing.T) {
	srv := serve(t, http.StatusOK, nil)
	url := srv.URL
	srv.Close()

	_, err := NewArchiveFetcher(t.TempDir(), nil).Fetch(context.Background(), Source{ArchiveURL: url})
	assert.ErrorIs(t, err, ErrTransport)
}

// TestExtract_RejectsTraversal verifies zip-slip entries are refused.
func TestExtract_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(zipPath, zipBytes(t, "../escape.txt", "x"), 0o644))

	err := Extract(zipPath, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal archive entry")
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestClassifyGitError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		stderr string
		want   error
	}{
		{"missing repo", errors.New("exit status 128"), "remote: Repository not found.\nfatal: repository 'https://github.com/x/y.git/' not found", ErrNotFound},
		{"missing branch", errors.New("exit status 128"), "warning: Could not find remote branch nope to clone.\nfatal: Remote branch nope not found in upstream origin", ErrNotFound},
		{"missing local path", errors.New("exit status 128"), "fatal: repository '/tmp/x' does not exist", ErrNotFound},
		{"dns failure", errors.New("exit status 128"), "fatal: unable to access 'https://nohost/': Could not resolve host: nohost", ErrTransport},
		{"no git binary", exec.ErrNotFound, "", ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyGitError(tt.err, tt.stderr))
		})
	}
}

// gitRepo creates a local repository with one commit on branch "main".
func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir, "-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q", "-b", "main")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data", "ns"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "ns", "a.json"), []byte(`{"id": "OLDID"}`), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "init")
	return dir
}

// TestGitFetcher_Fetch verifies a shallow clone of a local repository.
func TestGitFetcher_Fetch(t *testing.T) {
	repo := gitRepo(t)

	root, err := NewGitFetcher(t.TempDir()).Fetch(context.Background(), Source{Repository: "file://" + filepath.ToSlash(repo), Ref: "main"})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "data", "ns", "a.json"))
}

// TestGitFetcher_MissingRef verifies a missing branch maps to ErrNotFound
// and leaves nothing behind.
func TestGitFetcher_MissingRef(t *testing.T) {
	repo := gitRepo(t)
	work := t.TempDir()

	_, err := NewGitFetcher(work).Fetch(context.Background(), Source{Repository: "file://" + filepath.ToSlash(repo), Ref: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestGitFetcher_NoRepository verifies an empty repository URL is rejected
// before git runs.
func TestGitFetcher_NoRepository(t *testing.T) {
	_, err := NewGitFetcher(t.TempDir()).Fetch(context.Background(), Source{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew(t *testing.T) {
	f, err := New(MethodArchive, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &ArchiveFetcher{}, f)

	f, err = New(MethodGit, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &GitFetcher{}, f)

	_, err = New("svn", t.TempDir())
	assert.Error(t, err)
}
