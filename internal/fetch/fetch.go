package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrNotFound means the repository or the requested ref does not exist.
	ErrNotFound = errors.New("source not found")

	// ErrTransport covers every other fetch failure.
	ErrTransport = errors.New("fetch failed")
)

// Method selects a fetch strategy.
type Method string

const (
	MethodGit     Method = "git"
	MethodArchive Method = "archive"
)

// ParseMethod converts a config or flag value into a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodGit, MethodArchive:
		return m, nil
	case "":
		return MethodGit, nil
	default:
		return "", fmt.Errorf("unknown fetch method %q (want %q or %q)", s, MethodGit, MethodArchive)
	}
}

// Source identifies the tree to fetch.
type Source struct {
	// Repository is the clone URL, e.g. https://github.com/owner/repo.git.
	Repository string
	// Ref is the branch or tag to fetch.
	Ref string
	// ArchiveURL optionally overrides the archive location used by
	// ArchiveFetcher. The placeholder "{ref}" is replaced with Ref.
	ArchiveURL string
}

func (s Source) String() string {
	if s.Ref == "" {
		return s.Repository
	}
	return s.Repository + "@" + s.Ref
}

// Fetcher retrieves a Source and returns the local directory holding the
// root of the fetched tree.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) (string, error)
}

// New returns the Fetcher for method, placing fetched trees under workDir.
func New(method Method, workDir string) (Fetcher, error) {
	switch method {
	case MethodGit, "":
		return NewGitFetcher(workDir), nil
	case MethodArchive:
		return NewArchiveFetcher(workDir, nil), nil
	default:
		return nil, fmt.Errorf("unknown fetch method %q", method)
	}
}

// newCheckoutDir creates a fresh, uniquely named directory under workDir.
func newCheckoutDir(workDir, pattern string) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create work dir %s: %v", ErrTransport, workDir, err)
	}
	dir, err := os.MkdirTemp(workDir, pattern)
	if err != nil {
		return "", fmt.Errorf("%w: create checkout dir: %v", ErrTransport, err)
	}
	return dir, nil
}
