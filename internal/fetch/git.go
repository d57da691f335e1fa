package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/datapack-builder/internal/logging"
)

// notFoundMarkers are substrings of git's stderr that mean the repository
// or branch does not exist, as opposed to a network or auth failure.
var notFoundMarkers = []string{
	"not found",
	"does not exist",
	"could not find remote branch",
	"couldn't find remote ref",
}

// GitFetcher performs shallow clones with the git binary.
type GitFetcher struct {
	workDir string
	gitPath string
	logger  zerolog.Logger
}

// NewGitFetcher creates a GitFetcher that clones into directories under
// workDir.
func NewGitFetcher(workDir string) *GitFetcher {
	return &GitFetcher{
		workDir: workDir,
		gitPath: "git",
		logger:  logging.GetLogger("fetch.git"),
	}
}

// Fetch clones src.Ref of src.Repository with depth 1 and returns the
// checkout directory. On failure the partial checkout is removed.
func (g *GitFetcher) Fetch(ctx context.Context, src Source) (string, error) {
	if src.Repository == "" {
		return "", fmt.Errorf("%w: no repository configured", ErrNotFound)
	}

	dir, err := newCheckoutDir(g.workDir, "git-*")
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, "repo")

	args := []string{"clone", "--depth", "1", "--single-branch"}
	if src.Ref != "" {
		args = append(args, "--branch", src.Ref)
	}
	args = append(args, "--", src.Repository, dest)

	g.logger.Info().Str("source", src.String()).Str("dest", dest).Msg("Cloning repository")
	if _, err := g.run(ctx, args...); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return dest, nil
}

// run executes git with args. Stderr is folded into the returned error,
// which wraps ErrNotFound or ErrTransport.
func (g *GitFetcher) run(ctx context.Context, args ...string) (string, error) {
	// #nosec G204 -- args are assembled here, the repository URL is passed after "--"
	cmd := exec.CommandContext(ctx, g.gitPath, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		message := fmt.Sprintf("git %s failed", args[0])
		if stderrStr != "" {
			message = fmt.Sprintf("%s: %s", message, stderrStr)
		}
		return "", fmt.Errorf("%w: %s: %v", classifyGitError(err, stderrStr), message, err)
	}
	return stdout.String(), nil
}

// classifyGitError picks the sentinel for a failed git invocation.
func classifyGitError(err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return ErrTransport
	}
	lower := strings.ToLower(stderr)
	for _, marker := range notFoundMarkers {
		if strings.Contains(lower, marker) {
			return ErrNotFound
		}
	}
	return ErrTransport
}
