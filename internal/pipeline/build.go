package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shinji-kodama/datapack-builder/internal/fetch"
	"github.com/shinji-kodama/datapack-builder/internal/logging"
	"github.com/shinji-kodama/datapack-builder/internal/model"
	"github.com/shinji-kodama/datapack-builder/internal/packaging"
)

var (
	// ErrPackaging wraps archive creation failures.
	ErrPackaging = errors.New("packaging failed")
	// ErrPublish wraps upload failures.
	ErrPublish = errors.New("publish failed")
)

// Publisher uploads a finished archive and returns where it can be found.
type Publisher interface {
	Publish(ctx context.Context, archivePath string) (string, error)
}

// BuildOptions configures a full build: fetch, transform, package and
// publish.
type BuildOptions struct {
	Source fetch.Source
	Method fetch.Method
	// Fetcher overrides the fetcher normally created from Method.
	Fetcher fetch.Fetcher
	// DataPath is the data subtree's slash-separated path inside the
	// fetched tree.
	DataPath string
	// LocalData, when set, is used as the data subtree and nothing is
	// fetched.
	LocalData string
	// WorkDir holds per-run fetch directories.
	WorkDir     string
	KeepWorkDir bool

	Transform Options

	// Archive enables packaging; ArchiveName defaults to the output
	// directory's name.
	Archive     bool
	ArchiveName string
	// Publisher is nil when publishing is disabled.
	Publisher Publisher
}

// Build runs a complete build. Fetch errors wrap fetch.ErrNotFound or
// fetch.ErrTransport, a missing data subtree wraps model.ErrNoSourceData,
// and the last two steps wrap ErrPackaging and ErrPublish. The report is
// non-nil whenever the transform started.
func Build(ctx context.Context, opts BuildOptions) (*model.Report, error) {
	logger := logging.GetLogger("build")

	dataDir := opts.LocalData
	if dataDir == "" {
		runDir, cleanup, err := prepareRunDir(opts.WorkDir, opts.KeepWorkDir)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		fetcher := opts.Fetcher
		if fetcher == nil {
			if fetcher, err = fetch.New(opts.Method, runDir); err != nil {
				return nil, err
			}
		}
		root, err := fetcher.Fetch(ctx, opts.Source)
		if err != nil {
			return nil, err
		}
		dataDir = filepath.Join(root, filepath.FromSlash(opts.DataPath))
		logger.Info().Str("source", opts.Source.String()).Str("data", dataDir).Msg("Source fetched")
	}

	transform := opts.Transform
	transform.DataDir = dataDir
	report, err := New(transform).Run()
	if err != nil {
		return report, err
	}

	if !opts.Archive {
		return report, nil
	}
	archivePath := packaging.ArchivePath(transform.OutputDir, opts.ArchiveName)
	n, err := packaging.Compress(transform.OutputDir, archivePath)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrPackaging, err)
	}
	report.ArchivePath = archivePath
	logger.Info().Str("archive", archivePath).Int("files", n).Msg("Archive written")

	if opts.Publisher == nil {
		return report, nil
	}
	url, err := opts.Publisher.Publish(ctx, archivePath)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	report.PublishedURL = url
	return report, nil
}

// prepareRunDir creates a fresh directory under workDir for this run's
// fetch. The returned cleanup removes it unless keep is set.
func prepareRunDir(workDir string, keep bool) (string, func(), error) {
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("%w: create work dir: %v", fetch.ErrTransport, err)
	}
	dir, err := os.MkdirTemp(workDir, "run-*")
	if err != nil {
		return "", nil, fmt.Errorf("%w: create run dir: %v", fetch.ErrTransport, err)
	}

	logger := logging.GetLogger("build")
	cleanup := func() {
		if keep {
			logger.Info().Str("dir", dir).Msg("Keeping work directory")
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("Failed to remove work directory")
		}
	}
	return dir, cleanup, nil
}
