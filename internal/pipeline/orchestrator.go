// Package pipeline drives a build through its linear state machine:
//
//	empty → skeleton-created → data-copied → rewritten → normalized → ready
//
// Only a missing data subtree stops a run. Everything else that goes wrong
// on a single file or selector is recorded in the returned model.Report and
// the run continues.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/datapack-builder/internal/fsutil"
	"github.com/shinji-kodama/datapack-builder/internal/logging"
	"github.com/shinji-kodama/datapack-builder/internal/model"
	"github.com/shinji-kodama/datapack-builder/internal/normalize"
	"github.com/shinji-kodama/datapack-builder/internal/resolve"
	"github.com/shinji-kodama/datapack-builder/internal/rewrite"
)

// Fixed names inside the output tree.
const (
	MetadataFile = "pack.mcmeta"
	IconFile     = "pack.png"
	DataDir      = "data"
)

// ErrOverlap is returned when the output directory and the data subtree
// contain one another. Nothing is cleared or copied in that case.
var ErrOverlap = errors.New("output directory and data directory overlap")

// Options configures a single transform run.
type Options struct {
	// OutputDir is cleared and rebuilt by every run.
	OutputDir string
	// DataDir is the data subtree of the fetched source.
	DataDir string
	// MetadataPath is the local pack metadata source. When it does not
	// exist and PackFormat is positive, pack.mcmeta is generated.
	MetadataPath string
	// IconPath is the local icon source, copied as pack.png. Empty skips
	// the icon.
	IconPath    string
	PackFormat  int
	Description string
	Rules       model.RuleSet
}

// Orchestrator runs the transform stages in order.
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger
}

// New creates an Orchestrator for opts.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		opts:   opts,
		logger: logging.GetLogger("pipeline"),
	}
}

// Run executes every stage and returns the report. The error is non-nil
// only for fatal conditions; the report is returned in every case and shows
// the stage reached.
func (o *Orchestrator) Run() (*model.Report, error) {
	done := logging.LogOperationStart(o.logger, "transform")
	defer done()

	report := &model.Report{Stage: model.StageEmpty, OutputDir: o.opts.OutputDir}

	if err := o.checkData(); err != nil {
		return report, err
	}
	if err := o.checkOverlap(); err != nil {
		return report, err
	}
	if err := fsutil.ResetDir(o.opts.OutputDir); err != nil {
		return report, fmt.Errorf("failed to prepare output directory: %w", err)
	}

	o.skeleton(report)
	o.advance(report, model.StageSkeleton)

	if err := fsutil.CopyTree(o.opts.DataDir, filepath.Join(o.opts.OutputDir, DataDir)); err != nil {
		return report, fmt.Errorf("failed to copy data: %w", err)
	}
	o.advance(report, model.StageDataCopied)

	o.rewrite(report)
	o.advance(report, model.StageRewritten)

	o.normalize(report)
	o.advance(report, model.StageNormalized)

	o.advance(report, model.StageReady)
	return report, nil
}

func (o *Orchestrator) advance(report *model.Report, s model.Stage) {
	report.Advance(s)
	o.logger.Info().
		Str("stage", s.String()).
		Int("rewritten", report.FilesRewritten).
		Int("normalized", report.FilesNormalized).
		Int("failures", len(report.Failures)).
		Msg("Stage reached")
}

// checkData verifies the data subtree exists before anything is touched.
func (o *Orchestrator) checkData() error {
	info, err := os.Stat(o.opts.DataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", model.ErrNoSourceData, o.opts.DataDir)
		}
		return fmt.Errorf("%w: %v", model.ErrNoSourceData, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", model.ErrNoSourceData, o.opts.DataDir)
	}
	return nil
}

// checkOverlap rejects an output directory that overlaps the data subtree
// in either direction.
func (o *Orchestrator) checkOverlap() error {
	out, err := canonicalPath(o.opts.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	data, err := canonicalPath(o.opts.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if within(out, data) || within(data, out) {
		return fmt.Errorf("%w: output %s, data %s", ErrOverlap, o.opts.OutputDir, o.opts.DataDir)
	}
	return nil
}

// canonicalPath returns the absolute form of p with symlinks resolved for
// the longest prefix that exists.
func canonicalPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	var rest []string
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
	}
}

// within reports whether child is parent or lies below it.
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// skeleton places pack.mcmeta and pack.png at the output root.
func (o *Orchestrator) skeleton(report *model.Report) {
	metaDst := filepath.Join(o.opts.OutputDir, MetadataFile)
	err := o.copySkeletonFile(o.opts.MetadataPath, metaDst)
	if errors.Is(err, fs.ErrNotExist) && o.opts.PackFormat > 0 {
		o.logger.Info().Int("pack_format", o.opts.PackFormat).Msg("Generating pack metadata")
		err = writeMetadata(metaDst, o.opts.PackFormat, o.opts.Description)
	}
	o.recordSkeleton(report, MetadataFile, o.opts.MetadataPath, err)

	if o.opts.IconPath == "" {
		return
	}
	err = o.copySkeletonFile(o.opts.IconPath, filepath.Join(o.opts.OutputDir, IconFile))
	o.recordSkeleton(report, IconFile, o.opts.IconPath, err)
}

func (o *Orchestrator) copySkeletonFile(src, dst string) error {
	if src == "" {
		return fs.ErrNotExist
	}
	return fsutil.CopyFile(src, dst)
}

func (o *Orchestrator) recordSkeleton(report *model.Report, name, src string, err error) {
	if err == nil {
		return
	}
	res := model.FileResult{
		Stage:    model.StageSkeleton,
		Path:     name,
		Selector: src,
		Failure:  model.FailureIO,
		Err:      err,
	}
	if errors.Is(err, fs.ErrNotExist) {
		res.Failure = model.FailurePathNotFound
	}
	o.logger.Warn().Err(err).Str("file", name).Str("source", src).Msg("Skeleton file missing")
	report.Record(res)
}

// rewrite resolves and rewrites every rule group in rule set order.
func (o *Orchestrator) rewrite(report *model.Report) {
	engine := rewrite.NewEngine(o.opts.OutputDir)

	for _, group := range o.opts.Rules.Groups {
		targets, err := resolve.Targets(o.opts.OutputDir, group.Selector)
		if err != nil {
			res := model.FileResult{
				Stage:    model.StageRewritten,
				Selector: group.Selector,
				Failure:  model.FailureIO,
				Err:      err,
			}
			if errors.Is(err, resolve.ErrPathNotFound) {
				res.Failure = model.FailurePathNotFound
			}
			o.logger.Warn().Err(err).Str("selector", group.Selector).Msg("Skipping rule group")
			report.Record(res)
			continue
		}

		o.logger.Debug().
			Str("selector", group.Selector).
			Int("files", len(targets)).
			Int("rules", len(group.Rules)).
			Msg("Applying rule group")
		for _, res := range engine.RewriteAll(targets, group) {
			report.Record(res)
		}
	}
}

// normalize runs the JSON normalizer over the whole output tree.
func (o *Orchestrator) normalize(report *model.Report) {
	results, err := normalize.New(o.opts.OutputDir).Tree()
	if err != nil {
		report.Record(model.FileResult{
			Stage:   model.StageNormalized,
			Path:    o.opts.OutputDir,
			Failure: model.FailureIO,
			Err:     err,
		})
		return
	}
	for _, res := range results {
		report.Record(res)
	}
}

type packMetadata struct {
	Pack struct {
		PackFormat  int    `json:"pack_format"`
		Description string `json:"description"`
	} `json:"pack"`
}

func writeMetadata(path string, format int, description string) error {
	var meta packMetadata
	meta.Pack.PackFormat = format
	meta.Pack.Description = description

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFile(path, append(data, '\n'))
}
