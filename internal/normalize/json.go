// Package normalize repairs the JSON text left behind by line-pattern
// rewrites.
//
// Replacing or blanking whole lines tends to leave two artifacts: a trailing
// comma before a closing bracket, and empty lines. The normalizer removes
// both textually. It does not parse JSON, so it cannot repair documents a
// rule has broken structurally, and it never touches non-JSON files.
package normalize

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/datapack-builder/internal/logging"
	"github.com/shinji-kodama/datapack-builder/internal/model"
	"github.com/shinji-kodama/datapack-builder/internal/resolve"
)

// trailingComma matches a run of commas separated only by spaces or tabs
// and followed by a closing bracket. Newlines are not crossed, so a comma
// that ends a line is kept even when the next non-blank line closes the
// container. Consuming the whole run keeps JSON idempotent on input such
// as "[1, , ]".
var trailingComma = regexp.MustCompile(`(?:,[ \t]*)+([}\]])`)

// JSON normalizes a single JSON document's text. The output contains no
// line that is blank after trimming, lines are joined with "\n", and a
// trailing newline is not preserved. JSON is idempotent.
func JSON(text string) string {
	text = trailingComma.ReplaceAllString(text, "$1")

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Normalizer applies JSON to every .json file below a root directory.
type Normalizer struct {
	root   string
	logger zerolog.Logger
}

// New creates a Normalizer for root.
func New(root string) *Normalizer {
	return &Normalizer{
		root:   root,
		logger: logging.GetLogger("normalize"),
	}
}

// Tree normalizes every JSON file under the root, depth-first in lexical
// order, and returns one result per JSON file. Non-JSON files are skipped.
// A walk failure is returned as an error; per-file failures are reported
// as FailureIO results and do not stop the walk.
func (n *Normalizer) Tree() ([]model.FileResult, error) {
	targets, err := resolve.Targets(n.root, ".")
	if err != nil {
		return nil, err
	}

	var results []model.FileResult
	for _, tf := range targets {
		if tf.ContentType != model.ContentJSON {
			continue
		}
		results = append(results, n.File(tf))
	}
	return results, nil
}

// File normalizes a single file in place. The file is written only when
// normalization changes it.
func (n *Normalizer) File(target model.TargetFile) model.FileResult {
	res := model.FileResult{
		Stage:    model.StageNormalized,
		Path:     target.Path,
		Selector: target.Path,
	}
	abs := filepath.Join(n.root, filepath.FromSlash(target.Path))

	info, err := os.Stat(abs)
	if err != nil {
		return n.ioFailure(res, fmt.Errorf("stat: %w", err))
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return n.ioFailure(res, fmt.Errorf("read: %w", err))
	}

	original := string(data)
	updated := JSON(original)
	if updated == original {
		return res
	}
	if err := os.WriteFile(abs, []byte(updated), info.Mode().Perm()); err != nil {
		return n.ioFailure(res, fmt.Errorf("write: %w", err))
	}
	res.Changed = true
	n.logger.Trace().Str("path", target.Path).Msg("Normalized JSON")
	return res
}

func (n *Normalizer) ioFailure(res model.FileResult, err error) model.FileResult {
	res.Failure = model.FailureIO
	res.Err = err
	n.logger.Error().Err(err).Str("path", res.Path).Msg("Failed to normalize file")
	return res
}
