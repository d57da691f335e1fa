// Package rewrite applies rule groups to file contents.
//
// The engine is purely textual: it knows nothing about the structure of the
// files it rewrites. A literal rule replaces every non-overlapping
// occurrence of its match key; a line-pattern rule replaces every matching
// line wholesale. Rules run in group order, each on the previous rule's
// output.
package rewrite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/datapack-builder/internal/logging"
	"github.com/shinji-kodama/datapack-builder/internal/model"
)

// Apply runs every rule of group over content and returns the result.
// An empty group returns content unchanged.
func Apply(content string, group model.RuleGroup) string {
	out, _ := apply(content, group.Rules)
	return out
}

// apply returns the rewritten content and the number of rules that changed
// it.
func apply(content string, rules []model.Rule) (string, int) {
	fired := 0
	for _, r := range rules {
		next := applyRule(content, r)
		if next != content {
			fired++
		}
		content = next
	}
	return content, fired
}

// applyRule dispatches on the rule's kind tag.
func applyRule(content string, r model.Rule) string {
	switch r.Kind {
	case model.RuleLiteral:
		// strings.ReplaceAll with an empty key would insert the replacement
		// between every rune.
		if r.Match == "" {
			return content
		}
		return strings.ReplaceAll(content, r.Match, r.Replace)
	case model.RuleLinePattern:
		if r.Pattern == nil {
			return content
		}
		return r.Pattern.ReplaceAllLiteralString(content, r.Replace)
	default:
		return content
	}
}

// Engine reads, rewrites and writes back target files.
type Engine struct {
	root   string
	logger zerolog.Logger
}

// NewEngine creates an Engine operating on files below root.
func NewEngine(root string) *Engine {
	return &Engine{
		root:   root,
		logger: logging.GetLogger("rewrite"),
	}
}

// RewriteFile applies group to a single target file and persists the
// result. The file is rewritten only when its content changes, keeping its
// permissions.
//
// I/O errors never escape: they are returned as a FailureIO result carrying
// the path, the selector and the underlying error, and logged.
func (e *Engine) RewriteFile(target model.TargetFile, group model.RuleGroup) model.FileResult {
	res := model.FileResult{
		Stage:    model.StageRewritten,
		Path:     target.Path,
		Selector: group.Selector,
	}
	abs := filepath.Join(e.root, filepath.FromSlash(target.Path))

	info, err := os.Stat(abs)
	if err != nil {
		return e.ioFailure(res, fmt.Errorf("stat: %w", err))
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return e.ioFailure(res, fmt.Errorf("read: %w", err))
	}

	original := string(data)
	updated, fired := apply(original, group.Rules)
	res.RulesApplied = fired
	if updated == original {
		e.logger.Trace().Str("path", target.Path).Msg("No rule matched")
		return res
	}

	if err := os.WriteFile(abs, []byte(updated), info.Mode().Perm()); err != nil {
		return e.ioFailure(res, fmt.Errorf("write: %w", err))
	}
	res.Changed = true

	e.logger.Debug().
		Str("path", target.Path).
		Str("selector", group.Selector).
		Int("rules", fired).
		Msg("Rewrote file")
	return res
}

// RewriteAll applies group to every target in order and returns one result
// per target.
func (e *Engine) RewriteAll(targets []model.TargetFile, group model.RuleGroup) []model.FileResult {
	results := make([]model.FileResult, 0, len(targets))
	for _, tf := range targets {
		results = append(results, e.RewriteFile(tf, group))
	}
	return results
}

func (e *Engine) ioFailure(res model.FileResult, err error) model.FileResult {
	res.Failure = model.FailureIO
	res.Err = err
	e.logger.Error().
		Err(err).
		Str("path", res.Path).
		Str("selector", res.Selector).
		Msg("Failed to rewrite file")
	return res
}
