// Package model defines the domain types for the datapack-builder CLI.
//
// All entities in this package are transient: a RuleSet is loaded once at
// pipeline start and never mutated afterwards, and every FileResult belongs
// to the single run that produced it.
package model

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// LinePatternMarker is the two-character marker that turns a match key into
// a line pattern. The marker and anything after it are not part of the
// pattern fragment.
const LinePatternMarker = "->"

// RuleKind tags a Rule as either a literal substring replacement or a
// whole-line pattern replacement. The kind is decided once when the rule set
// is loaded, never re-inspected while rewriting.
type RuleKind string

const (
	// RuleLiteral replaces every non-overlapping occurrence of the match key
	// verbatim.
	RuleLiteral RuleKind = "literal"

	// RuleLinePattern replaces every line matching the pattern fragment
	// (after optional leading whitespace) with the replacement value.
	RuleLinePattern RuleKind = "line-pattern"
)

// String returns the string representation of RuleKind.
func (k RuleKind) String() string {
	return string(k)
}

// IsValid checks whether the RuleKind value is one of the predefined kinds.
func (k RuleKind) IsValid() bool {
	switch k {
	case RuleLiteral, RuleLinePattern:
		return true
	default:
		return false
	}
}

// ClassifyKey inspects a raw match key and returns its kind together with
// the text the rule actually matches on. For line patterns the marker and
// everything following it are stripped.
//
//	ClassifyKey("OLDID")        → RuleLiteral, "OLDID"
//	ClassifyKey("foo->")        → RuleLinePattern, "foo"
//	ClassifyKey("\"id\"->note") → RuleLinePattern, "\"id\""
func ClassifyKey(raw string) (RuleKind, string) {
	before, _, found := strings.Cut(raw, LinePatternMarker)
	if !found {
		return RuleLiteral, raw
	}
	return RuleLinePattern, before
}

// Rule is a single (match key, replacement) pair from a rule group.
type Rule struct {
	// Kind selects the replacement strategy.
	Kind RuleKind `json:"kind"`

	// Raw is the match key exactly as written in the ruleset resource.
	Raw string `json:"raw"`

	// Match is the literal text (RuleLiteral) or the regular expression
	// fragment (RuleLinePattern) derived from Raw.
	Match string `json:"match"`

	// Replace is the replacement value. For line patterns it supplies the
	// full new line, including any indentation.
	Replace string `json:"replace"`

	// Pattern is the compiled whole-line expression. Only set for
	// RuleLinePattern.
	Pattern *regexp.Regexp `json:"-"`
}

// RuleGroup is the ordered list of rules bound to one target selector.
// Rules apply in order, each one operating on the output of the previous.
type RuleGroup struct {
	// Selector is a slash-separated path relative to the output root. It may
	// name a single file or a directory.
	Selector string `json:"selector"`

	// Rules keeps the insertion order of the ruleset resource.
	Rules []Rule `json:"rules"`
}

// RuleSet is the whole declarative rule document, one group per selector in
// document order.
type RuleSet struct {
	Groups []RuleGroup `json:"groups"`
}

// IsEmpty reports whether the rule set has no groups at all.
func (s RuleSet) IsEmpty() bool {
	return len(s.Groups) == 0
}

// RuleCount returns the number of rules across every group.
func (s RuleSet) RuleCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Rules)
	}
	return n
}

// ContentType is inferred from a file's extension.
type ContentType string

const (
	// ContentJSON marks files with a .json extension (case-insensitive).
	ContentJSON ContentType = "json"

	// ContentPlain is everything else.
	ContentPlain ContentType = "plain"
)

// ContentTypeOf returns the content type for the given path.
func ContentTypeOf(p string) ContentType {
	if strings.EqualFold(path.Ext(p), ".json") {
		return ContentJSON
	}
	return ContentPlain
}

// TargetFile identifies a file by its slash-separated path relative to the
// output root.
type TargetFile struct {
	Path        string      `json:"path"`
	ContentType ContentType `json:"contentType"`
}

// NewTargetFile builds a TargetFile from a relative path, normalizing
// separators to forward slashes.
func NewTargetFile(rel string) TargetFile {
	rel = strings.ReplaceAll(rel, "\\", "/")
	return TargetFile{Path: rel, ContentType: ContentTypeOf(rel)}
}

// Stage is a state of the linear pipeline state machine:
//
//	empty → skeleton-created → data-copied → rewritten → normalized → ready
type Stage string

const (
	StageEmpty      Stage = "empty"
	StageSkeleton   Stage = "skeleton-created"
	StageDataCopied Stage = "data-copied"
	StageRewritten  Stage = "rewritten"
	StageNormalized Stage = "normalized"
	StageReady      Stage = "ready"
)

// String returns the string representation of Stage.
func (s Stage) String() string {
	return string(s)
}

// FailureKind classifies recoverable and fatal conditions of a run.
type FailureKind string

const (
	// FailureNone marks a successful result.
	FailureNone FailureKind = ""

	// FailureConfiguration is a missing or malformed ruleset resource, or a
	// single rule that could not be compiled. Recovered.
	FailureConfiguration FailureKind = "configuration"

	// FailurePathNotFound is a selector or skeleton source that does not
	// exist on disk. Recovered.
	FailurePathNotFound FailureKind = "path-not-found"

	// FailureIO is a read or write error on a specific file. Recovered per
	// file.
	FailureIO FailureKind = "io"

	// FailureTransport is a fetch failure. Fatal: there is nothing to
	// transform.
	FailureTransport FailureKind = "transport"
)

// String returns the string representation of FailureKind.
func (k FailureKind) String() string {
	if k == FailureNone {
		return "ok"
	}
	return string(k)
}

// FileResult is the outcome of one per-item operation of the pipeline
// (rewriting a file, normalizing a file, copying a skeleton file, resolving
// a selector).
type FileResult struct {
	Stage        Stage       `json:"stage"`
	Path         string      `json:"path,omitempty"`
	Selector     string      `json:"selector,omitempty"`
	Changed      bool        `json:"changed"`
	RulesApplied int         `json:"rulesApplied,omitempty"`
	Failure      FailureKind `json:"failure,omitempty"`
	Err          error       `json:"-"`
}

// OK reports whether the operation succeeded.
func (r FileResult) OK() bool {
	return r.Failure == FailureNone
}

// String returns a one-line human-readable description of the result.
func (r FileResult) String() string {
	var b strings.Builder
	b.WriteString(r.Failure.String())
	if r.Path != "" {
		fmt.Fprintf(&b, " %s", r.Path)
	}
	if r.Selector != "" && r.Selector != r.Path {
		fmt.Fprintf(&b, " (selector %s)", r.Selector)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, ": %v", r.Err)
	}
	return b.String()
}

// Report aggregates the per-file results of one pipeline run. Failures are
// collected here and reported after the run instead of interrupting it.
type Report struct {
	Stage           Stage        `json:"stage"`
	OutputDir       string       `json:"outputDir"`
	FilesRewritten  int          `json:"filesRewritten"`
	FilesNormalized int          `json:"filesNormalized"`
	Failures        []FileResult `json:"failures,omitempty"`
	ArchivePath     string       `json:"archivePath,omitempty"`
	PublishedURL    string       `json:"publishedUrl,omitempty"`
}

// Record adds a result to the report. Successful results only bump the
// counter of their stage; failed results are kept for reporting.
func (r *Report) Record(res FileResult) {
	if !res.OK() {
		r.Failures = append(r.Failures, res)
		return
	}
	if !res.Changed {
		return
	}
	switch res.Stage {
	case StageRewritten:
		r.FilesRewritten++
	case StageNormalized:
		r.FilesNormalized++
	}
}

// Advance moves the report to the next stage.
func (r *Report) Advance(s Stage) {
	r.Stage = s
}

// HasFailures reports whether any recoverable failure was recorded.
func (r *Report) HasFailures() bool {
	return len(r.Failures) > 0
}

// FailuresOf returns the recorded failures of the given kind.
func (r *Report) FailuresOf(kind FailureKind) []FileResult {
	var out []FileResult
	for _, f := range r.Failures {
		if f.Failure == kind {
			out = append(out, f)
		}
	}
	return out
}

// ErrNoSourceData is returned when the fetched tree does not contain the
// data subtree. It is the only fatal condition of the transform itself.
var ErrNoSourceData = errors.New("no source data to transform")

// ConfigurationError describes a ruleset resource that is absent or
// malformed, or a rule inside it that could not be used. The loader returns
// it alongside a usable (possibly empty) RuleSet.
type ConfigurationError struct {
	// Path is the ruleset resource path.
	Path string

	// Issues lists every problem found, one per entry.
	Issues []string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface.
func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("ruleset %s", e.Path)
	if len(e.Issues) > 0 {
		msg += ": " + strings.Join(e.Issues, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ExitCode defines the CLI exit codes. These codes allow scripts and CI
// systems to programmatically determine the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the configuration or ruleset is invalid.
	ExitConfigError ExitCode = 2

	// ExitSourceNotFound indicates the repository, ref or data subtree
	// does not exist.
	ExitSourceNotFound ExitCode = 3

	// ExitTransportFailure indicates the fetch failed for any other reason.
	ExitTransportFailure ExitCode = 4

	// ExitPackagingFailed indicates the archive could not be written.
	ExitPackagingFailed ExitCode = 5

	// ExitPublishFailed indicates the archive could not be uploaded.
	ExitPublishFailed ExitCode = 6

	// ExitPartialFailure indicates recoverable failures were recorded and
	// --strict was set.
	ExitPartialFailure ExitCode = 7
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
