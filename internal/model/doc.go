// Package model defines the domain types and value objects for the
// datapack-builder CLI.
//
// This package contains pure data structures with no external dependencies:
// the rule set (RuleSet, RuleGroup, Rule), the files a rule group targets
// (TargetFile), the per-file outcomes of a pipeline run (FileResult) and the
// aggregated run report (Report).
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
