// Package ruleset loads the declarative rewrite ruleset used by the
// datapack-builder pipeline.
//
// A ruleset maps target selectors (paths relative to the output root) to
// ordered groups of match-key/replacement pairs. Three document formats are
// accepted, chosen by file extension:
//
//   - JSON / JSONC (default): comments and trailing commas are stripped with
//     github.com/tidwall/jsonc before an order-preserving token decode.
//   - YAML: decoded through gopkg.in/yaml.v3 nodes so mapping order survives.
//   - TOML: github.com/pelletier/go-toml/v2 with [[target]] / [[target.rule]]
//     arrays, since TOML tables carry no order.
//
// Match keys are classified once, at load time, into literal and line-pattern
// rules (see model.ClassifyKey). Line patterns are compiled here as well, so
// the rewrite engine never re-parses key strings.
//
// Loading never aborts the pipeline: an absent or malformed resource yields
// an empty RuleSet together with a *model.ConfigurationError for the caller
// to report.
package ruleset
