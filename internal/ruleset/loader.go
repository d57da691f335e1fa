package ruleset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/datapack-builder/internal/logging"
	"github.com/shinji-kodama/datapack-builder/internal/model"
)

// Format identifies a ruleset document syntax.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the document format from the file extension.
// Anything that is not YAML or TOML is read as JSON/JSONC.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// rawPair is one match-key/replacement entry before classification.
type rawPair struct {
	key   string
	value string
}

// rawGroup is one selector with its entries in document order.
type rawGroup struct {
	selector string
	pairs    []rawPair
}

// Loader parses ruleset documents into model.RuleSet values.
type Loader struct {
	compiler *Compiler
	logger   zerolog.Logger
}

// NewLoader creates a Loader with its own pattern cache.
func NewLoader() *Loader {
	return &Loader{
		compiler: NewCompiler(defaultCacheSize),
		logger:   logging.GetLogger("ruleset"),
	}
}

// Load reads the ruleset at path.
//
// The returned RuleSet is always usable. When the resource is absent or
// malformed it is empty and the error is a *model.ConfigurationError; when
// individual line patterns fail to compile those rules are dropped and the
// error lists them. An empty path means no ruleset was configured and is not
// an error.
func (l *Loader) Load(path string) (model.RuleSet, error) {
	if path == "" {
		l.logger.Debug().Msg("No ruleset configured")
		return model.RuleSet{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		issue := "cannot read ruleset"
		if errors.Is(err, fs.ErrNotExist) {
			issue = "ruleset not found"
		}
		return model.RuleSet{}, &model.ConfigurationError{Path: path, Issues: []string{issue}, Err: err}
	}

	rs, err := l.Parse(data, FormatFromPath(path))
	if err != nil {
		var cfgErr *model.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
		}
		return rs, err
	}

	l.logger.Debug().
		Str("path", path).
		Int("groups", len(rs.Groups)).
		Int("rules", rs.RuleCount()).
		Msg("Loaded ruleset")
	return rs, nil
}

// Parse decodes a ruleset document of the given format.
func (l *Loader) Parse(data []byte, format Format) (model.RuleSet, error) {
	var (
		groups []rawGroup
		err    error
	)
	switch format {
	case FormatYAML:
		groups, err = parseYAML(data)
	case FormatTOML:
		groups, err = parseTOML(data)
	default:
		groups, err = parseJSON(data)
	}
	if err != nil {
		return model.RuleSet{}, &model.ConfigurationError{
			Issues: []string{fmt.Sprintf("malformed %s document", format)},
			Err:    err,
		}
	}

	return l.build(groups)
}

// build classifies every entry and compiles line patterns. Entries whose
// pattern does not compile are dropped and reported; the rest of the set is
// kept.
func (l *Loader) build(groups []rawGroup) (model.RuleSet, error) {
	var (
		rs     model.RuleSet
		issues []string
	)

	for _, g := range groups {
		group := model.RuleGroup{Selector: g.selector, Rules: make([]model.Rule, 0, len(g.pairs))}
		for _, p := range g.pairs {
			kind, match := model.ClassifyKey(p.key)
			rule := model.Rule{Kind: kind, Raw: p.key, Match: match, Replace: p.value}

			if kind == model.RuleLinePattern {
				re, err := l.compiler.Compile(match)
				if err != nil {
					issues = append(issues, fmt.Sprintf("%s: %v", g.selector, err))
					l.logger.Warn().Err(err).Str("selector", g.selector).Str("key", p.key).Msg("Dropping rule")
					continue
				}
				rule.Pattern = re
			}
			group.Rules = append(group.Rules, rule)
		}
		rs.Groups = append(rs.Groups, group)
	}

	if len(issues) > 0 {
		return rs, &model.ConfigurationError{Issues: issues}
	}
	return rs, nil
}

// appendPair adds an entry, or overwrites the value of an earlier entry with
// the same key in place, matching object semantics of the source document.
func appendPair(pairs []rawPair, key, value string) []rawPair {
	for i := range pairs {
		if pairs[i].key == key {
			pairs[i].value = value
			return pairs
		}
	}
	return append(pairs, rawPair{key: key, value: value})
}

// appendGroup adds a group, or replaces an earlier group with the same
// selector in place.
func appendGroup(groups []rawGroup, g rawGroup) []rawGroup {
	for i := range groups {
		if groups[i].selector == g.selector {
			groups[i].pairs = g.pairs
			return groups
		}
	}
	return append(groups, g)
}

// parseJSON decodes {"selector": {"key": "value", ...}, ...} while keeping
// key order. encoding/json maps lose order, so the document is walked token
// by token.
func parseJSON(data []byte) ([]rawGroup, error) {
	clean := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(clean)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(clean))
	if err := expectDelim(dec, '{', "ruleset"); err != nil {
		return nil, err
	}

	var groups []rawGroup
	for dec.More() {
		selector, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		if err := expectDelim(dec, '{', fmt.Sprintf("rule group %q", selector)); err != nil {
			return nil, err
		}

		var pairs []rawPair
		for dec.More() {
			key, err := readKey(dec)
			if err != nil {
				return nil, err
			}
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			value, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("rule group %q: replacement for %q must be a string", selector, key)
			}
			pairs = appendPair(pairs, key, value)
		}
		if err := expectDelim(dec, '}', fmt.Sprintf("rule group %q", selector)); err != nil {
			return nil, err
		}
		groups = appendGroup(groups, rawGroup{selector: selector, pairs: pairs})
	}

	if err := expectDelim(dec, '}', "ruleset"); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after ruleset object")
	}
	return groups, nil
}

// readKey reads an object key token.
func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

// expectDelim reads one token and checks it is the given delimiter.
func expectDelim(dec *json.Decoder, want json.Delim, what string) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		if want == '{' {
			return fmt.Errorf("%s must be an object", what)
		}
		return fmt.Errorf("%s: expected %q, got %v", what, want, tok)
	}
	return nil
}

// parseYAML decodes the same shape as parseJSON from a YAML mapping. Any
// scalar is accepted as a replacement value; null becomes the empty string.
func parseYAML(data []byte) ([]rawGroup, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("ruleset must be a mapping (line %d)", root.Line)
	}

	var groups []rawGroup
	for i := 0; i+1 < len(root.Content); i += 2 {
		selector := root.Content[i].Value
		body := root.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("rule group %q must be a mapping (line %d)", selector, body.Line)
		}

		var pairs []rawPair
		for j := 0; j+1 < len(body.Content); j += 2 {
			keyNode, valNode := body.Content[j], body.Content[j+1]
			if valNode.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("rule group %q: replacement for %q must be a scalar (line %d)",
					selector, keyNode.Value, valNode.Line)
			}
			value := valNode.Value
			if valNode.Tag == "!!null" {
				value = ""
			}
			pairs = appendPair(pairs, keyNode.Value, value)
		}
		groups = appendGroup(groups, rawGroup{selector: selector, pairs: pairs})
	}
	return groups, nil
}

// tomlDocument is the TOML ruleset shape:
//
//	[[target]]
//	path = "data/foo.json"
//
//	  [[target.rule]]
//	  match = "OLDID"
//	  replace = "newid"
type tomlDocument struct {
	Target []tomlTarget `toml:"target"`
}

type tomlTarget struct {
	Path string     `toml:"path"`
	Rule []tomlRule `toml:"rule"`
}

type tomlRule struct {
	Match   string `toml:"match"`
	Replace string `toml:"replace"`
}

func parseTOML(data []byte) ([]rawGroup, error) {
	var doc tomlDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var groups []rawGroup
	for _, t := range doc.Target {
		var pairs []rawPair
		for _, r := range t.Rule {
			pairs = appendPair(pairs, r.Match, r.Replace)
		}
		groups = appendGroup(groups, rawGroup{selector: t.Path, pairs: pairs})
	}
	return groups, nil
}

// Load reads a ruleset with a fresh Loader. See Loader.Load.
func Load(path string) (model.RuleSet, error) {
	return NewLoader().Load(path)
}
