// Package config builds the single immutable Config a build runs with.
//
// Layers are merged in increasing priority:
//
//  1. built-in defaults
//  2. a TOML file (datapack.toml in the working directory, or --config)
//  3. a .env file next to it
//  4. DATAPACK_* environment variables ("__" separates nested keys, so
//     DATAPACK_SOURCE__REF sets source.ref)
//  5. command-line flags, passed in as overrides
//
// The merged map is decoded once with mapstructure into Config and never
// mutated afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFileName is the config file looked up in the working directory.
	DefaultFileName = "datapack.toml"
	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "DATAPACK_"
	// AppName names the per-user cache directory.
	AppName = "datapack-builder"
)

// Config is the fully merged configuration of a build.
type Config struct {
	Source      SourceConfig  `koanf:"source" toml:"source"`
	WorkDir     string        `koanf:"work_dir" toml:"work_dir"`
	KeepWorkDir bool          `koanf:"keep_work_dir" toml:"keep_work_dir"`
	Output      OutputConfig  `koanf:"output" toml:"output"`
	Pack        PackConfig    `koanf:"pack" toml:"pack"`
	Rules       RulesConfig   `koanf:"rules" toml:"rules"`
	Archive     ArchiveConfig `koanf:"archive" toml:"archive"`
	Publish     PublishConfig `koanf:"publish" toml:"publish"`
	// Strict turns recoverable per-file failures into a failing exit code.
	Strict bool `koanf:"strict" toml:"strict"`
}

// SourceConfig describes where the data tree comes from.
type SourceConfig struct {
	Repository string `koanf:"repository" toml:"repository"`
	Ref        string `koanf:"ref" toml:"ref"`
	// Method is "git" or "archive".
	Method     string `koanf:"method" toml:"method"`
	ArchiveURL string `koanf:"archive_url" toml:"archive_url"`
	// DataPath is the data subtree's path inside the fetched tree.
	DataPath string `koanf:"data_path" toml:"data_path"`
	// Local, when set, is used as the data subtree directly and nothing is
	// fetched.
	Local string `koanf:"local" toml:"local"`
}

type OutputConfig struct {
	Dir  string `koanf:"dir" toml:"dir"`
	Name string `koanf:"name" toml:"name"`
}

// PackConfig names the skeleton sources. Metadata and Icon are local paths.
type PackConfig struct {
	Metadata    string `koanf:"metadata" toml:"metadata"`
	Icon        string `koanf:"icon" toml:"icon"`
	Format      int    `koanf:"format" toml:"format"`
	Description string `koanf:"description" toml:"description"`
}

type RulesConfig struct {
	Path string `koanf:"path" toml:"path"`
}

type ArchiveConfig struct {
	Enabled bool `koanf:"enabled" toml:"enabled"`
}

type PublishConfig struct {
	Enabled   bool   `koanf:"enabled" toml:"enabled"`
	Endpoint  string `koanf:"endpoint" toml:"endpoint"`
	Bucket    string `koanf:"bucket" toml:"bucket"`
	Region    string `koanf:"region" toml:"region"`
	AccessKey string `koanf:"access_key" toml:"access_key"`
	SecretKey string `koanf:"secret_key" toml:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl" toml:"use_ssl"`
	Prefix    string `koanf:"prefix" toml:"prefix"`
}

// DefaultWorkDir is the fetch directory used when work_dir is left empty.
func DefaultWorkDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Defaults returns the built-in configuration. WorkDir is empty so the
// defaults stay machine independent; Load resolves it with DefaultWorkDir.
func Defaults() Config {
	return Config{
		Source: SourceConfig{
			Repository: "https://github.com/FinnSetchell/MoogsEndStructures.git",
			Ref:        "1.21.4",
			Method:     "git",
			DataPath:   "common/src/main/resources/data",
		},
		Output: OutputConfig{
			Dir: "datapack_output",
		},
		Pack: PackConfig{
			Metadata:    "pack.mcmeta",
			Icon:        "icon.png",
			Format:      61,
			Description: "Moog's End Structures",
		},
		Rules: RulesConfig{
			Path: "rules.json",
		},
		Archive: ArchiveConfig{
			Enabled: true,
		},
		Publish: PublishConfig{
			Region: "us-east-1",
			UseSSL: true,
		},
	}
}

// defaultMap flattens Defaults into koanf's dotted-key form.
func defaultMap() map[string]interface{} {
	d := Defaults()
	return map[string]interface{}{
		"source.repository":  d.Source.Repository,
		"source.ref":         d.Source.Ref,
		"source.method":      d.Source.Method,
		"source.archive_url": d.Source.ArchiveURL,
		"source.data_path":   d.Source.DataPath,
		"source.local":       d.Source.Local,
		"work_dir":           d.WorkDir,
		"keep_work_dir":      d.KeepWorkDir,
		"output.dir":         d.Output.Dir,
		"output.name":        d.Output.Name,
		"pack.metadata":      d.Pack.Metadata,
		"pack.icon":          d.Pack.Icon,
		"pack.format":        d.Pack.Format,
		"pack.description":   d.Pack.Description,
		"rules.path":         d.Rules.Path,
		"archive.enabled":    d.Archive.Enabled,
		"publish.enabled":    d.Publish.Enabled,
		"publish.endpoint":   d.Publish.Endpoint,
		"publish.bucket":     d.Publish.Bucket,
		"publish.region":     d.Publish.Region,
		"publish.access_key": d.Publish.AccessKey,
		"publish.secret_key": d.Publish.SecretKey,
		"publish.use_ssl":    d.Publish.UseSSL,
		"publish.prefix":     d.Publish.Prefix,
		"strict":             d.Strict,
	}
}

// Options controls where Load looks for configuration.
type Options struct {
	// File is an explicit config file. When empty, DefaultFileName in Dir is
	// used if it exists.
	File string
	// Dir is the directory searched for DefaultFileName and .env. Defaults
	// to the working directory.
	Dir string
	// Overrides are dotted keys set from command-line flags.
	Overrides map[string]interface{}
	// Environ replaces os.Environ when non-nil.
	Environ []string
}

// Load merges every configuration layer and decodes the result.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path, err := configFilePath(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	dotenv, err := readDotEnv(opts)
	if err != nil {
		return nil, err
	}
	if err := k.Load(confmap.Provider(envToKeys(dotenv), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if opts.Environ != nil {
		if err := k.Load(confmap.Provider(envToKeys(environMap(opts.Environ)), "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load env vars: %w", err)
		}
	} else {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("failed to load env vars: %w", err)
		}
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load flag overrides: %w", err)
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = DefaultWorkDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints after merging.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Output.Dir) == "" {
		problems = append(problems, "output.dir must not be empty")
	}
	if c.Source.Local == "" && strings.TrimSpace(c.Source.Repository) == "" {
		problems = append(problems, "source.repository or source.local is required")
	}
	switch strings.ToLower(c.Source.Method) {
	case "", "git", "archive":
	default:
		problems = append(problems, fmt.Sprintf("source.method %q must be git or archive", c.Source.Method))
	}
	if c.Publish.Enabled && !c.Archive.Enabled {
		problems = append(problems, "publish.enabled requires archive.enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func configFilePath(opts Options) (string, error) {
	if opts.File != "" {
		if _, err := os.Stat(opts.File); err != nil {
			return "", fmt.Errorf("config file %s: %w", opts.File, err)
		}
		return opts.File, nil
	}
	candidate := filepath.Join(opts.Dir, DefaultFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", nil
}

// readDotEnv reads the .env file beside the config without touching the
// process environment.
func readDotEnv(opts Options) (map[string]string, error) {
	dir := opts.Dir
	if opts.File != "" {
		dir = filepath.Dir(opts.File)
	}
	path := filepath.Join(dir, ".env")
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}

// envKey maps DATAPACK_SOURCE__DATA_PATH to source.data_path.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// envToKeys keeps the prefixed variables of vars and maps their names with
// envKey.
func envToKeys(vars map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for name, value := range vars {
		if !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		out[envKey(name)] = value
	}
	return out
}

func environMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if ok {
			out[name] = value
		}
	}
	return out
}
