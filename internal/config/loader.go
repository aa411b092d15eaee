// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional `.env` file at `<root>/conf/.env`.
  2. `conf/global.yaml`.
  3. Environment variables prefixed `RECOVERY_`, where `__` maps to "."
     (e.g., `RECOVERY_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, the tree is unmarshalled into strongly-typed structs,
defaulted, validated, and enriched with the runtime root path.  A `vault:`
database password is then swapped for the plain secret.  Callers own the
returned value; the binaries load once at start-up and pass it down.

Instrumentation
---------------
  • DEBUG spans: root discovery, YAML read.
  • ERROR spans: YAML parse, env overlay, unmarshal, validation, and secret
    failures.
  • INFO span: final "config loaded" with key highlights.
  • Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/global.yaml`, so
    `go run ./cmd/web` works from any sub-directory.
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/secret"
)

// EnvPrefix marks environment overrides.
const EnvPrefix = "RECOVERY_"

// Resolver turns a `vault:` reference into its plain value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// newResolver is swapped in tests so no Vault server is needed.
var newResolver = func(ctx context.Context, v Vault) (Resolver, error) {
	return secret.New(ctx, secret.Options{Address: v.Address, Token: v.Token, CacheTTL: v.CacheTTL}, zap.L())
}

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves RECOVERY_ROOT or climbs directories until
// conf/global.yaml is found.  Falls back to the executable layout.
func rootDir() string {
	if r := os.Getenv(EnvPrefix + "ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads the discovered root.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, rootDir())
}

// LoadFrom reads .env, YAML, and env overrides under root, validates, and
// returns the Config.
func LoadFrom(ctx context.Context, root string) (*Config, error) {
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// RECOVERY_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.withDefaults()
	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	if secret.IsRef(cfg.Database.Password) {
		r, err := newResolver(ctx, cfg.Vault)
		if err != nil {
			zap.S().Errorw("config vault client failed", "err", err)
			return nil, err
		}
		pw, err := r.Resolve(ctx, cfg.Database.Password)
		if err != nil {
			zap.S().Errorw("config secret resolve failed", "err", err)
			return nil, fmt.Errorf("database.password: %w", err)
		}
		cfg.Database.Password = pw
	}

	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"driver", cfg.Database.Driver,
		"entities", len(cfg.Entities),
		"identity_async", cfg.Identity.Async,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ToLower(strings.ReplaceAll(s, "__", "."))
}
