// internal/config/model.go
//
// Typed configuration model for the archive service.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                            – dotenv values,
//   • `conf/global.yaml`                         – primary static file,
//   • `RECOVERY_`-prefixed environment overrides – highest precedence.
//
// A `database.password` that begins with `vault:` is resolved through
// `internal/secret` after validation, so callers of `Load()` only ever see
// the plain secret.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Zero values fall back to the engine defaults in `withDefaults`.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/yanizio/schoolarchive/internal/entity"
)

//
// HTTP section
//

// HTTP holds web-server tunables.  ActorHeader and RolesHeader name the
// headers the upstream gate sets after it has authenticated the caller.
type HTTP struct {
	ListenAddr   string        `koanf:"listen_addr"   validate:"required,hostname_port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"  validate:"gte=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"  validate:"gte=0"`
	ActorHeader  string        `koanf:"actor_header"`
	RolesHeader  string        `koanf:"roles_header"`
	ForceHTTPS   bool          `koanf:"force_https"`
}

//
// Database section
//

// Database holds the DSN template and its secret.
//
// For MySQL the DSN may carry one `%s` verb where the password goes, so
// operators can change host or flags without touching Vault.  SQLite DSNs
// are a file path and ignore Password.
type Database struct {
	Driver          string        `koanf:"driver"            validate:"required,oneof=mysql sqlite"`
	DSN             string        `koanf:"dsn"               validate:"required"`
	Password        string        `koanf:"password"`
	MaxOpenConns    int           `koanf:"max_open_conns"    validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gte=0"`
	PingRetries     int           `koanf:"ping_retries"      validate:"gte=0,lte=30"`
}

// ResolvedDSN splices Password into a templated DSN.
func (d Database) ResolvedDSN() string {
	if strings.Contains(d.DSN, "%s") {
		return fmt.Sprintf(d.DSN, d.Password)
	}
	return d.DSN
}

//
// Archive section
//

// Archive tunes the archive engine.  Table lists are candidate names; the
// first one present in the live schema wins.
type Archive struct {
	RootTables       []string `koanf:"root_tables"`
	RootKeys         []string `koanf:"root_keys"`
	ArchiveTables    []string `koanf:"archive_tables"`
	ActivityTables   []string `koanf:"activity_tables"`
	AdminTables      []string `koanf:"admin_tables"`
	MaxIDs           int      `koanf:"max_ids"           validate:"gte=0,lte=500"`
	ChunkSize        int      `koanf:"chunk_size"        validate:"gte=0,lte=500"`
	CascadeDepth     int      `koanf:"cascade_depth"     validate:"gte=0,lte=10"`
	ForensicSnapshot *bool    `koanf:"forensic_snapshot"`
}

//
// Recovery section
//

// Recovery tunes preview and restore.
type Recovery struct {
	MaxIDs int `koanf:"max_ids" validate:"gte=0,lte=200"`
}

//
// Identity section
//

// Identity tunes the identifier reconciler.  When Async is false repairs
// run inline on the request goroutine.
type Identity struct {
	Async         bool          `koanf:"async"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"gte=0,lte=10"`
	Timeout       time.Duration `koanf:"timeout"        validate:"gte=0"`
	MaxIDs        int           `koanf:"max_ids"        validate:"gte=0,lte=500"`
}

//
// Audit section
//

// Audit switches the zap-backed audit sink.
type Audit struct {
	Enabled bool `koanf:"enabled"`
}

//
// ACL section
//

// ACL holds static grants: role name to "entity:action" patterns.  When
// empty, permissions come from the portal's role tables.
type ACL struct {
	Grants map[string][]string `koanf:"grants"`
}

//
// Vault section
//

// Vault configures secret resolution.  Address and Token fall back to the
// usual VAULT_ADDR and VAULT_TOKEN variables when empty.
type Vault struct {
	Address  string        `koanf:"address"`
	Token    string        `koanf:"token"`
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"gte=0"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // RECOVERY_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the aggregate returned by Load().  Treat it as read-only once
// loaded.
type Config struct {
	HTTP     HTTP            `koanf:"http"`
	Database Database        `koanf:"database"`
	Archive  Archive         `koanf:"archive"`
	Recovery Recovery        `koanf:"recovery"`
	Identity Identity        `koanf:"identity"`
	Audit    Audit           `koanf:"audit"`
	ACL      ACL             `koanf:"acl"`
	Vault    Vault           `koanf:"vault"`
	Entities []entity.Entity `koanf:"entities" validate:"dive"`
	Paths    Paths           `koanf:"-"`
}

// withDefaults fills zero values that the engines would otherwise reject.
func (c *Config) withDefaults() {
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 120 * time.Second
	}
	if c.HTTP.ActorHeader == "" {
		c.HTTP.ActorHeader = "X-Actor-Id"
	}
	if c.HTTP.RolesHeader == "" {
		c.HTTP.RolesHeader = "X-Actor-Roles"
	}
	if c.Identity.RetryAttempts == 0 {
		c.Identity.RetryAttempts = 3
	}
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 30 * time.Second
	}
	if c.Identity.MaxIDs == 0 {
		c.Identity.MaxIDs = 500
	}
	if c.Archive.ForensicSnapshot == nil {
		on := true
		c.Archive.ForensicSnapshot = &on
	}
	if c.Vault.CacheTTL == 0 {
		c.Vault.CacheTTL = 10 * time.Minute
	}
}
