// internal/secret/secret.go
//
// Vault-backed secret resolution.
//
// Context
// -------
//   - Wraps the HashiCorp Vault Go SDK in a concurrency-safe client.
//   - Resolves configuration references of the form
//     `vault:<mount>/<path>#<key>` against a KV-v2 engine, with per-key
//     caching and background token renewal.
//   - Used by `internal/config` so the database password never lives in YAML
//     or git history.
//
// Public workflow
// ---------------
//  1. cli, err := secret.New(ctx, secret.Options{…}, log)   // during boot.
//  2. pw,  err := cli.Resolve(ctx, "vault:kv/portal/db#password")
//
// Notes
// -----
//   - Oxford commas, two spaces after periods, no m-dash.
package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// Prefix marks a configuration value as a Vault reference.
const Prefix = "vault:"

//
// SECTION 1.  References
//

// Ref is a parsed `vault:` reference.
type Ref struct {
	Mount string
	Path  string
	Key   string
}

// IsRef reports whether s should be resolved through Vault.
func IsRef(s string) bool { return strings.HasPrefix(s, Prefix) }

// ParseRef splits `vault:<mount>/<path>#<key>`.
func ParseRef(s string) (Ref, error) {
	if !IsRef(s) {
		return Ref{}, fmt.Errorf("secret ref %q: missing %q prefix", s, Prefix)
	}
	body := strings.TrimPrefix(s, Prefix)
	p, key, ok := strings.Cut(body, "#")
	if !ok || key == "" {
		return Ref{}, fmt.Errorf("secret ref %q: missing #key", s)
	}
	mount, rel := splitMount(p)
	if mount == "" || rel == "" {
		return Ref{}, fmt.Errorf("secret ref %q: want <mount>/<path>", s)
	}
	return Ref{Mount: mount, Path: rel, Key: key}, nil
}

func (r Ref) String() string { return r.Mount + "/" + r.Path + "#" + r.Key }

//
// SECTION 2.  Client
//

// Options configures New.  Empty fields fall back to VAULT_ADDR and
// VAULT_TOKEN.
type Options struct {
	Address  string
	Token    string
	CacheTTL time.Duration
}

// Client is safe for concurrent use.  Zero value is invalid.
type Client struct {
	api *vault.Client
	ttl time.Duration
	log *zap.Logger

	cacheMu sync.RWMutex
	cache   map[string]cached
}

type cached struct {
	val string
	exp time.Time
}

// New constructs a client and starts token renewal bound to ctx.
func New(ctx context.Context, opts Options, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cfg := vault.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("vault env cfg: %w", cfg.Error)
	}
	if opts.Address != "" {
		cfg.Address = opts.Address
	}

	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if opts.Token != "" {
		apiCli.SetToken(opts.Token)
	}

	c := &Client{
		api:   apiCli,
		ttl:   opts.CacheTTL,
		log:   log.Named("vault"),
		cache: make(map[string]cached),
	}
	go c.renewLoop(ctx)
	return c, nil
}

// Resolve returns the plain value for a `vault:` reference.  Any other
// string is returned unchanged.
func (c *Client) Resolve(ctx context.Context, s string) (string, error) {
	if !IsRef(s) {
		return s, nil
	}
	ref, err := ParseRef(s)
	if err != nil {
		return "", err
	}
	return c.GetKV(ctx, ref)
}

// GetKV fetches one key from a KV-v2 secret, cached for the client TTL.
func (c *Client) GetKV(ctx context.Context, ref Ref) (string, error) {
	canonical := ref.String()

	if c.ttl > 0 {
		c.cacheMu.RLock()
		cv, ok := c.cache[canonical]
		c.cacheMu.RUnlock()
		if ok && time.Now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	sec, err := c.api.KVv2(ref.Mount).Get(ctx, ref.Path)
	if err != nil {
		return "", fmt.Errorf("vault get %s/%s: %w", ref.Mount, ref.Path, err)
	}
	raw, ok := sec.Data[ref.Key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %s/%s", ref.Key, ref.Mount, ref.Path)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", errors.New("value at " + canonical + " is not a string")
	}

	if c.ttl > 0 {
		c.cacheMu.Lock()
		c.cache[canonical] = cached{val: sval, exp: time.Now().Add(c.ttl)}
		c.cacheMu.Unlock()
	}
	return sval, nil
}

//
// SECTION 3.  Background token renewal
//

func (c *Client) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		sec, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
		if err != nil {
			c.log.Debug("token renew self failed", zap.Error(err))
			sleep(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			c.log.Debug("token is not renewable, sleeping 1h")
			sleep(ctx, time.Hour)
			continue
		}

		watcher, err := c.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
			Secret: sec,
		})
		if err != nil {
			c.log.Warn("lifetime watcher init failed", zap.Error(err))
			sleep(ctx, 30*time.Second)
			continue
		}
		c.watch(ctx, watcher)
		sleep(ctx, 15*time.Second)
	}
}

// watch blocks until the watcher stops or ctx ends.
func (c *Client) watch(ctx context.Context, w *vault.LifetimeWatcher) {
	go w.Start()
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				c.log.Warn("token renewal stopped", zap.Error(err))
			}
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				c.log.Info("token renewed", zap.Int("ttl_seconds", ev.Secret.Auth.LeaseDuration))
			}
		}
	}
}

//
// SECTION 4.  Helpers
//

func splitMount(p string) (mount, rel string) {
	parts := strings.SplitN(strings.Trim(p, "/"), "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
