package config

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ConfigError reports a semantically invalid configuration (spec.md §6,
// exit code 4), grounded on ConfigError enum.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func errMalformedKey(id string, cause error) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf("malformed key %q: %v", id, cause)}
}

func errKeyLength(id string, length int) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf("key %q has invalid length %d: must be 32", id, length)}
}

func errNoActiveKey() *ConfigError {
	return &ConfigError{msg: "no active key"}
}

func errInvalidHeader(name string) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf("invalid header name %q", name)}
}

// Key is a validated 32-byte AES-256-GCM symmetric key.
type Key struct {
	Value  []byte
	Active bool
}

// Api is one upstream backend proxied under a Bridge.
type Api struct {
	ID      string
	Backend string // always ends in "/"
	Headers []string

	bridge *Bridge
}

// Bridge returns the owning Bridge. Never nil once constructed by Build, but
// kept as a fallible accessor to mirror spec.md §9's weak-reference contract.
func (a *Api) Bridge() (*Bridge, error) {
	if a.bridge == nil {
		return nil, fmt.Errorf("finding bridge from API: %w", errTornDown)
	}

	return a.bridge, nil
}

// Bridge is one configured binding to an IDP.
type Bridge struct {
	ID     string
	IDP    string
	Client string
	Secret string
	Scope  string
	APIs   map[string]*Api

	config *Config

	// IdpMu guards IdpConfiguration, the lazily-populated, memoized
	// metadata cache; see internal/oidcmeta for
	// the fetch logic that populates it.
	IdpMu            sync.RWMutex
	IdpConfiguration *IdpConfiguration
}

// Config returns the owning Config. Never nil once constructed by Build.
func (b *Bridge) Config() (*Config, error) {
	if b.config == nil {
		return nil, fmt.Errorf("finding config from bridge: %w", errTornDown)
	}

	return b.config, nil
}

var errTornDown = fmt.Errorf("configuration root is no longer available")

// IdpConfiguration holds the fields of a `.well-known/openid-configuration`
// document that this system cares about. Unknown fields are
// ignored by the JSON decoder.
type IdpConfiguration struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
}

// Config is the process-wide, immutable-after-construction root of the
// configuration graph.
type Config struct {
	Port         uint16
	ClockSkew    time.Duration
	ExposeErrors bool
	Keys         map[string]Key
	ActiveKeys   []string
	Bridges      map[string]*Bridge
	LogPadding   int
	HTTPClient   *http.Client
}

// Build validates spec and constructs the Config graph, wiring Bridge->Config
// and Api->Bridge back-references. It is the Go analogue of the original
// source's `impl TryFrom<&Spec> for Arc<Config>`.
func Build(spec *Spec) (*Config, error) {
	keys := make(map[string]Key, len(spec.Keys))
	var activeKeys []string

	for _, k := range spec.Keys {
		raw, err := base64.StdEncoding.DecodeString(k.Value)
		if err != nil {
			return nil, errMalformedKey(k.ID, err)
		}

		if len(raw) != 32 {
			return nil, errKeyLength(k.ID, len(raw))
		}

		keys[k.ID] = Key{Value: raw, Active: k.Active}
		if k.Active {
			activeKeys = append(activeKeys, k.ID)
		}
	}

	if len(activeKeys) == 0 {
		return nil, errNoActiveKey()
	}

	logPadding := 0
	for _, b := range spec.Bridges {
		width := 2 + len(b.ID)
		maxAPI := 0
		for _, a := range b.APIs {
			if len(a.ID) > maxAPI {
				maxAPI = len(a.ID)
			}
		}

		width += maxAPI
		if width > logPadding {
			logPadding = width
		}
	}

	cfg := &Config{
		Port:         spec.Port,
		ClockSkew:    time.Duration(spec.ClockSkew) * time.Second,
		ExposeErrors: spec.ExposeErrors,
		Keys:         keys,
		ActiveKeys:   activeKeys,
		LogPadding:   logPadding,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		Bridges:      make(map[string]*Bridge, len(spec.Bridges)),
	}

	for _, b := range spec.Bridges {
		bridge := &Bridge{
			ID:     b.ID,
			IDP:    b.IDP,
			Client: b.Client,
			Secret: b.Secret,
			Scope:  b.Scope,
			config: cfg,
			APIs:   make(map[string]*Api, len(b.APIs)),
		}

		for _, a := range b.APIs {
			backend := a.Backend
			if !strings.HasSuffix(backend, "/") {
				backend += "/"
			}

			headers := make([]string, 0, len(a.Headers))
			for _, h := range a.Headers {
				lower := strings.ToLower(h)
				if !validHeaderName(lower) {
					return nil, errInvalidHeader(h)
				}

				headers = append(headers, lower)
			}

			bridge.APIs[a.ID] = &Api{
				ID:      a.ID,
				Backend: backend,
				Headers: headers,
				bridge:  bridge,
			}
		}

		cfg.Bridges[b.ID] = bridge
	}

	return cfg, nil
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		default:
			return false
		}
	}

	return true
}

// Redacted returns a copy of cfg suitable for logging: key material and
// client secrets are replaced with asterisks, mirroring the original
// source's serialize_asterisks HCL serializer.
func (c *Config) Redacted() map[string]any {
	keys := make(map[string]any, len(c.Keys))
	for id, k := range c.Keys {
		keys[id] = map[string]any{"value": "*****", "active": k.Active}
	}

	bridges := make(map[string]any, len(c.Bridges))
	for id, b := range c.Bridges {
		apis := make(map[string]any, len(b.APIs))
		for aid, a := range b.APIs {
			apis[aid] = map[string]any{"backend": a.Backend, "headers": a.Headers}
		}

		bridges[id] = map[string]any{
			"idp":    b.IDP,
			"client": b.Client,
			"secret": "*****",
			"scope":  b.Scope,
			"api":    apis,
		}
	}

	return map[string]any{
		"port":          c.Port,
		"clock_skew":    int(c.ClockSkew.Seconds()),
		"expose_errors": c.ExposeErrors,
		"key":           keys,
		"bridge":        bridges,
	}
}
