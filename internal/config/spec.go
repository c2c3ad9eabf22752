// Package config implements the configuration model described in spec.md
// §3 and §6: a typed, validated, cross-linked Config/Bridge/Api graph built
// from an HCL source. The grammar mirrors own HCL
// spec (components/spec.rs): `key "<id>" { ... }` and `bridge "<id>" {
// api "<id>" { ... } }` labeled blocks.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// KeySpec is the raw, unvalidated form of a `key "<id>"` block.
type KeySpec struct {
	ID     string `hcl:",label"`
	Value  string `hcl:"value"`
	Active bool   `hcl:"active,optional"`
}

// ApiSpec is the raw, unvalidated form of an `api "<id>"` block nested
// inside a bridge.
type ApiSpec struct {
	ID      string   `hcl:",label"`
	Backend string   `hcl:"backend"`
	Headers []string `hcl:"headers,optional"`
}

// BridgeSpec is the raw, unvalidated form of a `bridge "<id>"` block.
type BridgeSpec struct {
	ID     string    `hcl:",label"`
	IDP    string    `hcl:"idp"`
	Client string    `hcl:"client"`
	Secret string    `hcl:"secret"`
	Scope  string    `hcl:"scope,optional"`
	APIs   []ApiSpec `hcl:"api,block"`
}

// Spec is the raw, unvalidated configuration as parsed straight from HCL.
// Defaults named in spec.md §6 are applied here before Config construction.
type Spec struct {
	Port         uint16       `hcl:"port,optional"`
	ClockSkew    uint16       `hcl:"clock_skew,optional"`
	ExposeErrors bool         `hcl:"expose_errors,optional"`
	Keys         []KeySpec    `hcl:"key,block"`
	Bridges      []BridgeSpec `hcl:"bridge,block"`
}

const (
	defaultPort         = 8080
	defaultClockSkew    = 30
	defaultScope        = "openid"
)

func defaultHeaders() []string {
	return []string{"content-type"}
}

// ParseSpec decodes an HCL source (after environment-variable substitution)
// into a Spec, applying the grammar-level defaults.
func ParseSpec(filename string, src []byte) (*Spec, error) {
	var spec Spec
	err := hclsimple.Decode(filename, src, nil, &spec)
	if err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if spec.Port == 0 {
		spec.Port = defaultPort
	}

	if spec.ClockSkew == 0 {
		spec.ClockSkew = defaultClockSkew
	}

	for i := range spec.Bridges {
		if spec.Bridges[i].Scope == "" {
			spec.Bridges[i].Scope = defaultScope
		}

		for j := range spec.Bridges[i].APIs {
			if len(spec.Bridges[i].APIs[j].Headers) == 0 {
				spec.Bridges[i].APIs[j].Headers = defaultHeaders()
			}
		}
	}

	return &spec, nil
}
