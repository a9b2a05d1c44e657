// Package config loads the optional on-disk configuration document
// (spec.md §6) and turns it into the immutable Policy snapshot the rest of
// the gateway is built from. Loading happens exactly once, at startup;
// nothing in this package supports reloading (spec.md §5: "Configuration is
// loaded once and never mutated").
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"llmgw/internal/probe"
	"llmgw/internal/registry"
)

// allowedDomain is the on-disk shape of one allowed_domains entry.
type allowedDomain struct {
	AuthType string `json:"auth_type"`
	HTTPS    *bool  `json:"https"`
}

// probeRequest is the on-disk shape of the probe_request block.
type probeRequest struct {
	PathBlocklist       []string `json:"path_blocklist"`
	PathPrefixBlocklist []string `json:"path_prefix_blocklist"`
	AllowedMethods      []string `json:"allowed_methods"`
}

// probeFilter is the on-disk shape of the probe_filter block (log-filter
// regex lists in the source system; here, user-agent substrings and an IP
// blocklist — the fields spec.md's unified probe filter actually consumes).
type probeFilter struct {
	UserAgentSubstrings []string `json:"user_agent_substrings"`
	IPBlocklist         []string `json:"ip_blocklist"`
}

// document is the full on-disk JSON shape (spec.md §6).
type document struct {
	AllowedDomains        map[string]allowedDomain `json:"allowed_domains"`
	ProbeRequest          probeRequest             `json:"probe_request"`
	ProbeFilter           probeFilter              `json:"probe_filter"`
	DefaultOpenAIUpstream string                   `json:"default_openai_upstream"`
	Port                  int                      `json:"port"`
}

// Policy is the immutable, process-wide snapshot built from configuration.
type Policy struct {
	Registry              *registry.Registry
	Probe                 *probe.Filter
	DefaultOpenAIUpstream string // host, empty if none configured
	Port                  int
}

const defaultPort = 8080

// builtinDefaults is used when no configuration file is present, per
// spec.md §6: "Absence ⇒ built-in minimal whitelist containing at least
// api.openai.com and generativelanguage.googleapis.com".
func builtinDefaults() document {
	return document{
		AllowedDomains: map[string]allowedDomain{
			"api.openai.com": {AuthType: "openai", HTTPS: boolPtr(true)},
			"generativelanguage.googleapis.com": {AuthType: "google", HTTPS: boolPtr(true)},
		},
		ProbeRequest: probeRequest{
			AllowedMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
		},
		Port: defaultPort,
	}
}

func boolPtr(b bool) *bool { return &b }

// Load reads the configuration document at path. A missing file is not an
// error — it falls back to builtinDefaults(). A present-but-malformed file
// is a fatal startup error.
func Load(path string) (*Policy, error) {
	doc := builtinDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return buildPolicy(doc), nil
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		var onDisk document
		if err := json.Unmarshal(data, &onDisk); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		doc = mergeDefaults(onDisk)
	}

	return buildPolicy(doc), nil
}

// mergeDefaults fills in the built-in whitelist when the on-disk document
// does not declare allowed_domains at all, but otherwise trusts the document
// fully — an explicit (possibly empty) allowed_domains map is respected as
// the operator's intent, not silently padded.
func mergeDefaults(doc document) document {
	if doc.AllowedDomains == nil {
		defaults := builtinDefaults()
		doc.AllowedDomains = defaults.AllowedDomains
	}
	if doc.Port == 0 {
		doc.Port = defaultPort
	}
	return doc
}

func buildPolicy(doc document) *Policy {
	entries := make([]registry.Entry, 0, len(doc.AllowedDomains))
	for host, d := range doc.AllowedDomains {
		https := true
		if d.HTTPS != nil {
			https = *d.HTTPS
		}
		entries = append(entries, registry.Entry{
			Host:       host,
			AuthScheme: registry.AuthScheme(d.AuthType),
			HTTPS:      https,
		})
	}

	return &Policy{
		Registry: registry.New(entries),
		Probe: probe.New(probe.Rules{
			PathBlocklist:       doc.ProbeRequest.PathBlocklist,
			PathPrefixBlocklist: doc.ProbeRequest.PathPrefixBlocklist,
			AllowedMethods:      doc.ProbeRequest.AllowedMethods,
			UserAgentSubstrings: doc.ProbeFilter.UserAgentSubstrings,
			IPBlocklist:         doc.ProbeFilter.IPBlocklist,
		}),
		DefaultOpenAIUpstream: doc.DefaultOpenAIUpstream,
		Port:                  doc.Port,
	}
}
