// Package provider holds the static AI provider registry and the HTTP
// gateway that issues completion requests against it.
package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

// Config describes one AI provider: where to POST, the static payload fields
// merged into every request, and any static headers. Loaded once at startup
// and immutable thereafter.
type Config struct {
	// Endpoint is the full URL of the provider's completion endpoint.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Payload holds the static request fields (model, sampling parameters).
	// The per-message prompt replaces any "messages" entry at request time.
	Payload map[string]any `json:"payload" yaml:"payload"`

	// Headers are static HTTP headers sent with every request. The
	// Authorization header is always overwritten with the sender's credential.
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// configFile is the on-disk shape: a single "ais" object keyed by provider name.
type configFile struct {
	AIs map[string]Config `json:"ais" yaml:"ais"`
}

// Registry is the immutable set of configured providers.
type Registry struct {
	providers map[string]Config
}

// Load reads, decodes, and schema-validates the provider config file.
// Files ending in .yaml or .yml decode as YAML; everything else as JSON.
// Any failure here is fatal to startup — there is no usable default.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider config %s: %w", path, err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return Parse(data, ext == ".yaml" || ext == ".yml")
}

// Parse decodes and validates a raw provider config document.
func Parse(data []byte, isYAML bool) (*Registry, error) {
	// Normalize to a plain JSON value first so the schema validator sees the
	// same types regardless of the source encoding.
	var raw any
	if isYAML {
		var yamlVal any
		if err := yaml.Unmarshal(data, &yamlVal); err != nil {
			return nil, fmt.Errorf("parse provider config yaml: %w", err)
		}
		jsonBytes, err := json.Marshal(yamlVal)
		if err != nil {
			return nil, fmt.Errorf("normalize provider config: %w", err)
		}
		data = jsonBytes
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse provider config json: %w", err)
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}

	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode provider config: %w", err)
	}

	return &Registry{providers: cfg.AIs}, nil
}

// compileSchema compiles the embedded JSON Schema.
func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("load embedded config schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile embedded config schema: %w", err)
	}
	return schema, nil
}

// Get returns the config for a provider name and whether it exists.
func (r *Registry) Get(name string) (Config, bool) {
	cfg, ok := r.providers[name]
	return cfg, ok
}

// Names returns the configured provider names, sorted for stable display.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
