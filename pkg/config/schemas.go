package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds compiled CUE schemas.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in schemas
// compiled. All values share the given context so they can unify with
// parsed configuration; a nil context gets a fresh one.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	// The built-in source compiles; a panic here is a programming error.
	if err := sr.RegisterSchema("engine", builtinEngineSchema); err != nil {
		panic(fmt.Sprintf("config: built-in schema: %v", err))
	}
	return sr
}

// RegisterSchema compiles and registers a CUE schema source under a name.
func (sr *SchemaRegistry) RegisterSchema(name, source string) error {
	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a compiled schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Definition looks up a definition inside a registered schema.
func (sr *SchemaRegistry) Definition(schema, def string) (cue.Value, error) {
	val, ok := sr.GetSchema(schema)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schema)
	}

	d := val.LookupPath(cue.ParsePath("#" + def))
	if !d.Exists() {
		return cue.Value{}, fmt.Errorf("definition #%s not found in schema %s", def, schema)
	}
	return d, nil
}

// ValidateAgainstSchema validates data against a definition by encoding
// it to CUE and unifying.
func (sr *SchemaRegistry) ValidateAgainstSchema(schema, def string, data interface{}) error {
	d, err := sr.Definition(schema, def)
	if err != nil {
		return err
	}

	encoded := sr.ctx.Encode(data)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := d.Unify(encoded)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateRule validates one exclusion rule descriptor.
func (sr *SchemaRegistry) ValidateRule(data interface{}) error {
	return sr.ValidateAgainstSchema("engine", "Rule", data)
}

// ValidateScript validates one script plugin configuration.
func (sr *SchemaRegistry) ValidateScript(data interface{}) error {
	return sr.ValidateAgainstSchema("engine", "Script", data)
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// builtinEngineSchema is the configuration schema. #Config is closed, so
// a misspelled field fails the load instead of being silently ignored.
// Defaults live here; Default() mirrors them for file-less callers.
const builtinEngineSchema = `
// One exclusion rule descriptor.
#Rule: {
	kind:  "prefix" | "substring" | "pattern" | "context-name"
	value: string & !=""
}

// One Starlark-scripted plugin. Exactly one of path and source.
#Script: {
	name:     string & =~"^[a-z0-9][a-z0-9._-]*$"
	version:  *"" | string
	path:     *"" | string
	source:   *"" | string
}

#Config: {
	service: {
		name:        *"loom" | (string & !="")
		version:     *"dev" | string
		environment: *"development" | "staging" | "production" | string
	}

	engine: {
		exclusions: *[] | [...#Rule]
		disable_default_exclusions: *false | bool
	}

	plugins: {
		watermark: {
			enabled: *true | bool
			version: *"" | string
		}
		scripts: *[] | [...#Script]
	}

	telemetry: {
		logging: {
			level:    *"info" | "trace" | "debug" | "warn" | "error" | "fatal"
			format:   *"console" | "json"
			output:   *"stderr" | string
			caller:   *false | bool
			sampling: *false | bool
		}
		tracing: {
			enabled:       *false | bool
			exporter:      *"none" | "otlp" | "stdout"
			endpoint:      *"" | string
			sampling_rate: *1.0 | (>=0.0 & <=1.0)
			insecure:      *true | bool
		}
		metrics: {
			enabled:        *true | bool
			listen_address: *":9090" | string
			path:           *"/metrics" | string
		}
	}

	journal: {
		enabled:        *true | bool
		path:           *"loom-journal.db" | string
		buffer_size:    *1024 | (int & >0)
		flush_interval: *"1s" | string
		max_batch_size: *128 | (int & >0)
	}

	policy: {
		environment: *"" | string
		paths:       *[] | [...string]
		watch:       *false | bool
	}
}
`
