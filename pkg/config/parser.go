package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// Parser parses and validates CUE configuration files.
type Parser struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	ctx := cuecontext.New()
	return &Parser{
		ctx:       ctx,
		schemas:   NewSchemaRegistry(ctx),
		validator: validator.New(),
	}
}

// Load parses the given files or directories, unifies them with the
// #Config schema, and returns the decoded configuration. With no sources
// it returns the defaults.
func (p *Parser) Load(sources ...string) (*Config, error) {
	if len(sources) == 0 {
		return Default(), nil
	}

	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if info.IsDir() {
			dirFiles, err := cueFilesIn(source)
			if err != nil {
				return nil, err
			}
			if len(dirFiles) == 0 {
				return nil, fmt.Errorf("no CUE files found in %s", source)
			}
			files = append(files, dirFiles...)
		} else {
			files = append(files, source)
		}
	}

	schema, err := p.schemas.Definition("engine", "Config")
	if err != nil {
		return nil, err
	}

	unified := schema
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		val := p.ctx.CompileString(string(content), cue.Filename(file))
		if err := val.Err(); err != nil {
			return nil, validationFailure(err)
		}
		unified = unified.Unify(val)
	}

	return p.finish(unified)
}

// ParseInline parses inline CUE content against the schema.
func (p *Parser) ParseInline(content string) (*Config, error) {
	schema, err := p.schemas.Definition("engine", "Config")
	if err != nil {
		return nil, err
	}

	val := p.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, validationFailure(err)
	}

	return p.finish(schema.Unify(val))
}

// finish validates the unified value, decodes it, and runs the struct
// and semantic validation passes.
func (p *Parser) finish(unified cue.Value) (*Config, error) {
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, validationFailure(err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := p.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SchemaRegistry returns the parser's schema registry.
func (p *Parser) SchemaRegistry() *SchemaRegistry {
	return p.schemas
}

// cueFilesIn lists .cue files under a directory.
func cueFilesIn(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return files, nil
}

// ValidationError is one configuration error with source position.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// ValidationErrors is the full set of errors from one load.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// validationFailure converts CUE errors, keeping their positions.
func validationFailure(err error) error {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: e.Error()}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		return err
	}
	return out
}
