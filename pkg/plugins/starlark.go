package plugins

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/loomengine/loom/pkg/engine"
)

// defaultStepBudget bounds how much work one script invocation may do.
const defaultStepBudget = 100_000

// ScriptPlugin contributes rules whose matching and annotation logic lives
// in a Starlark script. The script declares two functions:
//
//	def matches(name):
//	    return name.startswith("demo/")
//
//	def annotate(name):
//	    return "traced"
//
// Units the script matches are stamped with a custom section named after
// the plugin, carrying the annotation string. Scripts run sandboxed: no
// print output, no filesystem, and a bounded step budget per invocation.
type ScriptPlugin struct {
	name    string
	version string
	logger  zerolog.Logger
	steps   uint64

	matches  starlark.Callable
	annotate starlark.Callable
}

var (
	_ engine.Plugin             = (*ScriptPlugin)(nil)
	_ engine.CapabilityDeclarer = (*ScriptPlugin)(nil)
)

// NewScriptPlugin compiles the script and resolves its matches and annotate
// functions. A script missing either function is rejected up front.
func NewScriptPlugin(name, version, script string, logger zerolog.Logger) (*ScriptPlugin, error) {
	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, _ string) {},
	}
	globals, err := starlark.ExecFile(thread, name+".star", script, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin script: %w", err)
	}

	p := &ScriptPlugin{
		name:    name,
		version: version,
		logger:  logger.With().Str("component", "script-plugin").Str("plugin", name).Logger(),
		steps:   defaultStepBudget,
	}
	if p.matches, err = callable(globals, "matches"); err != nil {
		return nil, err
	}
	if p.annotate, err = callable(globals, "annotate"); err != nil {
		return nil, err
	}
	return p, nil
}

func callable(globals starlark.StringDict, name string) (starlark.Callable, error) {
	v, ok := globals[name]
	if !ok {
		return nil, fmt.Errorf("plugin script does not define %s()", name)
	}
	fn, ok := v.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s is %s, want function", name, v.Type())
	}
	return fn, nil
}

func (p *ScriptPlugin) Name() string    { return p.name }
func (p *ScriptPlugin) Version() string { return p.version }

func (p *ScriptPlugin) Capabilities() []string {
	return []string{"append-section", "scripted"}
}

// ContributeRules contributes the script-driven annotation rule.
func (p *ScriptPlugin) ContributeRules() ([]engine.Rule, error) {
	return []engine.Rule{{
		Name:      p.name + ".annotate",
		Matches:   p.ruleMatches,
		Transform: p.ruleTransform,
	}}, nil
}

func (p *ScriptPlugin) ruleMatches(u engine.TypeUnit) bool {
	out, err := p.call(p.matches, u.Name)
	if err != nil {
		p.logger.Warn().Err(err).Str("unit", u.Name).Msg("Script match failed; treating as no match")
		return false
	}
	return bool(out.Truth())
}

func (p *ScriptPlugin) ruleTransform(u engine.TypeUnit) ([]byte, error) {
	out, err := p.call(p.annotate, u.Name)
	if err != nil {
		return nil, fmt.Errorf("script annotation failed: %w", err)
	}
	tag, ok := starlark.AsString(out)
	if !ok {
		return nil, fmt.Errorf("annotate() returned %s, want string", out.Type())
	}
	return AppendCustomSection(u.Bytecode, p.sectionName(), []byte(tag))
}

// call invokes fn(name) on a fresh thread with the step budget applied.
func (p *ScriptPlugin) call(fn starlark.Callable, name string) (starlark.Value, error) {
	thread := &starlark.Thread{
		Name:  p.name,
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(p.steps)
	return starlark.Call(thread, fn, starlark.Tuple{starlark.String(name)}, nil)
}

func (p *ScriptPlugin) sectionName() string {
	return "loom.script/" + p.name
}

// SectionName returns the custom section the plugin stamps into matched
// modules.
func (p *ScriptPlugin) SectionName() string { return p.sectionName() }
