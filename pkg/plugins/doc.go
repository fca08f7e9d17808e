// Package plugins provides the rule contributors that ship with loom.
//
// Plugins implement engine.Plugin: each one contributes named rules to the
// composed pipeline during attach. The built-in set covers the two common
// shapes of instrumentation work:
//
//   - WatermarkPlugin tags every rewritten module with a custom section so
//     that instrumented binaries are identifiable after the fact.
//   - ScriptPlugin delegates matching and annotation to a sandboxed
//     Starlark script, letting operators ship instrumentation logic
//     without recompiling loom.
package plugins
