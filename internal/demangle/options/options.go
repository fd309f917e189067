// Package options holds the demangle.Option presets used when resolving
// native (C++) symbol names. Adapted from the teacher's
// cpp/demangle/demangle.go (grafana-pyroscope/ebpf), which offers the
// same four presets for eBPF-collected native stacks.
package options

import "github.com/ianlancetaylor/demangle"

// Preset names one of the canned demangle.Option combinations.
type Preset int

const (
	// Simplified strips both the argument list and template parameters
	// — the default for stack-trace display (spec.md §4.6 "argument
	// list stripped").
	Simplified Preset = iota
	// Templates keeps template parameters but drops argument lists.
	Templates
	// Full keeps everything except compiler clone suffixes.
	Full
	// None disables demangling entirely.
	None
)

var presets = map[Preset][]demangle.Option{
	Simplified: {demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams},
	Templates:  {demangle.NoParams, demangle.NoEnclosingParams},
	Full:       {demangle.NoClones},
	None:       {},
}

// Options returns the demangle.Option slice for a preset.
func Options(p Preset) []demangle.Option {
	return presets[p]
}

// Parse maps a config string ("none"/"simplified"/"templates"/"full")
// to a Preset, defaulting to Simplified for an unrecognized value.
func Parse(s string) Preset {
	switch s {
	case "none":
		return None
	case "templates":
		return Templates
	case "full":
		return Full
	default:
		return Simplified
	}
}
