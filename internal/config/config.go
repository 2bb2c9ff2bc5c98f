// Package config loads the YAML pipeline declaration §6 describes: an
// ordered list of single-module, single-method steps, the loader always
// first. Grounded on task_runner.py's _get_method_funcs/
// _initialise_datasets_and_stats (open_yaml_config + popitem/popitem
// unwrapping) and _check_params_for_sweep's up-front sweep rejection,
// expressed with gopkg.in/yaml.v2's order-preserving yaml.MapSlice since
// the pipeline format depends on each step being exactly one key. A
// parameter value of `{from: "<method>.<key>"}` binds to an earlier
// step's published side output (§4.3's Universal Property); see
// OutputRefBinding.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/team-gpu/httomo/internal/errs"
)

// Entry is one parsed pipeline step: a module, the single method it
// declares, and that method's raw parameter map.
type Entry struct {
	Module string
	Method string
	Params map[string]any
}

// OutputRefBinding is parsed from a `{from: "<method>.<key>"}` parameter
// mapping, the pipeline-YAML spelling of spec.md §4.3's Universal
// Property: a side output published by an earlier method, bound into a
// later method's parameter map. BuildWrappers resolves each binding
// against the wrappers already built for the entries preceding it into a
// concrete wrapper.OutputRef.
type OutputRefBinding struct {
	Method string
	Key    string
}

// Pipeline is a loader entry followed by the method entries, in the
// order the user declared them.
type Pipeline struct {
	Loader  Entry
	Methods []Entry
}

// Load parses path and validates it has at least a loader step and no
// parameter sweeps, matching the original's up-front checks that run
// before any section planning.
func Load(path string) (*Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IOErr(errs.PhasePlan, "", "reading pipeline file %s: %w", path, err)
	}

	var items []yaml.MapSlice
	if err := yaml.Unmarshal(raw, &items); err != nil {
		return nil, errs.Configuration("", "parsing pipeline YAML: %w", err)
	}
	if len(items) == 0 {
		return nil, errs.Configuration("", "pipeline declares no steps")
	}

	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		e, err := parseEntry(item)
		if err != nil {
			return nil, errs.Configuration("", "step %d: %w", i, err)
		}
		if err := checkSweep(e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return &Pipeline{Loader: entries[0], Methods: entries[1:]}, nil
}

// parseEntry unwraps one step's module key and, beneath it, its single
// method key, mirroring popitem()/popitem() in _get_method_funcs. Only
// the outermost list is decoded as yaml.MapSlice (to preserve step
// order, which matters for the pipeline); yaml.v2 decodes every nested
// mapping as the plain map[interface{}]interface{} it always produces
// for interface{}-typed targets, so this module key's single method
// must be found by iterating rather than indexing.
func parseEntry(item yaml.MapSlice) (Entry, error) {
	if len(item) != 1 {
		return Entry{}, fmt.Errorf("expected exactly one module key, got %d", len(item))
	}
	moduleName, ok := item[0].Key.(string)
	if !ok {
		return Entry{}, fmt.Errorf("module key is not a string")
	}
	inner, ok := item[0].Value.(map[interface{}]interface{})
	if !ok || len(inner) != 1 {
		return Entry{}, fmt.Errorf("module %q must declare exactly one method", moduleName)
	}
	var methodName string
	var methodParams any
	for k, v := range inner {
		ks, ok := k.(string)
		if !ok {
			return Entry{}, fmt.Errorf("method key under %q is not a string", moduleName)
		}
		methodName, methodParams = ks, v
	}
	params, err := toStringMap(methodParams)
	if err != nil {
		return Entry{}, fmt.Errorf("method %q params: %w", methodName, err)
	}
	return Entry{Module: moduleName, Method: methodName, Params: params}, nil
}

// toStringMap normalizes a decoded nested YAML mapping
// (map[interface{}]interface{}) into map[string]any.
func toStringMap(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a parameter map, got %T", v)
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		ks, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("parameter key %v is not a string", k)
		}
		out[ks] = normalizeValue(val)
	}
	return out, nil
}

func normalizeValue(v any) any {
	switch vv := v.(type) {
	case map[interface{}]interface{}:
		m, _ := toStringMap(vv)
		if ref, ok := asOutputRefBinding(m); ok {
			return ref
		}
		return m
	case []interface{}:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// asOutputRefBinding recognizes the `{from: "<method>.<key>"}` mapping
// convention, the same "one reserved key names a non-literal parameter"
// idiom checkSweep uses for `{sweep: [...]}`.
func asOutputRefBinding(m map[string]any) (OutputRefBinding, bool) {
	if len(m) != 1 {
		return OutputRefBinding{}, false
	}
	raw, ok := m["from"].(string)
	if !ok {
		return OutputRefBinding{}, false
	}
	i := strings.LastIndexByte(raw, '.')
	if i < 0 || i == 0 || i == len(raw)-1 {
		return OutputRefBinding{}, false
	}
	return OutputRefBinding{Method: raw[:i], Key: raw[i+1:]}, true
}

// checkSweep rejects a parameter sweep before any section planning runs,
// matching _check_params_for_sweep's up-front ValueError. PyYAML's
// parser distinguishes a genuine sweep (a Python tuple in the original
// YAML) from an ordinary list parameter by type; yaml.v2 has no tuple
// type to mirror that, so this module represents a sweep explicitly as
// a `{sweep: [...]}` mapping instead of overloading plain lists.
func checkSweep(e Entry) error {
	for name, v := range e.Params {
		if isSweep(v) {
			return errs.Configuration(e.Method, "parameter %q declares a sweep of values, which this module does not support", name)
		}
	}
	return nil
}

func isSweep(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	list, ok := m["sweep"].([]any)
	return ok && len(list) > 0
}
