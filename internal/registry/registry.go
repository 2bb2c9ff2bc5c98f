// Package registry resolves a method identifier (module path, method
// name) to its declared attributes, grounded on
// httomo/runner/methods_repository_interface.py's MethodQuery/MethodRepository
// protocol.
package registry

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/team-gpu/httomo/internal/pattern"
)

// MemoryEstimator predicts the peak bytes per slice and the fixed bytes
// to subtract from the available budget, given the method's non-slice
// shape and element dtype size (bytes), plus any extra parameters it
// needs for the estimate (e.g. a padding factor).
type MemoryEstimator func(nonSliceShape [2]int, dtypeBytes int, extra map[string]any) (peakBytesPerSlice int64, subtractBytes int64)

// OutputShapeEstimator predicts the non-slice output shape a method
// produces given its non-slice input shape.
type OutputShapeEstimator func(nonSliceShape [2]int, extra map[string]any) [2]int

// Info is the static, declared attribute set of one method.
type Info struct {
	Module  string
	Method  string
	Pattern pattern.Pattern
	// Placement is where this method's data buffer must reside to run.
	Placement pattern.Placement
	// ChangesOutputDims reports whether the method can alter the non-slice
	// output shape relative to its input.
	ChangesOutputDims bool
	// SaveByDefault reports whether this method's output is persisted
	// unless explicitly overridden by the pipeline configuration.
	SaveByDefault bool
	// SwapOutputAxes01 reports whether the 3D return value needs axes 0
	// and 1 swapped to match the convention the rest of the pipeline uses
	// (tomopy-style reconstruction methods).
	SwapOutputAxes01 bool

	PredictMemory     MemoryEstimator
	PredictOutputShape OutputShapeEstimator
}

// Key identifies a method by (module, name).
type Key struct {
	Module string
	Name   string
}

// Registry is a static, in-memory table of method attributes.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]Info
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[Key]Info)}
}

// Register adds or replaces the entry for (module, name).
func (r *Registry) Register(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[Key{Module: info.Module, Name: info.Method}] = info
}

// defaultInfo is returned for a method the registry was never told about,
// so `check` can still validate a pipeline's structure without every
// method being hardcoded (the archive/method-package introspection this
// stands in for is out of scope per §1).
func defaultInfo(module, name string) Info {
	return Info{
		Module:    module,
		Method:    name,
		Pattern:   pattern.All,
		Placement: pattern.Host,
	}
}

// Query resolves (module, name) to its declared attributes. ok is false
// only if the caller should treat this as genuinely unknown; in practice
// this registry always succeeds via defaultInfo, matching the original's
// permissive method database lookup.
func (r *Registry) Query(module, name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.entries[Key{Module: module, Name: name}]; ok {
		return info, true
	}
	return defaultInfo(module, name), true
}

// Keys returns every registered (module, name) key, in a stable,
// lexically-sorted order, useful for diagnostics in `check`.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := maps.Keys(r.entries)
	slices.SortFunc(keys, func(a, b Key) bool {
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Name < b.Name
	})
	return keys
}
