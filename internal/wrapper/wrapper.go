// Package wrapper implements the uniform method-call interface of
// spec.md §4.3, grounded on httomo/runner/backend_wrapper.py and the
// newer method_wrappers/ package it was split out of. Each variant is a
// small struct implementing Wrapper; selection between variants is a
// pure function of (module path, method name), never open inheritance
// (Design Notes).
package wrapper

import (
	"fmt"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/runctx"
)

// Args is the fully-bound argument set handed to a Method call.
type Args map[string]any

// Method is the external, numerical-method collaborator a Wrapper
// drives; its implementation is out of scope per §1 (contract only).
// ParamNames lists the names the framework should bind, mirroring
// backend_wrapper.py's use of inspect.signature(self.method) in the
// absence of Go runtime parameter introspection.
type Method interface {
	ParamNames() []string
	Call(args Args) (any, error)
}

// Wrapper is the protocol every method variant implements.
type Wrapper interface {
	ModulePath() string
	MethodName() string
	Info() registry.Info
	// Execute runs this wrapper against one block, returning the
	// (possibly mutated in place) resulting block.
	Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error)
	// SideOutputs returns values this wrapper has published so far, to be
	// merged into the parameter map visible to later wrappers (§4.3).
	SideOutputs() map[string]any
	// SaveResult reports whether this wrapper's output should be
	// persisted via an intermediate writer inserted after it.
	SaveResult() bool
	// GlobStats reports whether this wrapper declared glob_stats: true.
	GlobStats() bool
	// ReturnHost reports whether this wrapper was flagged by the
	// sectionizer to hand back host-resident data (§4.4 "return-to-host
	// hints").
	ReturnHost() bool
	SetReturnHost(bool)
	// Params exposes the wrapper's live parameter map, including any
	// OutputRef values not yet resolved — the sectionizer inspects this to
	// find side-output dependencies (§4.4); the runner substitutes resolved
	// side outputs into this same map in place, and buildArgs binds from it.
	Params() map[string]any
	// SetPattern stamps the section's finalized pattern onto this wrapper
	// (§4.4 "stamp onto wrapper"), overriding the registry-declared value
	// so blocks are cut along the right dimension even for methods
	// originally declared Pattern.All.
	SetPattern(pattern.Pattern)
}

// OutputRef is a configuration-time reference to another wrapper's side
// output (e.g. a pipeline YAML entry binding a parameter to a previous
// method's published "cor"). The runner resolves these into concrete
// values once the referenced wrapper has executed; the sectionizer only
// needs to know which wrapper a reference points to.
type OutputRef struct {
	Method Wrapper
	Key    string
}

// Base implements the fields and bookkeeping common to every variant;
// concrete variants embed it and override Execute (or the hook methods a
// Generic wrapper exposes).
type Base struct {
	modulePath string
	methodName string
	info       registry.Info
	params     map[string]any
	side       map[string]any
	saveResult bool
	globStats  bool
	returnHost bool

	// TaskID distinguishes this wrapper occurrence. Neither the
	// sectionizer nor the runner assigns it; intermediate-file naming
	// takes the wrapper's pipeline position from PrevMethodIdentity.TaskID.
	TaskID int
}

func NewBase(modulePath, methodName string, info registry.Info, params map[string]any, saveResult, globStats bool) Base {
	return Base{
		modulePath: modulePath,
		methodName: methodName,
		info:       info,
		params:     params,
		side:       make(map[string]any),
		saveResult: saveResult,
		globStats:  globStats,
	}
}

func (b *Base) ModulePath() string            { return b.modulePath }
func (b *Base) MethodName() string            { return b.methodName }
func (b *Base) Info() registry.Info           { return b.info }
func (b *Base) SideOutputs() map[string]any   { return b.side }
func (b *Base) SaveResult() bool              { return b.saveResult }
func (b *Base) GlobStats() bool               { return b.globStats }
func (b *Base) ReturnHost() bool              { return b.returnHost }
func (b *Base) SetReturnHost(v bool)          { b.returnHost = v }
func (b *Base) Params() map[string]any        { return b.params }
func (b *Base) SetPattern(p pattern.Pattern)   { b.info.Pattern = p }
func (b *Base) PackageName() string {
	for i, c := range b.modulePath {
		if c == '.' {
			return b.modulePath[:i]
		}
	}
	return b.modulePath
}

// buildArgs binds a Method's declared parameter names to dataset fields,
// configuration parameters, and computed values, mirroring
// backend_wrapper.py's _build_kwargs.
func buildArgs(ctx *runctx.Context, m Method, block *dataset.Dataset, params map[string]any) (Args, error) {
	args := make(Args, len(m.ParamNames()))
	for i, p := range m.ParamNames() {
		switch {
		case i == 0:
			args[p] = block.Data()
		case p == "darks":
			args[p] = block.Darks()
		case p == "flats":
			args[p] = block.Flats()
		case p == "angles", p == "angles_radians":
			args[p] = block.Angles()
		case p == "gpu_id":
			if !ctx.HasDevice() {
				return nil, errs.Capability("", "method requires gpu_id parameter, but no device is bound")
			}
			args[p] = ctx.GPUID
		case p == "comm_rank":
			args[p] = ctx.Rank()
		case p == "out_dir":
			args[p] = ctx.RunOutDir
		default:
			v, ok := params[p]
			if !ok {
				return nil, errs.Configuration("", "cannot map method parameter %q to a value", p)
			}
			args[p] = v
		}
	}
	return args, nil
}

// Generic implements the default variant: transfer, bind, invoke,
// validate the return shape, overwrite the block.
type Generic struct {
	Base
	method Method
}

func NewGeneric(modulePath, methodName string, info registry.Info, method Method, params map[string]any, saveResult, globStats bool) *Generic {
	return &Generic{Base: NewBase(modulePath, methodName, info, params, saveResult, globStats), method: method}
}

func (g *Generic) Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	if err := transfer(ctx, g.info, block); err != nil {
		return nil, err
	}
	return g.invoke(ctx, block)
}

// invoke performs bind+call+validate+overwrite; split out so
// Reconstruction can layer a preprocessing step ahead of it.
func (g *Generic) invoke(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	args, err := buildArgs(ctx, g.method, block, g.params)
	if err != nil {
		return nil, err
	}
	ret, err := g.method.Call(args)
	if err != nil {
		return nil, errs.Data(errs.PhaseBlock, g.methodName, "method call failed: %w", err)
	}
	return g.applyReturn(block, ret)
}

func (g *Generic) applyReturn(block *dataset.Dataset, ret any) (*dataset.Dataset, error) {
	arr, ok := ret.(*dataset.Array)
	if !ok {
		return nil, errs.Data(errs.PhaseBlock, g.methodName, "invalid return type %T for method %s", ret, g.methodName)
	}
	if !g.info.ChangesOutputDims {
		if want, got := block.Data().Shape, arr.Shape; want != got {
			return nil, errs.Data(errs.PhaseBlock, g.methodName, "method %s returned shape %v, want %v", g.methodName, got, want)
		}
	}
	if g.info.SwapOutputAxes01 {
		arr = swapAxes01(arr)
	}
	if err := block.SetData(arr); err != nil {
		return nil, err
	}
	return block, nil
}

func swapAxes01(a *dataset.Array) *dataset.Array {
	src := a.Contiguous()
	out := dataset.NewArray(dataset.Shape{src.Shape[1], src.Shape[0], src.Shape[2]})
	for i := 0; i < src.Shape[0]; i++ {
		for j := 0; j < src.Shape[1]; j++ {
			for k := 0; k < src.Shape[2]; k++ {
				out.Set(j, i, k, src.At(i, j, k))
			}
		}
	}
	return out
}

func errInvalidReturn(methodName string, ret any) error {
	return errs.Data(errs.PhaseBlock, methodName, "invalid return type %T for method %s", ret, methodName)
}

// transfer moves block to the placement info declares, matching
// BackendWrapper._transfer_data, and fails with CapabilityError if a
// device method is selected with no device bound.
func transfer(ctx *runctx.Context, info registry.Info, block *dataset.Dataset) error {
	if info.Placement == pattern.Host {
		block.ToHost()
		return nil
	}
	if !ctx.HasDevice() {
		return errs.Capability(fmt.Sprintf("%s.%s", info.Module, info.Method), "device method requires a bound GPU, none available")
	}
	block.ToDevice(ctx.GPUID)
	return nil
}
