package wrapper

import (
	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/runctx"
)

// Reconstruction wraps methods whose module path ends in ".algorithm".
// Before invocation it truncates a *working copy* of the angle vector to
// the block's axis-0 length if the angles are longer (e.g. 360-degree
// data reduced to an effective 180-degree working set), without
// mutating the dataset's base angle array (§3 invariants).
type Reconstruction struct {
	Generic
}

func NewReconstruction(modulePath, methodName string, info registry.Info, method Method, params map[string]any, saveResult, globStats bool) *Reconstruction {
	return &Reconstruction{Generic: *NewGeneric(modulePath, methodName, info, method, params, saveResult, globStats)}
}

func (r *Reconstruction) Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	if err := transfer(ctx, r.info, block); err != nil {
		return nil, err
	}
	n := block.Data().Shape[0]
	angles := block.Angles()
	working := angles
	if len(angles) != n && len(angles) > n {
		working = append([]float64(nil), angles[:n]...)
	}
	return r.invokeWithAngles(ctx, block, working)
}

func (r *Reconstruction) invokeWithAngles(ctx *runctx.Context, block *dataset.Dataset, angles []float64) (*dataset.Dataset, error) {
	args, err := buildArgs(ctx, r.method, block, r.params)
	if err != nil {
		return nil, err
	}
	if _, ok := args["angles"]; ok {
		args["angles"] = angles
	}
	if _, ok := args["angles_radians"]; ok {
		args["angles_radians"] = angles
	}
	ret, err := r.method.Call(args)
	if err != nil {
		return nil, err
	}
	return r.applyReturn(block, ret)
}
