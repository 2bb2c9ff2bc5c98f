package wrapper

import (
	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/runctx"
)

// ImageWriter wraps methods whose module path ends in ".images". It
// hands the method a host copy of the data (leaving the active buffer on
// whatever device it was on) with out_dir/comm_rank bound, and returns
// the block untouched.
type ImageWriter struct {
	Base
	method Method
}

func NewImageWriter(modulePath, methodName string, info registry.Info, method Method, params map[string]any, saveResult, globStats bool) *ImageWriter {
	return &ImageWriter{Base: NewBase(modulePath, methodName, info, params, saveResult, globStats), method: method}
}

func (w *ImageWriter) Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	hostCopy := block.Data()
	if block.IsGPU() {
		// device data remains on device; give the method a CPU copy only.
		hostCopy = hostCopy.Contiguous()
		hostCopy.Placement = pattern.Host
	}
	args := Args{}
	for i, p := range w.method.ParamNames() {
		switch {
		case i == 0:
			args[p] = hostCopy
		case p == "out_dir":
			args[p] = ctx.RunOutDir
		case p == "comm_rank":
			args[p] = ctx.Rank()
		default:
			if v, ok := w.params[p]; ok {
				args[p] = v
			}
		}
	}
	if _, err := w.method.Call(args); err != nil {
		return nil, err
	}
	return block, nil
}
