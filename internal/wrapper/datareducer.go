package wrapper

import (
	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/runctx"
)

// DataReducer wraps the small set of "data-reducing helpers" spec.md §4.3
// names separately from the generic path (binning/cropping via
// data_resampler): it runs exactly the same transfer/bind/invoke sequence
// as Generic, but always consults the registry's PredictOutputShape to
// size its non-slice dims rather than assuming the method leaves them
// unchanged, since every method this variant wraps declares
// ChangesOutputDims.
type DataReducer struct {
	Base
	method Method
}

func NewDataReducer(modulePath, methodName string, info registry.Info, method Method, params map[string]any, saveResult, globStats bool) *DataReducer {
	return &DataReducer{Base: NewBase(modulePath, methodName, info, params, saveResult, globStats), method: method}
}

func (w *DataReducer) Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	if err := transfer(ctx, w.info, block); err != nil {
		return nil, err
	}

	args, err := buildArgs(ctx, w.method, block, w.params)
	if err != nil {
		return nil, err
	}
	ret, err := w.method.Call(args)
	if err != nil {
		return nil, err
	}
	arr, ok := ret.(*dataset.Array)
	if !ok {
		return nil, errInvalidReturn(w.MethodName(), ret)
	}

	if w.info.PredictOutputShape != nil {
		d0, d1 := nonSliceDims(block.SplitDim())
		shape := block.Data().Shape
		nonSlice := [2]int{shape[d0], shape[d1]}
		want := w.info.PredictOutputShape(nonSlice, w.params)
		if arr.Shape[d0] != want[0] || arr.Shape[d1] != want[1] {
			return nil, errInvalidReturn(w.MethodName(), ret)
		}
	}

	if err := block.SetData(arr); err != nil {
		return nil, err
	}
	return block, nil
}

// nonSliceDims returns the two dims other than the slicing dim, in
// ascending order.
func nonSliceDims(splitDim int) (int, int) {
	switch splitDim {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}
