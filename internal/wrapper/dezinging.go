package wrapper

import (
	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/runctx"
)

// Dezinging wraps remove_outlier3d, the one method allowed to mutate the
// darks/flats aux arrays: it applies the same method and parameters to
// data, darks, and flats, unlocking around the aux writes and relocking
// immediately after (§4.3).
type Dezinging struct {
	Base
	method Method
}

func NewDezinging(modulePath, methodName string, info registry.Info, method Method, params map[string]any, saveResult, globStats bool) *Dezinging {
	return &Dezinging{Base: NewBase(modulePath, methodName, info, params, saveResult, globStats), method: method}
}

func (w *Dezinging) Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	if err := transfer(ctx, w.info, block); err != nil {
		return nil, err
	}

	data, err := w.apply(block.Data())
	if err != nil {
		return nil, err
	}
	if err := block.SetData(data); err != nil {
		return nil, err
	}

	block.Unlock()
	darks, err := w.apply(block.Darks())
	if err != nil {
		block.Lock()
		return nil, err
	}
	if err := block.SetDarks(darks); err != nil {
		block.Lock()
		return nil, err
	}
	flats, err := w.apply(block.Flats())
	if err != nil {
		block.Lock()
		return nil, err
	}
	if err := block.SetFlats(flats); err != nil {
		block.Lock()
		return nil, err
	}
	block.Lock()

	return block, nil
}

func (w *Dezinging) apply(arr *dataset.Array) (*dataset.Array, error) {
	args := Args{}
	for i, p := range w.method.ParamNames() {
		if i == 0 {
			args[p] = arr
			continue
		}
		if v, ok := w.params[p]; ok {
			args[p] = v
		}
	}
	ret, err := w.method.Call(args)
	if err != nil {
		return nil, err
	}
	out, ok := ret.(*dataset.Array)
	if !ok {
		return nil, errInvalidReturn(w.MethodName(), ret)
	}
	return out, nil
}
