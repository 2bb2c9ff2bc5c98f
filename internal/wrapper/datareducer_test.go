package wrapper

import (
	"testing"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/registry"
)

func TestDataReducerValidatesPredictedShape(t *testing.T) {
	block := fixtureBlock(t, dataset.Shape{4, 8, 8})
	m := &fakeMethod{
		params: []string{"data", "bin"},
		ret: func(a Args) (any, error) {
			// splitDim (1) extent must stay 8; the non-slice dims (0 and 2)
			// are what the method is allowed to halve.
			out := dataset.NewArray(dataset.Shape{2, 8, 4})
			return out, nil
		},
	}
	info := registry.Info{
		Placement:         pattern.Host,
		ChangesOutputDims: true,
		PredictOutputShape: func(nonSlice [2]int, extra map[string]any) [2]int {
			return [2]int{nonSlice[0] / 2, nonSlice[1] / 2}
		},
	}
	w := NewDataReducer("httomolibgpu.misc.morph", "data_resampler", info, m, map[string]any{"bin": 2}, false, false)
	out, err := w.Execute(testCtx(), block)
	if err != nil {
		t.Fatal(err)
	}
	if out.Data().Shape != (dataset.Shape{2, 8, 4}) {
		t.Fatalf("shape = %v, want {2,8,4}", out.Data().Shape)
	}
}

func TestDataReducerRejectsShapeNotMatchingPrediction(t *testing.T) {
	block := fixtureBlock(t, dataset.Shape{4, 8, 8})
	m := &fakeMethod{
		params: []string{"data"},
		ret: func(a Args) (any, error) {
			// wrong: does not halve the non-slice dims as predicted
			return dataset.NewArray(dataset.Shape{4, 8, 8}), nil
		},
	}
	info := registry.Info{
		Placement:         pattern.Host,
		ChangesOutputDims: true,
		PredictOutputShape: func(nonSlice [2]int, extra map[string]any) [2]int {
			return [2]int{nonSlice[0] / 2, nonSlice[1] / 2}
		},
	}
	w := NewDataReducer("httomolibgpu.misc.morph", "data_resampler", info, m, nil, false, false)
	if _, err := w.Execute(testCtx(), block); err == nil {
		t.Fatal("expected a shape-mismatch error")
	}
}
