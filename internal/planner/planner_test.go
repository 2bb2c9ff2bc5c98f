package planner

import (
	"testing"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/runctx"
	"github.com/team-gpu/httomo/internal/wrapper"
)

type fakeWrapper struct {
	name   string
	info   registry.Info
	params map[string]any
}

func (f *fakeWrapper) ModulePath() string  { return f.info.Module }
func (f *fakeWrapper) MethodName() string  { return f.name }
func (f *fakeWrapper) Info() registry.Info { return f.info }
func (f *fakeWrapper) Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	return block, nil
}
func (f *fakeWrapper) SideOutputs() map[string]any { return nil }
func (f *fakeWrapper) SaveResult() bool            { return false }
func (f *fakeWrapper) GlobStats() bool             { return false }
func (f *fakeWrapper) ReturnHost() bool            { return false }
func (f *fakeWrapper) SetReturnHost(bool)          {}
func (f *fakeWrapper) Params() map[string]any      { return f.params }
func (f *fakeWrapper) SetPattern(pattern.Pattern)  {}

func fixtureChunk(shape dataset.Shape, darkFlatCount int) *dataset.Dataset {
	data := dataset.NewArray(shape)
	darks := dataset.NewArray(dataset.Shape{darkFlatCount, shape[1], shape[2]})
	flats := dataset.NewArray(dataset.Shape{darkFlatCount, shape[1], shape[2]})
	angles := make([]float64, shape[0])
	return dataset.NewGlobal(data, darks, flats, angles)
}

func fixedQuery(free int64) DeviceMemoryQuery {
	return func() (int64, error) { return free, nil }
}

func TestPlanHostSectionUsesMinOfCPUCapAndChunkLen(t *testing.T) {
	chunk := fixtureChunk(dataset.Shape{10, 50, 20}, 2)
	methods := []wrapper.Wrapper{&fakeWrapper{name: "remove_outlier3d", info: registry.Info{Method: "remove_outlier3d"}}}

	d, err := Plan(methods, pattern.Host, pattern.Projection, chunk, 8, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.MaxSlices != 8 {
		t.Fatalf("max_slices = %d, want 8 (cpu cap binds)", d.MaxSlices)
	}

	d, err = Plan(methods, pattern.Host, pattern.Projection, chunk, 100, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.MaxSlices != 50 {
		t.Fatalf("max_slices = %d, want 50 (chunk_len binds)", d.MaxSlices)
	}
}

func TestPlanDeviceSectionMemoryLimitBinds(t *testing.T) {
	chunk := fixtureChunk(dataset.Shape{100, 50, 40}, 2)
	recon := &fakeWrapper{
		name: "recon",
		info: registry.Info{
			Method: "recon",
			PredictMemory: func(nonSlice [2]int, dtypeBytes int, extra map[string]any) (int64, int64) {
				return 100, 0
			},
		},
	}
	d, err := Plan([]wrapper.Wrapper{recon}, pattern.Device, pattern.Sinogram, chunk, 0, fixedQuery(1000), 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.MaxSlices != 10 {
		t.Fatalf("max_slices = %d, want 10 (memory limit: floor(1000/100))", d.MaxSlices)
	}
}

func TestPlanDeviceSectionChunkLimitBinds(t *testing.T) {
	chunk := fixtureChunk(dataset.Shape{100, 50, 40}, 2)
	recon := &fakeWrapper{
		name: "recon",
		info: registry.Info{
			Method: "recon",
			PredictMemory: func(nonSlice [2]int, dtypeBytes int, extra map[string]any) (int64, int64) {
				return 10, 0
			},
		},
	}
	d, err := Plan([]wrapper.Wrapper{recon}, pattern.Device, pattern.Sinogram, chunk, 0, fixedQuery(100000), 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.MaxSlices != 40 {
		t.Fatalf("max_slices = %d, want 40 (chunk_len binds, detector-x extent)", d.MaxSlices)
	}
}

func TestPlanFailsOnNonPositiveMaxSlices(t *testing.T) {
	chunk := fixtureChunk(dataset.Shape{100, 50, 40}, 2)
	recon := &fakeWrapper{
		name: "recon",
		info: registry.Info{
			Method: "recon",
			PredictMemory: func(nonSlice [2]int, dtypeBytes int, extra map[string]any) (int64, int64) {
				return 1000, 0
			},
		},
	}
	_, err := Plan([]wrapper.Wrapper{recon}, pattern.Device, pattern.Sinogram, chunk, 0, fixedQuery(10), 0)
	if err == nil {
		t.Fatal("expected a PlanError when the memory budget yields zero slices")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.Plan {
		t.Fatalf("err = %v, want a PlanError", err)
	}
}

func TestPlanSubtractsDarksFlatsForNormalizingMethod(t *testing.T) {
	chunk := fixtureChunk(dataset.Shape{100, 50, 40}, 2)
	normalize := &fakeWrapper{
		name: "normalize",
		info: registry.Info{
			Method: "normalize",
			PredictMemory: func(nonSlice [2]int, dtypeBytes int, extra map[string]any) (int64, int64) {
				return 10, 0
			},
		},
	}
	d, err := Plan([]wrapper.Wrapper{normalize}, pattern.Device, pattern.Sinogram, chunk, 0, fixedQuery(100000), 0)
	if err != nil {
		t.Fatal(err)
	}
	wantDarksFlats := nbytes(chunk.Darks()) + nbytes(chunk.Flats())
	if d.Deductions.DarksFlats != wantDarksFlats {
		t.Fatalf("darks+flats deduction = %d, want %d", d.Deductions.DarksFlats, wantDarksFlats)
	}
	if d.Deductions.Available != 100000-wantDarksFlats {
		t.Fatalf("available = %d, want %d", d.Deductions.Available, 100000-wantDarksFlats)
	}
}

func TestPlanPropagatesPredictedOutputShapeChain(t *testing.T) {
	chunk := fixtureChunk(dataset.Shape{100, 50, 40}, 2)
	resample := &fakeWrapper{
		name: "data_resampler",
		info: registry.Info{
			Method: "data_resampler",
			PredictOutputShape: func(nonSlice [2]int, extra map[string]any) [2]int {
				return [2]int{nonSlice[0] / 2, nonSlice[1] / 2}
			},
		},
	}
	recon := &fakeWrapper{
		name: "recon",
		info: registry.Info{
			Method: "recon",
			PredictMemory: func(nonSlice [2]int, dtypeBytes int, extra map[string]any) (int64, int64) {
				if nonSlice != ([2]int{50, 25}) {
					t.Fatalf("recon saw non-slice shape %v, want the resampled {50,25}", nonSlice)
				}
				return 1, 0
			},
		},
	}
	d, err := Plan([]wrapper.Wrapper{resample, recon}, pattern.Device, pattern.Sinogram, chunk, 0, fixedQuery(1000000), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.OutputShapes) != 2 || d.OutputShapes[0] != ([2]int{50, 25}) || d.OutputShapes[1] != ([2]int{50, 25}) {
		t.Fatalf("output shapes = %v, want [{50 25} {50 25}]", d.OutputShapes)
	}
}

func TestDefaultCPUCapReturnsAKnownTier(t *testing.T) {
	cap := DefaultCPUCap()
	if cap != 64 && cap != 128 {
		t.Fatalf("DefaultCPUCap() = %d, want 64 or 128", cap)
	}
}
