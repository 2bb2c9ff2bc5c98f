// Package planner implements the §4.6 Memory Planner: turning a section's
// declared methods and the device's reported free memory into a single
// max_slices bound, grounded on httomo/task_runner.py's
// calculate_section_chunk_shape and its get_available_gpu_memory use of
// cupy's mem_info plus a memory-pool's free_bytes.
package planner

import (
	"golang.org/x/sys/cpu"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/wrapper"
)

// bytesPerElement is the size of the only dtype this module models.
const bytesPerElement = 4

// DeviceMemoryQuery reports the free bytes currently available on the
// bound device. No CUDA/cupy binding exists anywhere in this module's
// dependency corpus (device execution is out of scope per §1, contract
// only); the runner supplies a real query at startup and tests inject a
// fixed value, the same seam backend_wrapper.py's method contract gives
// the numerical method itself.
type DeviceMemoryQuery func() (freeBytes int64, err error)

// Deductions records the planner's working numbers for diagnostics.
type Deductions struct {
	Available    int64
	DarksFlats   int64
	SafetyMargin float64
}

// Decision is the outcome of planning one section.
type Decision struct {
	MaxSlices int
	// OutputShapes[i] is the predicted non-slice output shape downstream of
	// method i, chained from the section's input shape; used for §4.8 step
	// 4b destination pre-allocation.
	OutputShapes [][2]int
	Deductions   Deductions
}

// DefaultCPUCap picks the configured_cpu_cap to use when the caller
// supplied no --max-cpu-slices override, giving AVX-512-capable hosts a
// larger default block size (mirroring cmd/sneller's own
// cpu.X86.HasAVX512 feature gate).
func DefaultCPUCap() int {
	if cpu.X86.HasAVX512 {
		return 128
	}
	return 64
}

// Plan computes max_slices for a section whose methods are placement and
// finalized to pattern p, operating on chunk.
func Plan(methods []wrapper.Wrapper, placement pattern.Placement, p pattern.Pattern, chunk *dataset.Dataset, cpuCap int, query DeviceMemoryQuery, safetyMargin float64) (*Decision, error) {
	splitDim := p.SlicingDim()
	chunkLen := chunk.ChunkShape()[splitDim]

	if placement == pattern.Host {
		maxSlices := cpuCap
		if chunkLen < maxSlices {
			maxSlices = chunkLen
		}
		if maxSlices <= 0 {
			return nil, errs.PlanErr("", "host section plans to a non-positive max_slices (%d)", maxSlices)
		}
		return &Decision{MaxSlices: maxSlices}, nil
	}

	free, err := query()
	if err != nil {
		return nil, errs.Capability("", "querying device free memory: %w", err)
	}
	avail := int64(float64(free) * (1 - safetyMargin))

	var darksFlats int64
	for _, m := range methods {
		if usesDarksFlats(m) {
			darksFlats = nbytes(chunk.Darks()) + nbytes(chunk.Flats())
			break
		}
	}
	avail -= darksFlats

	d0, d1 := nonSliceDims(splitDim)
	cur := [2]int{chunk.ChunkShape()[d0], chunk.ChunkShape()[d1]}

	maxSlices := chunkLen
	shapes := make([][2]int, 0, len(methods))
	for _, m := range methods {
		info := m.Info()
		if info.PredictMemory != nil {
			peak, subtract := info.PredictMemory(cur, bytesPerElement, m.Params())
			if peak <= 0 {
				return nil, errs.PlanErr(info.Method, "method reported a non-positive per-slice memory estimate (%d)", peak)
			}
			mSlices := int((avail - subtract) / peak)
			if mSlices < maxSlices {
				maxSlices = mSlices
			}
		}
		if info.PredictOutputShape != nil {
			cur = info.PredictOutputShape(cur, m.Params())
		}
		shapes = append(shapes, cur)
	}

	if maxSlices <= 0 {
		return nil, errs.PlanErr("", "section plans to a non-positive max_slices (%d): out of memory at plan time", maxSlices)
	}
	return &Decision{
		MaxSlices:    maxSlices,
		OutputShapes: shapes,
		Deductions:   Deductions{Available: avail, DarksFlats: darksFlats, SafetyMargin: safetyMargin},
	}, nil
}

// usesDarksFlats reports whether m normalizes against the darks/flats
// reference frames; "normalize" is the only catalogue entry that does
// (§4.6 "methods that normalize using darks/flats").
func usesDarksFlats(m wrapper.Wrapper) bool {
	return m.MethodName() == "normalize"
}

func nbytes(a *dataset.Array) int64 {
	return int64(a.Shape.Volume()) * bytesPerElement
}

// nonSliceDims returns the two dims other than splitDim, matching
// internal/wrapper's identically-grounded helper (§4.5/§4.6 "non-slice
// shape").
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
