package registry

import "github.com/team-gpu/httomo/internal/pattern"

// Builtin returns a Registry pre-populated with the small set of method
// identifiers the rest of this module's tests and the §8 scenarios
// exercise. A real deployment would populate this from the
// method-package introspection that is out of scope per §1; this
// catalogue stands in for it.
func Builtin() *Registry {
	r := New()

	r.Register(Info{
		Module:  "httomolibgpu.prep.normalize",
		Method:  "normalize",
		Pattern: pattern.Projection,
		Placement: pattern.Device,
		PredictMemory: func(nonSlice [2]int, dtypeBytes int, extra map[string]any) (int64, int64) {
			perSlice := int64(nonSlice[0]*nonSlice[1]*dtypeBytes) * 3 // in, out, intermediate
			return perSlice, 0
		},
	})
	r.Register(Info{
		Module:  "httomolibgpu.prep.phase",
		Method:  "minus_log",
		Pattern: pattern.Projection,
		Placement: pattern.Device,
		PredictMemory: func(nonSlice [2]int, dtypeBytes int, extra map[string]any) (int64, int64) {
			return int64(nonSlice[0]*nonSlice[1]*dtypeBytes) * 2, 0
		},
	})
	r.Register(Info{
		Module:  "httomolibgpu.recon.rotation",
		Method:  "find_center_vo",
		Pattern: pattern.Sinogram,
		Placement: pattern.Device,
	})
	r.Register(Info{
		Module:  "httomolibgpu.recon.rotation",
		Method:  "find_center_360",
		Pattern: pattern.Sinogram,
		Placement: pattern.Device,
	})
	r.Register(Info{
		Module:            "tomopy.recon.algorithm",
		Method:            "recon",
		Pattern:           pattern.Sinogram,
		Placement:         pattern.Device,
		ChangesOutputDims: true,
		SwapOutputAxes01:  true,
		PredictMemory: func(nonSlice [2]int, dtypeBytes int, extra map[string]any) (int64, int64) {
			// a reconstruction slice fans out to a square image of the
			// detector-x extent on each side.
			side := nonSlice[1]
			return int64(side*side*dtypeBytes) * 4, int64(nonSlice[0]*nonSlice[1]*dtypeBytes)
		},
		PredictOutputShape: func(nonSlice [2]int, extra map[string]any) [2]int {
			side := nonSlice[1]
			return [2]int{side, side}
		},
	})
	r.Register(Info{
		Module:  "tomopy.misc.corr",
		Method:  "remove_outlier3d",
		Pattern: pattern.All,
		Placement: pattern.Host,
	})
	r.Register(Info{
		Module:        "httomolib.misc.images",
		Method:        "save_to_images",
		Pattern:       pattern.All,
		Placement:     pattern.Host,
		SaveByDefault: false,
	})
	r.Register(Info{
		Module:        "httomo.methods",
		Method:        "save_intermediate_data",
		Pattern:       pattern.All,
		Placement:     pattern.Host,
		SaveByDefault: true,
	})
	r.Register(Info{
		Module:  "httomolibgpu.misc.morph",
		Method:  "data_resampler",
		Pattern: pattern.All,
		Placement: pattern.Device,
		ChangesOutputDims: true,
		PredictOutputShape: func(nonSlice [2]int, extra map[string]any) [2]int {
			factor, _ := extra["bin"].(int)
			if factor <= 0 {
				factor = 1
			}
			return [2]int{nonSlice[0] / factor, nonSlice[1] / factor}
		},
	})
	return r
}
