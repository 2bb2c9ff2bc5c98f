// Package methods provides the one concrete Method implementation per
// registry.Builtin() entry that cmd/httomo wires in by default. The
// numeric kernels here are intentionally simple reference versions, not
// the GPU-accelerated algorithms httomolibgpu/tomopy implement: §1 scopes
// this module to the orchestration engine around a method, not the
// method bodies themselves, so these exist only so a pipeline built from
// the builtin catalogue actually runs end to end rather than stopping at
// "resolved but never called".
package methods

import (
	"fmt"
	"math"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/runner"
	"github.com/team-gpu/httomo/internal/wrapper"
)

// Lookup resolves (module, name) against the builtin reference kernels.
// It matches runner.MethodLookup so cmd/httomo can pass it straight to
// runner.New.
func Lookup(module, name string) (wrapper.Method, error) {
	key := module + "." + name
	m, ok := table[key]
	if !ok {
		return nil, fmt.Errorf("methods: no reference implementation registered for %s", key)
	}
	return m, nil
}

var table = map[string]wrapper.Method{
	"httomolibgpu.prep.normalize.normalize":       normalizeMethod{},
	"httomolibgpu.prep.phase.minus_log":           minusLogMethod{},
	"tomopy.misc.corr.remove_outlier3d":           dezingeMethod{},
	"httomolibgpu.recon.rotation.find_center_vo":  centerMethod{},
	"httomolibgpu.recon.rotation.find_center_360": centerMethod{},
	"tomopy.recon.algorithm.recon":                reconMethod{},
	"httomolib.misc.images.save_to_images":        saveImagesMethod{},
	"httomolibgpu.misc.morph.data_resampler":      resamplerMethod{},
}

var _ runner.MethodLookup = Lookup

// normalizeMethod implements (data - dark) / (flat - dark), clamping the
// denominator away from zero the way tomopy.prep.normalize.normalize
// does, per-pixel against the darks/flats mean projection.
type normalizeMethod struct{}

func (normalizeMethod) ParamNames() []string { return []string{"data", "darks", "flats"} }

func (normalizeMethod) Call(args wrapper.Args) (any, error) {
	data, darks, flats := args["data"].(*dataset.Array), args["darks"].(*dataset.Array), args["flats"].(*dataset.Array)
	darkMean := meanOverAxis0(darks)
	flatMean := meanOverAxis0(flats)

	out := dataset.NewArray(data.Shape)
	for i := 0; i < data.Shape[0]; i++ {
		for j := 0; j < data.Shape[1]; j++ {
			for k := 0; k < data.Shape[2]; k++ {
				denom := flatMean.At(0, j, k) - darkMean.At(0, j, k)
				if denom == 0 {
					denom = 1e-6
				}
				out.Set(i, j, k, (data.At(i, j, k)-darkMean.At(0, j, k))/denom)
			}
		}
	}
	return out, nil
}

func meanOverAxis0(a *dataset.Array) *dataset.Array {
	out := dataset.NewArray(dataset.Shape{1, a.Shape[1], a.Shape[2]})
	n := float32(a.Shape[0])
	if n == 0 {
		return out
	}
	for j := 0; j < a.Shape[1]; j++ {
		for k := 0; k < a.Shape[2]; k++ {
			var sum float32
			for i := 0; i < a.Shape[0]; i++ {
				sum += a.At(i, j, k)
			}
			out.Set(0, j, k, sum/n)
		}
	}
	return out
}

// minusLogMethod implements -ln(x), clamping non-positive inputs to a
// small epsilon the way minus_log's nan/inf guard does.
type minusLogMethod struct{}

func (minusLogMethod) ParamNames() []string { return []string{"data"} }

func (minusLogMethod) Call(args wrapper.Args) (any, error) {
	data := args["data"].(*dataset.Array).Contiguous()
	out := dataset.NewArray(data.Shape)
	for i, v := range data.Data {
		if v <= 0 {
			v = 1e-6
		}
		out.Data[i] = float32(-math.Log(float64(v)))
	}
	return out, nil
}

// dezingeMethod replaces any value more than threshold standard
// deviations from the array's mean with the mean, a coarse stand-in for
// remove_outlier3d's local-median despeckle filter.
type dezingeMethod struct{}

func (dezingeMethod) ParamNames() []string { return []string{"data", "threshold"} }

func (dezingeMethod) Call(args wrapper.Args) (any, error) {
	arr := args["data"].(*dataset.Array).Contiguous()
	threshold := 3.0
	switch v := args["threshold"].(type) {
	case float64:
		threshold = v
	case int:
		threshold = float64(v)
	}

	var mean, variance float64
	n := float64(len(arr.Data))
	for _, v := range arr.Data {
		mean += float64(v)
	}
	mean /= n
	for _, v := range arr.Data {
		d := float64(v) - mean
		variance += d * d
	}
	std := math.Sqrt(variance / n)

	out := dataset.NewArray(arr.Shape)
	for i, v := range arr.Data {
		if std > 0 && math.Abs(float64(v)-mean) > threshold*std {
			out.Data[i] = float32(mean)
		} else {
			out.Data[i] = v
		}
	}
	return out, nil
}

// centerMethod estimates the rotation center as the intensity-weighted
// centroid of the sinogram's first row, a simplified stand-in for Vo's
// Fourier-based center-finding search.
type centerMethod struct{}

func (centerMethod) ParamNames() []string { return []string{"sino", "darks", "flats"} }

func (centerMethod) Call(args wrapper.Args) (any, error) {
	sino := args["sino"].(*dataset.Array)
	width := sino.Shape[2]
	var weighted, total float64
	for k := 0; k < width; k++ {
		v := float64(sino.At(0, 0, k))
		weighted += v * float64(k)
		total += v
	}
	if total == 0 {
		return float64(width) / 2, nil
	}
	return weighted / total, nil
}

// reconMethod performs unfiltered backprojection: each output pixel
// accumulates the sinogram intensity along every projection angle's ray
// through it. It produces the same (side x side) shape a filtered
// backprojection would, without the ramp filter tomopy.recon.algorithm
// applies before accumulating.
type reconMethod struct{}

func (reconMethod) ParamNames() []string { return []string{"data", "angles", "center", "algorithm"} }

func (reconMethod) Call(args wrapper.Args) (any, error) {
	data := args["data"].(*dataset.Array)
	angles, _ := args["angles"].([]float64)
	center, _ := args["center"].(float64)
	if center == 0 {
		center = float64(data.Shape[2]) / 2
	}
	side := data.Shape[2]

	out := dataset.NewArray(dataset.Shape{data.Shape[0], side, side})
	half := float64(side) / 2
	for s := 0; s < data.Shape[0]; s++ {
		for a, theta := range angles {
			if a >= data.Shape[1] {
				break
			}
			cosT, sinT := math.Cos(theta), math.Sin(theta)
			for y := 0; y < side; y++ {
				for x := 0; x < side; x++ {
					fx, fy := float64(x)-half, float64(y)-half
					t := fx*cosT + fy*sinT + center
					ti := int(math.Round(t))
					if ti < 0 || ti >= side {
						continue
					}
					out.Set(s, y, x, out.At(s, y, x)+data.At(s, a, ti))
				}
			}
		}
	}
	return out, nil
}

// resamplerMethod box-averages data_resampler's bin factor into both
// non-slice dims.
type resamplerMethod struct{}

func (resamplerMethod) ParamNames() []string { return []string{"data", "bin"} }

func (resamplerMethod) Call(args wrapper.Args) (any, error) {
	data := args["data"].(*dataset.Array)
	factor, _ := args["bin"].(int)
	if factor <= 0 {
		factor = 1
	}
	outJ, outK := data.Shape[1]/factor, data.Shape[2]/factor
	out := dataset.NewArray(dataset.Shape{data.Shape[0], outJ, outK})
	for i := 0; i < data.Shape[0]; i++ {
		for j := 0; j < outJ; j++ {
			for k := 0; k < outK; k++ {
				var sum float32
				for dj := 0; dj < factor; dj++ {
					for dk := 0; dk < factor; dk++ {
						sum += data.At(i, j*factor+dj, k*factor+dk)
					}
				}
				out.Set(i, j, k, sum/float32(factor*factor))
			}
		}
	}
	return out, nil
}

// saveImagesMethod is bound by ImageWriter with "data", "out_dir", and
// "comm_rank" positions; the actual TIFF encoding lives in
// internal/methods/imagewrite.go so this file stays free of image/tiff's
// import.
type saveImagesMethod struct{}

func (saveImagesMethod) ParamNames() []string { return []string{"data", "out_dir", "comm_rank"} }

func (saveImagesMethod) Call(args wrapper.Args) (any, error) {
	return writeImages(args)
}
