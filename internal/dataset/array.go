// Package dataset implements the three-level (global / chunk / block)
// view over a 3D projection volume described in spec.md §3-§4.2,
// grounded on httomo/runner/dataset.py's DataSet/DataSetBlock pair.
package dataset

import (
	"fmt"

	"github.com/team-gpu/httomo/internal/pattern"
)

// Shape is a 3D extent: axis 0 = rotation angle, axis 1 = detector-y
// (sinogram index), axis 2 = detector-x.
type Shape [3]int

func (s Shape) Volume() int { return s[0] * s[1] * s[2] }

// Array is a (possibly strided, possibly offset) view over a flat,
// placement-tagged float32 buffer. Slicing a single axis never copies:
// the returned Array shares the backing Data slice with its parent, the
// same "no copies, just views" guarantee httomo's BlockSplitter documents.
type Array struct {
	Shape     Shape
	Strides   Shape // in elements
	Offset    int   // in elements
	Data      []float32
	Placement pattern.Placement
}

// NewArray allocates a fresh, contiguous, host-resident array of the
// given shape.
func NewArray(shape Shape) *Array {
	return &Array{
		Shape:     shape,
		Strides:   Shape{shape[1] * shape[2], shape[2], 1},
		Offset:    0,
		Data:      make([]float32, shape.Volume()),
		Placement: pattern.Host,
	}
}

func (a *Array) index(i, j, k int) int {
	return a.Offset + i*a.Strides[0] + j*a.Strides[1] + k*a.Strides[2]
}

func (a *Array) At(i, j, k int) float32 { return a.Data[a.index(i, j, k)] }

func (a *Array) Set(i, j, k int, v float32) { a.Data[a.index(i, j, k)] = v }

// Slice returns a zero-copy view of a along dim, starting at start for
// length elements; the other two dims keep their full extent.
func (a *Array) Slice(dim, start, length int) (*Array, error) {
	if dim < 0 || dim > 2 {
		return nil, fmt.Errorf("dataset: invalid slicing dim %d", dim)
	}
	if start < 0 || length < 0 || start+length > a.Shape[dim] {
		return nil, fmt.Errorf("dataset: slice [%d,%d) out of bounds for dim %d of extent %d", start, start+length, dim, a.Shape[dim])
	}
	shape := a.Shape
	shape[dim] = length
	return &Array{
		Shape:     shape,
		Strides:   a.Strides,
		Offset:    a.Offset + start*a.Strides[dim],
		Data:      a.Data,
		Placement: a.Placement,
	}, nil
}

// Contiguous returns a fresh, densely-packed copy of a with the same
// shape and placement, regardless of whether a itself was already
// contiguous; used to materialize a block/chunk view before it is handed
// to something that needs a real buffer (aggregation, transfer).
func (a *Array) Contiguous() *Array {
	out := NewArray(a.Shape)
	out.Placement = a.Placement
	n0, n1, n2 := a.Shape[0], a.Shape[1], a.Shape[2]
	idx := 0
	for i := 0; i < n0; i++ {
		for j := 0; j < n1; j++ {
			base := a.index(i, j, 0)
			if a.Strides[2] == 1 {
				copy(out.Data[idx:idx+n2], a.Data[base:base+n2])
				idx += n2
			} else {
				for k := 0; k < n2; k++ {
					out.Data[idx] = a.Data[base+k*a.Strides[2]]
					idx++
				}
			}
		}
	}
	return out
}

// Equal reports whether a and b have the same shape and elementwise values.
func (a *Array) Equal(b *Array) bool {
	if a.Shape != b.Shape {
		return false
	}
	n0, n1, n2 := a.Shape[0], a.Shape[1], a.Shape[2]
	for i := 0; i < n0; i++ {
		for j := 0; j < n1; j++ {
			for k := 0; k < n2; k++ {
				if a.At(i, j, k) != b.At(i, j, k) {
					return false
				}
			}
		}
	}
	return true
}

// CopyInto writes src's values into dst at dst's own offset/strides;
// shapes must match exactly.
func CopyInto(dst, src *Array) error {
	if dst.Shape != src.Shape {
		return fmt.Errorf("dataset: shape mismatch copying %v into %v", src.Shape, dst.Shape)
	}
	n0, n1, n2 := dst.Shape[0], dst.Shape[1], dst.Shape[2]
	for i := 0; i < n0; i++ {
		for j := 0; j < n1; j++ {
			for k := 0; k < n2; k++ {
				dst.Set(i, j, k, src.At(i, j, k))
			}
		}
	}
	return nil
}

// Fill sets every element of a to v (used in tests to build fixtures).
func (a *Array) Fill(v float32) {
	n0, n1, n2 := a.Shape[0], a.Shape[1], a.Shape[2]
	for i := 0; i < n0; i++ {
		for j := 0; j < n1; j++ {
			for k := 0; k < n2; k++ {
				a.Set(i, j, k, v)
			}
		}
	}
}
