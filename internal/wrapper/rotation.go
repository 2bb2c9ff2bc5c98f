package wrapper

import (
	"encoding/binary"
	"math"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/runctx"
)

// RotationState models the small state machine Design Notes calls for:
// a rotation/centering wrapper accumulates blocks until the chunk is
// exhausted, then computes once and stays Done for any further calls.
type RotationState int

const (
	WaitingBlocks RotationState = iota
	Computing
	Done
)

// Rotation wraps centering methods (module path ending in ".rotation").
// It accumulates the single sinogram slice at the chunk's middle
// detector-y index across all blocks of a chunk, and only once every
// block has been seen does it normalize against darks/flats and invoke
// the method, publishing side outputs and (if running with more than one
// process) gathering to rank 0 / broadcasting back.
type Rotation struct {
	Base
	method Method
	state  RotationState
	sino   *dataset.Array // shape {rows, 1, fullSlicingExtent}, rows = chunk's non-slice, non-mid dim extent
}

func NewRotation(modulePath, methodName string, info registry.Info, method Method, params map[string]any, saveResult, globStats bool) (*Rotation, error) {
	if info.Pattern == pattern.Projection {
		return nil, errs.Capability(modulePath+"."+methodName, "rotation/centering methods require a sinogram or all pattern, got projection")
	}
	return &Rotation{
		Base:   NewBase(modulePath, methodName, info, params, saveResult, globStats),
		method: method,
	}, nil
}

func (r *Rotation) Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	if r.state == Done {
		return block, nil
	}
	// Redesign flag: the original's `slice_ind is None or 'mid'` always
	// evaluates true, so the midpoint is always used regardless of the
	// `ind` parameter; that observable behavior is preserved here.
	mid := block.ChunkShape()[1] / 2

	if r.sino == nil {
		splitDim := block.SplitDim()
		full := block.ChunkShape()[splitDim]
		r.sino = dataset.NewArray(dataset.Shape{block.ChunkShape()[0], 1, full})
	}

	d := block.Data()
	splitDim := block.SplitDim()
	offset := block.BlockStart()
	length := d.Shape[splitDim]
	for i := 0; i < d.Shape[0]; i++ {
		for k := 0; k < length; k++ {
			r.sino.Set(i, 0, k+offset, d.At(i, mid, k))
		}
	}

	if !block.IsLastInChunk() {
		return block, nil
	}
	r.state = Computing
	if err := r.compute(ctx, block, mid); err != nil {
		return nil, err
	}
	r.state = Done
	return block, nil
}

func (r *Rotation) compute(ctx *runctx.Context, block *dataset.Dataset, mid int) error {
	comm := ctx.Comm
	local := r.sino

	var full *dataset.Array
	if comm.Size() == 1 {
		full = local
	} else {
		payload := encodeFloats(local.Data)
		gathered, err := comm.Gather(0, payload)
		if err != nil {
			return errs.InternalErr(errs.PhaseBlock, r.MethodName(), "gather sinogram slice: %w", err)
		}
		if ctx.Rank() == 0 {
			totalRows := 0
			decoded := make([][]float32, len(gathered))
			for i, g := range gathered {
				decoded[i] = decodeFloats(g)
				totalRows += len(decoded[i]) / local.Shape[2]
			}
			full = dataset.NewArray(dataset.Shape{totalRows, 1, local.Shape[2]})
			row := 0
			for _, d := range decoded {
				rows := len(d) / local.Shape[2]
				copy(full.Data[row*local.Shape[2]:(row+rows)*local.Shape[2]], d)
				row += rows
			}
		}
	}

	var sideBytes []byte
	if ctx.Rank() == 0 {
		darks := block.Darks()
		flats := block.Flats()
		args := Args{}
		for i, p := range r.method.ParamNames() {
			switch {
			case i == 0:
				args[p] = full
			case p == "darks":
				args[p] = midRow(darks, mid)
			case p == "flats":
				args[p] = midRow(flats, mid)
			default:
				if v, ok := r.params[p]; ok {
					args[p] = v
				}
			}
		}
		ret, err := r.method.Call(args)
		if err != nil {
			return errs.Data(errs.PhaseBlock, r.MethodName(), "rotation method call failed: %w", err)
		}
		r.publishSideOutput(ret)
		sideBytes = encodeSide(r.side)
	}

	if comm.Size() > 1 {
		out, err := comm.Broadcast(0, sideBytes)
		if err != nil {
			return errs.InternalErr(errs.PhaseBlock, r.MethodName(), "broadcast side outputs: %w", err)
		}
		if ctx.Rank() != 0 {
			r.side = decodeSide(out)
		}
	}
	return nil
}

// publishSideOutput mirrors RotationWrapper._process_return_type: a
// float return publishes "cor"; a 4-tuple return (cor, overlap, side,
// overlap_position) publishes all four, matching find_center_360.
func (r *Rotation) publishSideOutput(ret any) {
	switch v := ret.(type) {
	case float64:
		r.side["cor"] = v
	case [4]float64:
		r.side["cor"] = v[0]
		r.side["overlap"] = v[1]
		r.side["side"] = v[2]
		r.side["overlap_position"] = v[3]
	}
}

func midRow(a *dataset.Array, mid int) *dataset.Array {
	v, err := a.Slice(1, mid, 1)
	if err != nil {
		return a
	}
	return v
}

func encodeFloats(f []float32) []byte {
	b := make([]byte, 4*len(f))
	for i, v := range f {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeSide(side map[string]any) []byte {
	// Fixed-order encoding of the known rotation side outputs; absent
	// keys are encoded as NaN so the wire format has a constant shape.
	keys := []string{"cor", "overlap", "side", "overlap_position"}
	b := make([]byte, 8*len(keys))
	for i, k := range keys {
		v, ok := side[k].(float64)
		if !ok {
			v = math.NaN()
		}
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func decodeSide(b []byte) map[string]any {
	keys := []string{"cor", "overlap", "side", "overlap_position"}
	out := make(map[string]any, len(keys))
	for i, k := range keys {
		v := math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		if !math.IsNaN(v) {
			out[k] = v
		}
	}
	return out
}
