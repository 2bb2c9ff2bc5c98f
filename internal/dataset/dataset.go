package dataset

import (
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/pattern"
)

// Dataset is the uniform view methods operate on, whether it represents
// the whole logical volume (global), one process's contiguous slab
// (chunk), or one iteration's sub-slab of a chunk (block). Blocks are
// ephemeral: they own no storage beyond a slice of their parent's buffer.
type Dataset struct {
	data *Array

	darks  *auxCache
	flats  *auxCache
	angles []float64 // radians; always host-resident

	globalShape Shape
	chunkStart  Shape
	chunkShape  Shape
	globalIndex Shape

	locked bool

	isBlock       bool
	splitDim      int
	blockStart    int
	isLastInChunk bool
}

// NewGlobal constructs the logical whole-volume dataset as returned by an
// archive reader (out of scope per §1; this is the entry point its
// output is adapted into).
func NewGlobal(data, darks, flats *Array, angles []float64) *Dataset {
	return &Dataset{
		data:        data,
		darks:       newAuxCache(darks),
		flats:       newAuxCache(flats),
		angles:      angles,
		globalShape: data.Shape,
		chunkStart:  Shape{0, 0, 0},
		chunkShape:  data.Shape,
		globalIndex: Shape{0, 0, 0},
		locked:      true,
	}
}

// NewChunk builds the per-process chunk view from the global dataset,
// reusing the aux caches (darks/flats/angles are shared, conceptually
// read-only data) and recording chunkStart for global-index arithmetic.
func (d *Dataset) NewChunk(chunkStart Shape, chunkData *Array) *Dataset {
	return &Dataset{
		data:        chunkData,
		darks:       d.darks,
		flats:       d.flats,
		angles:      d.angles,
		globalShape: d.globalShape,
		chunkStart:  chunkStart,
		chunkShape:  chunkData.Shape,
		globalIndex: chunkStart,
		locked:      d.locked,
	}
}

// MakeBlock carves a contiguous sub-slab out of the chunk along dim,
// starting at start for length elements. The returned Dataset is a view:
// it shares the aux caches and shares the parent's backing array through
// Array.Slice (no copy).
func (d *Dataset) MakeBlock(dim, start, length int) (*Dataset, error) {
	if length <= 0 {
		length = d.chunkShape[dim] - start
	}
	view, err := d.data.Slice(dim, start, length)
	if err != nil {
		return nil, errs.Data(errs.PhaseBlock, "", "make_block: %w", err)
	}
	gi := Shape{0, 0, 0}
	gi[dim] = d.chunkStart[dim] + start
	return &Dataset{
		data:          view,
		darks:         d.darks,
		flats:         d.flats,
		angles:        d.angles,
		globalShape:   d.globalShape,
		chunkStart:    d.chunkStart,
		chunkShape:    d.chunkShape,
		globalIndex:   gi,
		locked:        d.locked,
		isBlock:       true,
		splitDim:      dim,
		blockStart:    start,
		isLastInChunk: start+length == d.chunkShape[dim],
	}, nil
}

func (d *Dataset) Data() *Array { return d.data }

// SetData overwrites the active buffer. For a block, the slicing-dim
// extent must be unchanged (§4.2); the non-slice dims may change, which
// is how shape-changing methods are allowed to alter chunkShape (picked
// up by the aggregator on the next append).
func (d *Dataset) SetData(arr *Array) error {
	if d.isBlock && arr.Shape[d.splitDim] != d.data.Shape[d.splitDim] {
		return errs.Data(errs.PhaseBlock, "", "set_data: slicing-dim size changed from %d to %d", d.data.Shape[d.splitDim], arr.Shape[d.splitDim])
	}
	d.data = arr
	if !d.isBlock {
		d.chunkShape = arr.Shape
	}
	return nil
}

func (d *Dataset) GlobalShape() Shape  { return d.globalShape }
func (d *Dataset) ChunkStart() Shape   { return d.chunkStart }
func (d *Dataset) ChunkShape() Shape   { return d.chunkShape }
func (d *Dataset) GlobalIndex() Shape  { return d.globalIndex }
func (d *Dataset) IsBlock() bool       { return d.isBlock }
func (d *Dataset) SplitDim() int       { return d.splitDim }
func (d *Dataset) BlockStart() int     { return d.blockStart }
func (d *Dataset) IsLastInChunk() bool { return !d.isBlock || d.isLastInChunk }
func (d *Dataset) IsLocked() bool      { return d.locked }
func (d *Dataset) IsGPU() bool         { return d.data.Placement == pattern.Device }
func (d *Dataset) IsHost() bool        { return d.data.Placement == pattern.Host }

func (d *Dataset) Lock()   { d.locked = true }
func (d *Dataset) Unlock() { d.locked = false }

// ToHost transfers the active data buffer to the host, idempotently.
func (d *Dataset) ToHost() {
	if d.data.Placement == pattern.Host {
		return
	}
	host := d.data.Contiguous()
	host.Placement = pattern.Host
	d.data = host
}

// ToDevice transfers the active data buffer to the device, idempotently.
// deviceID is accepted for symmetry with the original API but this
// module does not model multiple concrete devices beyond tagging.
func (d *Dataset) ToDevice(deviceID int) {
	if d.data.Placement == pattern.Device {
		return
	}
	dev := d.data.Contiguous()
	dev.Placement = pattern.Device
	d.data = dev
}

// Angles returns the (host-resident) angle vector. Callers that need a
// working copy truncated for a reduced axis-0 length (reconstruction
// methods, §3 invariants) must copy it themselves rather than call
// SetAngles, so the base aux array is never mutated.
func (d *Dataset) Angles() []float64 { return d.angles }

// SetAngles replaces the angle vector; fails unless the dataset is
// explicitly unlocked.
func (d *Dataset) SetAngles(a []float64) error {
	if d.locked {
		return errs.Data(errs.PhaseBlock, "", "set_angles: dataset is locked")
	}
	d.angles = a
	return nil
}

// Darks returns the darks reference array on the same placement as the
// active data buffer.
func (d *Dataset) Darks() *Array { return d.darks.get(d.data.Placement) }

// SetDarks overwrites the darks array on the active placement; fails
// unless the dataset is explicitly unlocked (only the dezinging wrapper
// unlocks).
func (d *Dataset) SetDarks(arr *Array) error {
	if d.locked {
		return errs.Data(errs.PhaseBlock, "", "set_darks: dataset is locked")
	}
	d.darks.set(d.data.Placement, arr)
	return nil
}

// Flats returns the flats reference array on the same placement as the
// active data buffer.
func (d *Dataset) Flats() *Array { return d.flats.get(d.data.Placement) }

// SetFlats overwrites the flats array on the active placement; fails
// unless the dataset is explicitly unlocked.
func (d *Dataset) SetFlats(arr *Array) error {
	if d.locked {
		return errs.Data(errs.PhaseBlock, "", "set_flats: dataset is locked")
	}
	d.flats.set(d.data.Placement, arr)
	return nil
}
