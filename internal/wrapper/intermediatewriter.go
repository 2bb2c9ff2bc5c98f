package wrapper

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/runctx"
)

// PrevMethodIdentity is the value-typed identity record the intermediate
// writer uses for file naming. Design Notes calls for the back-reference
// to the previous method to be an index or value record, never an owned
// pointer, so this is not a *Wrapper.
type PrevMethodIdentity struct {
	TaskID  int
	Package string
	Method  string
	Algo    string // recon algorithm name, if any; empty otherwise
}

// Filename pins the variant that includes the optional "-{algo}" suffix
// (Open Question in Design Notes), matching the persisted-output-layout
// contract named explicitly in §6.
func (id PrevMethodIdentity) Filename() string {
	name := fmt.Sprintf("%d-%s-%s", id.TaskID, id.Package, id.Method)
	if id.Algo != "" {
		name += "-" + id.Algo
	}
	return name + ".h5"
}

// IntermediateWriter persists a section's output at each block's
// global-index offset into a single per-invocation file, opened
// collectively on first use and closed on the last block of the chunk.
// The on-disk container is a lightweight custom binary layout rather
// than a real HDF5 file (no HDF5 binding exists anywhere in the example
// corpus this module was grounded on — see DESIGN.md). Only the .h5 file
// name is kept; the file holds a header of the global shape, the angles
// and the detector x/y extents, followed by the float32 data payload, and
// stores no dataset names.
type IntermediateWriter struct {
	Base

	prev        PrevMethodIdentity
	globalShape dataset.Shape
	detectorX   int
	detectorY   int
	angles      []float64

	path string
	file *os.File
}

func NewIntermediateWriter(modulePath, methodName string, info registry.Info, params map[string]any, saveResult, globStats bool, prev PrevMethodIdentity, outDir string, globalShape dataset.Shape, detectorX, detectorY int, angles []float64) *IntermediateWriter {
	return &IntermediateWriter{
		Base:        NewBase(modulePath, methodName, info, params, saveResult, globStats),
		prev:        prev,
		globalShape: globalShape,
		detectorX:   detectorX,
		detectorY:   detectorY,
		angles:      angles,
		path:        filepath.Join(outDir, prev.Filename()),
	}
}

func (w *IntermediateWriter) Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	if w.file == nil {
		if err := w.open(ctx); err != nil {
			return nil, err
		}
	}

	data := block.Data()
	if data.Placement != pattern.Host {
		data = data.Contiguous()
	}
	if err := w.writeBlock(block, data); err != nil {
		return nil, err
	}

	if block.IsLastInChunk() {
		if err := w.file.Close(); err != nil {
			return nil, errs.IOErr(errs.PhaseBlock, w.MethodName(), "close intermediate file: %w", err)
		}
		w.file = nil
	}
	return block, nil
}

func (w *IntermediateWriter) open(ctx *runctx.Context) error {
	headerSize := int64(4*3 + 8*len(w.angles) + 4*2)
	payloadSize := int64(w.globalShape.Volume()) * 4
	total := headerSize + payloadSize

	err := ctx.Comm.Open(w.path, func() error {
		f, err := os.Create(w.path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := f.Truncate(total); err != nil {
			return err
		}
		return w.writeHeader(f)
	})
	if err != nil {
		return errs.IOErr(errs.PhaseBlock, w.MethodName(), "collectively open intermediate file: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_RDWR, 0o644)
	if err != nil {
		return errs.IOErr(errs.PhaseBlock, w.MethodName(), "open intermediate file: %w", err)
	}
	w.file = f
	return nil
}

func (w *IntermediateWriter) headerSize() int64 {
	return int64(4*3 + 8*len(w.angles) + 4*2)
}

func (w *IntermediateWriter) writeHeader(f *os.File) error {
	buf := make([]byte, w.headerSize())
	binary.LittleEndian.PutUint32(buf[0:], uint32(w.globalShape[0]))
	binary.LittleEndian.PutUint32(buf[4:], uint32(w.globalShape[1]))
	binary.LittleEndian.PutUint32(buf[8:], uint32(w.globalShape[2]))
	off := 12
	for _, a := range w.angles {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(a))
		off += 8
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(w.detectorX))
	binary.LittleEndian.PutUint32(buf[off+4:], uint32(w.detectorY))
	_, err := f.WriteAt(buf, 0)
	return err
}

// writeBlock writes data (host-resident) at its global-index offset
// within the shared /data payload, batching contiguous axis-2 runs since
// a row-major layout keeps those contiguous regardless of which axis is
// currently the slicing dim.
func (w *IntermediateWriter) writeBlock(block *dataset.Dataset, data *dataset.Array) error {
	gi := block.GlobalIndex()
	gs1, gs2 := w.globalShape[1], w.globalShape[2]
	base := w.headerSize()

	row := make([]byte, data.Shape[2]*4)
	for i := 0; i < data.Shape[0]; i++ {
		for j := 0; j < data.Shape[1]; j++ {
			for k := 0; k < data.Shape[2]; k++ {
				binary.LittleEndian.PutUint32(row[k*4:], math.Float32bits(data.At(i, j, k)))
			}
			gI, gJ := gi[0]+i, gi[1]+j
			offset := base + int64(gI*gs1*gs2+gJ*gs2+gi[2])*4
			if _, err := w.file.WriteAt(row, offset); err != nil {
				return errs.IOErr(errs.PhaseBlock, w.MethodName(), "write intermediate block: %w", err)
			}
		}
	}
	return nil
}
