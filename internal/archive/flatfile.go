// This file is the one concrete archive.Reader this module ships: not a
// parser for any real instrument format (HDF5/NeXus parsing stays out of
// scope per §1/§6), but a small self-describing binary container so
// `cmd/httomo run` has a real file to open end to end. The layout mirrors
// internal/reslice's staging-file convention (a zstd-wrapped, fixed-order
// binary blob) rather than inventing a new serialization idiom.
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/team-gpu/httomo/internal/dataset"
)

const flatFileMagic uint32 = 0x48544646 // "HTFF"
const flatFileVersion uint32 = 1

// WriteFlatFile encodes an interleaved row stack (projections, darks, and
// flats identified by keys, in the order get_darks_flats expects) into a
// flat file a FlatFileReader can later open. It is the one caller of
// SplitImageKey in this package: separating the three row sets is a
// one-time cost paid when the fixture is written, not on every read.
func WriteFlatFile(path string, rows *dataset.Array, keys []ImageKey, angles []float64, units AngleUnits) error {
	if len(keys) != rows.Shape[0] {
		return fmt.Errorf("archive: %d image keys for %d rows", len(keys), rows.Shape[0])
	}
	projIdx, flatIdx, darkIdx := SplitImageKey(keys)
	if len(projIdx) != len(angles) {
		return fmt.Errorf("archive: %d projection rows but %d angles", len(projIdx), len(angles))
	}

	projections := gatherRows(rows, projIdx)
	flats := gatherRows(rows, flatIdx)
	darks := gatherRows(rows, darkIdx)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(units)); err != nil {
		return err
	}
	if err := writeArrayHeader(&buf, projections.Shape); err != nil {
		return err
	}
	if err := writeArrayHeader(&buf, darks.Shape); err != nil {
		return err
	}
	if err := writeArrayHeader(&buf, flats.Shape); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, projections.Data); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, darks.Data); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, flats.Data); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, angles); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, flatFileMagic); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, flatFileVersion); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if _, err := enc.Write(buf.Bytes()); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func gatherRows(rows *dataset.Array, idx []int) *dataset.Array {
	shape := dataset.Shape{len(idx), rows.Shape[1], rows.Shape[2]}
	out := dataset.NewArray(shape)
	for outI, srcI := range idx {
		for j := 0; j < rows.Shape[1]; j++ {
			for k := 0; k < rows.Shape[2]; k++ {
				out.Set(outI, j, k, rows.At(srcI, j, k))
			}
		}
	}
	return out
}

func writeArrayHeader(w io.Writer, shape dataset.Shape) error {
	return binary.Write(w, binary.LittleEndian, [3]uint32{uint32(shape[0]), uint32(shape[1]), uint32(shape[2])})
}

func readArrayHeader(r io.Reader) (dataset.Shape, error) {
	var raw [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return dataset.Shape{}, err
	}
	return dataset.Shape{int(raw[0]), int(raw[1]), int(raw[2])}, nil
}

func readArrayData(r io.Reader, shape dataset.Shape) (*dataset.Array, error) {
	a := dataset.NewArray(shape)
	if err := binary.Read(r, binary.LittleEndian, a.Data); err != nil {
		return nil, err
	}
	return a, nil
}

// FlatFileReader implements Reader over the WriteFlatFile layout, loading
// the whole volume into memory on Open. A production reader would stream
// each rank's slab directly from the archive; this module's archive
// support ends at the contract (§1), so the simplification is confined to
// this one stand-in implementation.
type FlatFileReader struct {
	path     string
	splitDim int

	global *dataset.Dataset
	units  AngleUnits
}

// NewFlatFileReader builds a reader that will, on ReadChunk, partition
// the global volume's splitDim axis across ranks. splitDim is supplied by
// the caller (resolved from the loader's registry.Info.Pattern), not
// stored in the file, since the same file could in principle be consumed
// under either slicing convention.
func NewFlatFileReader(path string, splitDim int) *FlatFileReader {
	return &FlatFileReader{path: path, splitDim: splitDim}
}

func (r *FlatFileReader) Open() (GlobalInfo, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return GlobalInfo{}, err
	}
	defer f.Close()

	var magic, version uint32
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return GlobalInfo{}, err
	}
	if magic != flatFileMagic {
		return GlobalInfo{}, fmt.Errorf("archive: %s is not a flat-file archive", r.path)
	}
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return GlobalInfo{}, err
	}
	if version != flatFileVersion {
		return GlobalInfo{}, fmt.Errorf("archive: %s has unsupported version %d", r.path, version)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return GlobalInfo{}, err
	}
	defer dec.Close()

	var unitsRaw uint32
	if err := binary.Read(dec, binary.LittleEndian, &unitsRaw); err != nil {
		return GlobalInfo{}, err
	}
	projShape, err := readArrayHeader(dec)
	if err != nil {
		return GlobalInfo{}, err
	}
	darksShape, err := readArrayHeader(dec)
	if err != nil {
		return GlobalInfo{}, err
	}
	flatsShape, err := readArrayHeader(dec)
	if err != nil {
		return GlobalInfo{}, err
	}
	projections, err := readArrayData(dec, projShape)
	if err != nil {
		return GlobalInfo{}, err
	}
	darks, err := readArrayData(dec, darksShape)
	if err != nil {
		return GlobalInfo{}, err
	}
	flats, err := readArrayData(dec, flatsShape)
	if err != nil {
		return GlobalInfo{}, err
	}
	angles := make([]float64, projShape[0])
	if err := binary.Read(dec, binary.LittleEndian, angles); err != nil {
		return GlobalInfo{}, err
	}

	units := AngleUnits(unitsRaw)
	r.units = units
	r.global = dataset.NewGlobal(projections, darks, flats, ToRadians(angles, units))

	return GlobalInfo{GlobalShape: projections.Shape, AngleUnits: units}, nil
}

// ReadChunk partitions the already-loaded global volume's splitDim axis
// the same way internal/reslice.partition does: contiguous ranges, as
// even as possible, remainder to the highest-numbered ranks.
func (r *FlatFileReader) ReadChunk(rank, size int) (*dataset.Dataset, error) {
	if r.global == nil {
		return nil, fmt.Errorf("archive: ReadChunk called before Open")
	}
	extent := r.global.GlobalShape()[r.splitDim]
	start, length := partition(extent, rank, size)

	view, err := r.global.Data().Slice(r.splitDim, start, length)
	if err != nil {
		return nil, err
	}
	chunkStart := dataset.Shape{0, 0, 0}
	chunkStart[r.splitDim] = start
	return r.global.NewChunk(chunkStart, view), nil
}

// partition computes rank's contiguous [start, start+length) range of an
// axis of the given extent, matching internal/reslice.partition's
// chunk_start[d] = floor(r*extent/size) rule so a chunk produced here
// lines up with what a later reslice call expects.
func partition(extent, rank, size int) (start, length int) {
	start = rank * extent / size
	end := (rank + 1) * extent / size
	return start, end - start
}
