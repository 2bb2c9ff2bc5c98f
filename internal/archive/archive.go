// Package archive defines the reader contract §1 and §6 place out of
// scope for this module: turning a structured archive file (projections,
// dark/flat reference frames, rotation angles, an image-key vector
// separating interleaved flats/darks from projections) into the
// dataset.NewGlobal/NewChunk inputs the rest of the engine consumes. No
// concrete format (HDF5/NeXus or otherwise) is implemented here — this
// is the thin collaborator boundary, grounded on
// httomo/loaders/standard_tomo_loader.py's StandardTomoLoader and
// httomo/darks_flats.py's get_darks_flats shape.
package archive

import (
	"github.com/team-gpu/httomo/internal/dataset"
)

// AngleUnits records whether a reader's raw angle values are already in
// radians or need converting, matching the "documented units flag per
// reader" the archive contract requires.
type AngleUnits int

const (
	Radians AngleUnits = iota
	Degrees
)

// ImageKey classifies one row of the interleaved detector stack, the
// same three-valued scheme NeXus's /image_key dataset uses.
type ImageKey int

const (
	ImageKeyProjection ImageKey = 0
	ImageKeyFlat       ImageKey = 1
	ImageKeyDark       ImageKey = 2
)

// Preview restricts which rows/columns of the raw file a reader loads,
// mirroring httomo.preview.PreviewConfig's per-dimension start/stop.
type Preview struct {
	Angles      PreviewDim
	DetectorY   PreviewDim
	DetectorX   PreviewDim
}

type PreviewDim struct {
	Start, Stop int
}

func (p PreviewDim) Len() int { return p.Stop - p.Start }

// Reader is the archive contract: given a process's rank and the total
// process count, it returns that process's chunk of the global volume
// plus the aux data every wrapper needs, already adapted into this
// module's dataset types. A concrete reader partitions the global
// angle/row extent across ranks the same way internal/reslice.partition
// does, so NewChunk's chunkStart lines up with what a later reslice call
// expects.
type Reader interface {
	// Open validates the archive and previews against it (out of scope:
	// the validation itself; this just returns the global shape it
	// resolves to) without loading projection data.
	Open() (GlobalInfo, error)

	// ReadChunk loads this process's contiguous slab along the reader's
	// split dimension (rank's
	// chunkStart/chunkShape are derived the same way internal/reslice's
	// partition function derives them) and the full darks/flats/angles,
	// returning a ready-to-use global-plus-chunk pair.
	ReadChunk(rank, size int) (*dataset.Dataset, error)
}

// GlobalInfo is what Open resolves before any projection data is read:
// the global shape after preview cropping, and the angle units the
// caller must convert if Degrees.
type GlobalInfo struct {
	GlobalShape dataset.Shape
	AngleUnits  AngleUnits
}

// ToRadians converts angles in-place if they are recorded in degrees;
// callers apply this once, right after a reader returns raw angle
// values, before they ever reach dataset.NewGlobal.
func ToRadians(angles []float64, units AngleUnits) []float64 {
	if units == Radians {
		return angles
	}
	out := make([]float64, len(angles))
	for i, a := range angles {
		out[i] = a * (3.141592653589793 / 180)
	}
	return out
}

// SplitImageKey partitions a flat stack's rows by image key into
// projection row indices and the rows to extract as darks/flats,
// matching get_darks_flats's separation of an interleaved file's rows
// before any chunk is built. Reader implementations use this to turn
// a single interleaved dataset into the three arrays dataset.NewGlobal
// expects; it does no I/O itself.
func SplitImageKey(keys []ImageKey) (projections, flats, darks []int) {
	for i, k := range keys {
		switch k {
		case ImageKeyProjection:
			projections = append(projections, i)
		case ImageKeyFlat:
			flats = append(flats, i)
		case ImageKeyDark:
			darks = append(darks, i)
		}
	}
	return projections, flats, darks
}
