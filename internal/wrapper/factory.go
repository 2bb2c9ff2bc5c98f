package wrapper

import (
	"strings"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/registry"
)

// dataReducingHelpers is the (small, explicit) set of method names spec.md
// §2.3 calls "data-reducing helpers" — methods that shrink the working
// view (binning, cropping) rather than transform it in place.
var dataReducingHelpers = map[string]bool{
	"data_resampler": true,
}

// selectVariant implements the §2.3/§4.3 selection rules: suffix
// ".algorithm" -> reconstruction; suffix ".rotation" -> rotation; name
// "remove_outlier3d" -> dezinging; suffix ".images" -> image-writer; name
// "save_intermediate_data" -> intermediate-writer; a data-reducing helper
// -> datareducer; otherwise generic. The checks are independent, so one
// (module, name) can match more than one of them (e.g. remove_outlier3d
// under a ".rotation" module); the match-count guard rejects such a pair
// with a ConfigurationError instead of picking a variant.
type variantKind int

const (
	variantGeneric variantKind = iota
	variantReconstruction
	variantRotation
	variantDezinging
	variantImageWriter
	variantIntermediateWriter
	variantDataReducer
)

func selectVariant(modulePath, methodName string) (variantKind, error) {
	matches := make([]variantKind, 0, 1)

	if strings.HasSuffix(modulePath, ".algorithm") {
		matches = append(matches, variantReconstruction)
	}
	if strings.HasSuffix(modulePath, ".rotation") {
		matches = append(matches, variantRotation)
	}
	if methodName == "remove_outlier3d" {
		matches = append(matches, variantDezinging)
	}
	if strings.HasSuffix(modulePath, ".images") {
		matches = append(matches, variantImageWriter)
	}
	if methodName == "save_intermediate_data" {
		matches = append(matches, variantIntermediateWriter)
	}
	if dataReducingHelpers[methodName] {
		matches = append(matches, variantDataReducer)
	}

	switch len(matches) {
	case 0:
		return variantGeneric, nil
	case 1:
		return matches[0], nil
	default:
		return variantGeneric, errs.Configuration(modulePath+"."+methodName, "method matches more than one wrapper variant")
	}
}

// NewWrapper builds the Wrapper variant appropriate for (modulePath,
// methodName), binding method/params/info as every variant's constructor
// requires. extra carries the data needed only by variants other than
// Generic: the previous method's identity for IntermediateWriter, and the
// output directory/global shape/detector extents it writes alongside.
type ExtraArgs struct {
	Prev        PrevMethodIdentity
	OutDir      string
	GlobalShape dataset.Shape
	DetectorX   int
	DetectorY   int
	Angles      []float64
}

func NewWrapper(modulePath, methodName string, info registry.Info, method Method, params map[string]any, saveResult, globStats bool, extra ExtraArgs) (Wrapper, error) {
	kind, err := selectVariant(modulePath, methodName)
	if err != nil {
		return nil, err
	}

	switch kind {
	case variantReconstruction:
		return NewReconstruction(modulePath, methodName, info, method, params, saveResult, globStats), nil
	case variantRotation:
		return NewRotation(modulePath, methodName, info, method, params, saveResult, globStats)
	case variantDezinging:
		return NewDezinging(modulePath, methodName, info, method, params, saveResult, globStats), nil
	case variantImageWriter:
		return NewImageWriter(modulePath, methodName, info, method, params, saveResult, globStats), nil
	case variantIntermediateWriter:
		return NewIntermediateWriter(modulePath, methodName, info, params, saveResult, globStats, extra.Prev, extra.OutDir, extra.GlobalShape, extra.DetectorX, extra.DetectorY, extra.Angles), nil
	case variantDataReducer:
		return NewDataReducer(modulePath, methodName, info, method, params, saveResult, globStats), nil
	default:
		return NewGeneric(modulePath, methodName, info, method, params, saveResult, globStats), nil
	}
}
