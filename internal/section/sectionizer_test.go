package section

import (
	"testing"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/runctx"
	"github.com/team-gpu/httomo/internal/wrapper"
)

// nopMethod is a minimal wrapper.Method collaborator, just enough to
// construct a real *wrapper.Rotation for exercising setReturnHostHints'
// rotation-specific branch (stubWrapper can't stand in, since that
// branch type-asserts for *wrapper.Rotation specifically).
type nopMethod struct{}

func (nopMethod) ParamNames() []string { return []string{"sino", "darks", "flats"} }
func (nopMethod) Call(wrapper.Args) (any, error) { return float64(0), nil }

// stubWrapper is a minimal wrapper.Wrapper for exercising the
// sectionizer without constructing real method collaborators.
type stubWrapper struct {
	name       string
	info       registry.Info
	save       bool
	glob       bool
	returnHost bool
	params     map[string]any
}

func (s *stubWrapper) ModulePath() string { return s.info.Module }
func (s *stubWrapper) MethodName() string { return s.name }
func (s *stubWrapper) Info() registry.Info { return s.info }
func (s *stubWrapper) Execute(ctx *runctx.Context, block *dataset.Dataset) (*dataset.Dataset, error) {
	return block, nil
}
func (s *stubWrapper) SideOutputs() map[string]any { return nil }
func (s *stubWrapper) SaveResult() bool            { return s.save }
func (s *stubWrapper) GlobStats() bool             { return s.glob }
func (s *stubWrapper) ReturnHost() bool            { return s.returnHost }
func (s *stubWrapper) SetReturnHost(v bool)        { s.returnHost = v }
func (s *stubWrapper) Params() map[string]any      { return s.params }
func (s *stubWrapper) SetPattern(p pattern.Pattern) { s.info.Pattern = p }

func stub(name string, p pattern.Pattern, placement pattern.Placement) *stubWrapper {
	return &stubWrapper{name: name, info: registry.Info{Module: "m", Method: name, Pattern: p, Placement: placement}}
}

func TestSectionizeMergesCompatibleRun(t *testing.T) {
	methods := []wrapper.Wrapper{
		stub("normalize", pattern.Projection, pattern.Device),
		stub("minus_log", pattern.Projection, pattern.Device),
	}
	res, err := Sectionize(methods, pattern.Projection, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(res.Sections))
	}
	if len(res.Sections[0].Methods) != 2 {
		t.Fatalf("methods in section = %d, want 2", len(res.Sections[0].Methods))
	}
}

func TestSectionizeBreaksOnPlacementChange(t *testing.T) {
	methods := []wrapper.Wrapper{
		stub("normalize", pattern.Projection, pattern.Device),
		stub("remove_outlier3d", pattern.All, pattern.Host),
	}
	res, err := Sectionize(methods, pattern.Projection, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(res.Sections))
	}
}

func TestSectionizeBreaksOnPatternIncompatibility(t *testing.T) {
	methods := []wrapper.Wrapper{
		stub("normalize", pattern.Projection, pattern.Device),
		stub("find_center_vo", pattern.Sinogram, pattern.Device),
	}
	res, err := Sectionize(methods, pattern.Projection, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(res.Sections))
	}
	if !res.Sections[0].NeedsResliceAfter {
		t.Fatal("expected a reslice boundary between the differing-pattern sections")
	}
}

func TestSectionizeBreaksAfterSaveResult(t *testing.T) {
	saved := stub("save_to_images", pattern.All, pattern.Host)
	saved.save = true
	methods := []wrapper.Wrapper{
		saved,
		stub("data_resampler", pattern.All, pattern.Host),
	}
	res, err := Sectionize(methods, pattern.Projection, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(res.Sections))
	}
}

func TestSectionizeBreaksOnSideOutputReference(t *testing.T) {
	centering := stub("find_center_vo", pattern.Sinogram, pattern.Device)
	dependent := stub("recon", pattern.Sinogram, pattern.Device)
	dependent.params = map[string]any{"center_of_rotation": wrapper.OutputRef{Method: centering, Key: "cor"}}

	methods := []wrapper.Wrapper{centering, dependent}
	res, err := Sectionize(methods, pattern.Sinogram, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 2 {
		t.Fatalf("sections = %d, want 2 (side-output dependency should force a break)", len(res.Sections))
	}
}

func TestSectionizeAllPatternDefaultsToProjection(t *testing.T) {
	methods := []wrapper.Wrapper{
		stub("a", pattern.All, pattern.Host),
		stub("b", pattern.All, pattern.Host),
	}
	res, err := Sectionize(methods, pattern.All, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(res.Sections))
	}
	if res.Sections[0].Pattern != pattern.Projection {
		t.Fatalf("pattern = %v, want projection default", res.Sections[0].Pattern)
	}
	if res.LoaderPattern != pattern.Projection {
		t.Fatalf("loader pattern = %v, want projection", res.LoaderPattern)
	}
}

func TestSetReturnHostHintsMarksWrapperBeforeRotationOnPlacementMismatch(t *testing.T) {
	before := stub("normalize", pattern.Sinogram, pattern.Host)
	rotationInfo := registry.Info{Module: "httomolibgpu.recon.rotation", Method: "find_center_vo", Pattern: pattern.Sinogram, Placement: pattern.Host}
	rotation, err := wrapper.NewRotation("httomolibgpu.recon.rotation", "find_center_vo", rotationInfo, nopMethod{}, nil, false, false)
	if err != nil {
		t.Fatal(err)
	}
	// afterSameSection shares rotation's placement, so it stays in the
	// same section as before/rotation; its save_result is what forces the
	// section break, not a placement change, keeping that break condition
	// independent of the one this test exercises.
	afterSameSection := stub("some_host_step", pattern.Sinogram, pattern.Host)
	afterSameSection.save = true
	next := stub("recon", pattern.Sinogram, pattern.Device)

	methods := []wrapper.Wrapper{before, rotation, afterSameSection, next}
	res, err := Sectionize(methods, pattern.Sinogram, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(res.Sections))
	}
	if len(res.Sections[0].Methods) != 3 {
		t.Fatalf("section 0 methods = %d, want 3 (before, rotation, afterSameSection)", len(res.Sections[0].Methods))
	}
	// Section 0's placement (Host) differs from section 1's first method's
	// placement (Device); "before" is the wrapper immediately preceding
	// rotation, so it gets flagged, not rotation itself.
	if !before.ReturnHost() {
		t.Fatal("expected the wrapper immediately before rotation to be flagged ReturnHost")
	}
	if rotation.ReturnHost() {
		t.Fatal("rotation itself should not be flagged by this rule")
	}
}

func TestSectionizeBackpropagatesAndFlagsInitialReslice(t *testing.T) {
	methods := []wrapper.Wrapper{
		stub("a", pattern.All, pattern.Host),
		stub("b", pattern.Sinogram, pattern.Host),
	}
	res, err := Sectionize(methods, pattern.Projection, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 1 {
		t.Fatalf("sections = %d, want 1 (both methods compatible with sinogram after backprop)", len(res.Sections))
	}
	if res.Sections[0].Pattern != pattern.Sinogram {
		t.Fatalf("pattern = %v, want sinogram (backpropagated)", res.Sections[0].Pattern)
	}
	if !res.InitialReslice {
		t.Fatal("expected an initial reslice since the loader declared projection but the section finalized to sinogram")
	}
}
