// Package runner implements the §4.8 orchestrator: turning a loaded
// archive.Reader and a parsed config.Pipeline into a running pipeline —
// build, transform, sectionize, then for each section plan/split/
// iterate/aggregate/reslice — grounded on httomo/task_runner.py's
// execute_pipeline and its _determine_platform_sections/
// _run_method_on_all_datasets shape, adapted to this module's explicit
// runctx.Context rather than process-global state.
package runner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/team-gpu/httomo/internal/block"
	"github.com/team-gpu/httomo/internal/config"
	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/obslog"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/planner"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/reslice"
	"github.com/team-gpu/httomo/internal/runctx"
	"github.com/team-gpu/httomo/internal/section"
	"github.com/team-gpu/httomo/internal/wrapper"
)

// MethodLookup resolves a (module, method) pair to its numerical
// implementation; that implementation is out of scope per §1 (contract
// only), the same injectable-seam shape as planner.DeviceMemoryQuery.
type MethodLookup func(module, methodName string) (wrapper.Method, error)

// Runner drives one pipeline run end to end.
type Runner struct {
	Registry     *registry.Registry
	Lookup       MethodLookup
	MemoryQuery  planner.DeviceMemoryQuery
	ResliceMode  reslice.Mode
	SafetyMargin float64
}

// New builds a Runner from its collaborators.
func New(reg *registry.Registry, lookup MethodLookup, query planner.DeviceMemoryQuery, mode reslice.Mode, safetyMargin float64) *Runner {
	return &Runner{Registry: reg, Lookup: lookup, MemoryQuery: query, ResliceMode: mode, SafetyMargin: safetyMargin}
}

// Stats summarizes one completed run for §4.8 step 5's elapsed-time report.
type Stats struct {
	Elapsed     time.Duration
	SectionsRun int
	BlocksRun   int
}

// Init creates the run directory (named "<timestamp>_output", or
// "<timestamp>_<outputFolder>" when outputFolder is set) under
// outputDir, sets ctx.RunID/ctx.RunOutDir identically on every rank via
// a single broadcast from rank 0, and — on rank 0 only — creates
// user.log and copies pipelineFile alongside it. Non-root ranks receive
// a discarding logger, matching "rank 0 sets up logging" (§4.8 step 1).
func (r *Runner) Init(ctx *runctx.Context, outputDir, outputFolder, pipelineFile string, verbose bool) error {
	rank := ctx.Rank()

	var seed string
	if rank == 0 {
		timestamp := time.Now().UTC().Format("20060102_150405")
		seed = timestamp + "|" + uuid.NewString()
	}
	raw, err := ctx.Comm.Broadcast(0, []byte(seed))
	if err != nil {
		return errs.InternalErr(errs.PhasePlan, "", "broadcasting run identity: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return errs.InternalErr(errs.PhasePlan, "", "malformed run identity broadcast")
	}
	timestamp, runID := parts[0], parts[1]

	dirName := timestamp + "_output"
	if outputFolder != "" {
		dirName = timestamp + "_" + outputFolder
	}
	ctx.RunID = runID
	ctx.RunOutDir = filepath.Join(outputDir, dirName)

	if rank != 0 {
		ctx.Log = obslog.New(io.Discard, false)
		return nil
	}

	if err := os.MkdirAll(ctx.RunOutDir, 0o755); err != nil {
		return errs.IOErr(errs.PhasePlan, "", "creating run directory: %w", err)
	}
	logFile, err := os.Create(filepath.Join(ctx.RunOutDir, "user.log"))
	if err != nil {
		return errs.IOErr(errs.PhasePlan, "", "creating user.log: %w", err)
	}
	ctx.Log = obslog.New(io.MultiWriter(logFile, os.Stderr), verbose)

	if pipelineFile != "" {
		if err := copyFile(pipelineFile, filepath.Join(ctx.RunOutDir, filepath.Base(pipelineFile))); err != nil {
			return errs.IOErr(errs.PhasePlan, "", "copying pipeline file into run directory: %w", err)
		}
	}
	return nil
}

// Finish emits the total elapsed time on rank 0 and strips ANSI escape
// sequences from the on-disk user.log, matching §4.8 step 5.
func (r *Runner) Finish(ctx *runctx.Context, elapsed time.Duration) error {
	if ctx.Rank() != 0 {
		return nil
	}
	ctx.Log.Once(0, obslog.LevelAlways, obslog.ColourGreen, fmt.Sprintf("run complete in %s", elapsed))

	path := filepath.Join(ctx.RunOutDir, "user.log")
	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.IOErr(errs.PhasePlan, "", "reading user.log for ANSI strip: %w", err)
	}
	return os.WriteFile(path, obslog.StripANSI(raw), 0o644)
}

// BuildWrappers turns parsed method entries into Wrapper instances,
// resolving save_result the way _determine_platform_sections does: an
// explicit save_result or glob_stats parameter, or save_all, forces the
// wrapper's own output to be persisted (a method with glob_stats: true
// requests its own save, not the next method's). Any config.OutputRefBinding
// bound in an entry's params is resolved against the wrappers already
// built for the preceding entries, into a concrete wrapper.OutputRef that
// resolveOutputRefs substitutes at execution time.
func (r *Runner) BuildWrappers(entries []config.Entry, saveAll bool) ([]wrapper.Wrapper, error) {
	built := make([]wrapper.Wrapper, 0, len(entries))
	for _, e := range entries {
		info, _ := r.Registry.Query(e.Module, e.Method)
		globStats := asBool(e.Params["glob_stats"])
		saveResult := asBool(e.Params["save_result"]) || saveAll || globStats

		method, err := r.Lookup(e.Module, e.Method)
		if err != nil {
			return nil, errs.Configuration(e.Method, "resolving method implementation: %w", err)
		}
		params, err := bindOutputRefs(e.Params, built)
		if err != nil {
			return nil, errs.Configuration(e.Method, "%w", err)
		}
		w, err := wrapper.NewWrapper(e.Module, e.Method, info, method, params.(map[string]any), saveResult, globStats, wrapper.ExtraArgs{})
		if err != nil {
			return nil, err
		}
		built = append(built, w)
	}
	return built, nil
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// bindOutputRefs walks a param value (a map/list produced by
// config.Load's YAML normalization) and replaces any config.OutputRefBinding
// with the wrapper.OutputRef naming the already-built wrapper whose
// method name matches, searching backward so the nearest preceding
// occurrence of an ambiguous method name wins.
func bindOutputRefs(v any, built []wrapper.Wrapper) (any, error) {
	switch vv := v.(type) {
	case config.OutputRefBinding:
		for i := len(built) - 1; i >= 0; i-- {
			if built[i].MethodName() == vv.Method {
				return wrapper.OutputRef{Method: built[i], Key: vv.Key}, nil
			}
		}
		return nil, fmt.Errorf("parameter references %q.%q but no earlier step named %q was found", vv.Method, vv.Key, vv.Method)
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			resolved, err := bindOutputRefs(e, built)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			resolved, err := bindOutputRefs(e, built)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// InsertIntermediateWriters implements §4.8 step 2: after every wrapper
// whose SaveResult() is true, insert an intermediate-writer wrapper
// bound to that wrapper's identity, matching save/intermediate_dataset's
// per-task persistence.
func (r *Runner) InsertIntermediateWriters(methods []wrapper.Wrapper, outDir string, globalShape dataset.Shape, detectorX, detectorY int, angles []float64) []wrapper.Wrapper {
	writerInfo, _ := r.Registry.Query("httomo.methods", "save_intermediate_data")

	out := make([]wrapper.Wrapper, 0, len(methods))
	for i, m := range methods {
		out = append(out, m)
		if !m.SaveResult() {
			continue
		}
		prev := wrapper.PrevMethodIdentity{
			TaskID:  i,
			Package: packageName(m.ModulePath()),
			Method:  m.MethodName(),
			Algo:    algoName(m.Params()),
		}
		writer := wrapper.NewIntermediateWriter("httomo.methods", "save_intermediate_data", writerInfo, nil, false, false, prev, outDir, globalShape, detectorX, detectorY, angles)
		out = append(out, writer)
	}
	return out
}

func packageName(modulePath string) string {
	if i := strings.IndexByte(modulePath, '.'); i >= 0 {
		return modulePath[:i]
	}
	return modulePath
}

func algoName(params map[string]any) string {
	v, _ := params["algorithm"].(string)
	return v
}

// Run executes the full pipeline (§4.8 steps 1-5, excluding Init/Finish
// which the caller invokes around it so it can bracket elapsed time).
// reader has already been opened; loaderPattern is the pattern the
// loaded chunk was actually read along (the runner performs the initial
// reslice itself if it disagrees with the first section's pattern,
// per SPEC_FULL's confirmation that this is a runner, not sectionizer,
// responsibility).
func (r *Runner) Run(ctx *runctx.Context, chunk *dataset.Dataset, loaderPattern pattern.Pattern, methods []wrapper.Wrapper) (*Stats, error) {
	result, err := section.Sectionize(methods, loaderPattern, ctx.Log)
	if err != nil {
		return nil, err
	}

	if result.InitialReslice && len(result.Sections) > 0 {
		rs := reslice.New(r.ResliceMode)
		reslicedChunk, err := rs.Reslice(ctx, chunk, loaderPattern.SlicingDim(), result.Sections[0].Pattern.SlicingDim())
		if err != nil {
			return nil, err
		}
		chunk = reslicedChunk
	}

	stats := &Stats{}
	cur := chunk
	for i, sec := range result.Sections {
		next, err := r.runSection(ctx, sec, cur, stats)
		if err != nil {
			if _, ok := errs.As(err); ok {
				return nil, err
			}
			return nil, errs.Data(errs.PhaseBlock, "", "section %d: %w", i, err)
		}
		cur = next
		stats.SectionsRun++

		if sec.NeedsResliceAfter && i+1 < len(result.Sections) {
			rs := reslice.New(r.ResliceMode)
			reslicedChunk, err := rs.Reslice(ctx, cur, sec.Pattern.SlicingDim(), result.Sections[i+1].Pattern.SlicingDim())
			if err != nil {
				return nil, err
			}
			cur = reslicedChunk
		}
	}
	return stats, nil
}

func (r *Runner) runSection(ctx *runctx.Context, sec *section.Section, chunk *dataset.Dataset, stats *Stats) (*dataset.Dataset, error) {
	decision, err := planner.Plan(sec.Methods, sec.Placement, sec.Pattern, chunk, ctx.MaxCPUSlices, r.MemoryQuery, r.SafetyMargin)
	if err != nil {
		return nil, err
	}

	splitter, err := block.NewSplitter(chunk, sec.Pattern, decision.MaxSlices)
	if err != nil {
		return nil, err
	}
	agg := block.NewAggregator(sec.Pattern, chunk.ChunkShape()[sec.Pattern.SlicingDim()])

	for {
		blk, ok, err := splitter.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		for _, m := range sec.Methods {
			resolveOutputRefs(m)
			started := time.Now()
			blk, err = m.Execute(ctx, blk)
			if err != nil {
				return nil, err
			}
			ctx.Log.Once(ctx.Rank(), obslog.LevelDebug, obslog.ColourNone, fmt.Sprintf("%s.%s took %s", m.ModulePath(), m.MethodName(), time.Since(started)))
		}

		if err := agg.Append(blk); err != nil {
			return nil, err
		}
		stats.BlocksRun++
	}

	assembled, err := agg.Chunk()
	if err != nil {
		return nil, err
	}
	return chunk.NewChunk(chunk.ChunkStart(), assembled), nil
}

// resolveOutputRefs substitutes any wrapper.OutputRef bound in m's
// parameter map with the concrete side-output value, once the
// referenced wrapper has published it; Params() returns the wrapper's
// live map, so this mutates in place the same way _resolve_output_ref
// rewrites dict_params_method in the original.
func resolveOutputRefs(m wrapper.Wrapper) {
	for k, v := range m.Params() {
		ref, ok := v.(wrapper.OutputRef)
		if !ok {
			continue
		}
		if val, ok := ref.Method.SideOutputs()[ref.Key]; ok {
			m.Params()[k] = val
		}
	}
}

// Check validates a pipeline's structure (registry resolution and
// sectionizing) without executing any method, matching the `check` CLI
// subcommand's scope (§6).
func (r *Runner) Check(entries []config.Entry, loaderPattern pattern.Pattern) (*section.Result, error) {
	methods := make([]wrapper.Wrapper, 0, len(entries))
	for _, e := range entries {
		info, _ := r.Registry.Query(e.Module, e.Method)
		globStats := asBool(e.Params["glob_stats"])
		saveResult := asBool(e.Params["save_result"]) || globStats
		w, err := wrapper.NewWrapper(e.Module, e.Method, info, nopMethod{}, e.Params, saveResult, globStats, wrapper.ExtraArgs{})
		if err != nil {
			return nil, err
		}
		methods = append(methods, w)
	}
	return section.Sectionize(methods, loaderPattern, nil)
}

// nopMethod satisfies wrapper.Method for structural validation only;
// Check never calls Execute, so Call is never invoked.
type nopMethod struct{}

func (nopMethod) ParamNames() []string { return nil }
func (nopMethod) Call(wrapper.Args) (any, error) {
	return nil, errs.InternalErr(errs.PhasePlan, "", "nopMethod.Call invoked outside validation")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
