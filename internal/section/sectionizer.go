// Package section implements the §4.4 Sectionizer: grouping an ordered
// wrapper list into maximal runs sharing placement and pattern, with no
// intervening save or side-output dependency, grounded on
// httomo/runner/platform_section.py's sectionize()/is_pattern_compatible/
// references_previous_method/_backpropagate_section_patterns/
// _finalize_patterns shape, extended with the placement and save_result
// break conditions spec.md §4.4 names explicitly.
package section

import (
	"github.com/team-gpu/httomo/internal/obslog"
	"github.com/team-gpu/httomo/internal/pattern"
	"github.com/team-gpu/httomo/internal/wrapper"
)

// Section is a maximal run of consecutive wrappers sharing placement and
// pattern with no intervening save or side-output dependency.
type Section struct {
	Pattern           pattern.Pattern
	Placement         pattern.Placement
	Methods           []wrapper.Wrapper
	IsLast            bool
	NeedsResliceAfter bool
}

// Result is the full output of Sectionize: the finalized sections, the
// pattern the loader's chunk must present, and whether the loader needs
// an initial reslice to match it.
type Result struct {
	Sections      []*Section
	LoaderPattern pattern.Pattern
	InitialReslice bool
}

// Sectionize partitions methods into sections and finalizes their
// patterns, per §4.4.
func Sectionize(methods []wrapper.Wrapper, loaderPattern pattern.Pattern, log *obslog.Logger) (*Result, error) {
	var sections []*Section
	curPattern := loaderPattern
	var curPlacement pattern.Placement
	var curMethods []wrapper.Wrapper
	placementSet := false

	finish := func() {
		if len(curMethods) == 0 {
			return
		}
		sections = append(sections, &Section{
			Pattern:   curPattern,
			Placement: curPlacement,
			Methods:   curMethods,
		})
	}

	for _, m := range methods {
		info := m.Info()
		breakSection := false
		if placementSet && info.Placement != curPlacement {
			breakSection = true
		}
		if !pattern.Compatible(curPattern, info.Pattern) {
			breakSection = true
		}
		if referencesCurrentSection(m, curMethods) {
			breakSection = true
		}
		if len(curMethods) > 0 && curMethods[len(curMethods)-1].SaveResult() {
			breakSection = true
		}

		if breakSection {
			finish()
			curMethods = []wrapper.Wrapper{m}
			curPlacement = info.Placement
			placementSet = true
			if info.Pattern != pattern.All {
				curPattern = info.Pattern
			} else {
				curPattern = pattern.All
			}
			continue
		}

		curMethods = append(curMethods, m)
		if !placementSet {
			curPlacement = info.Placement
			placementSet = true
		}
		if curPattern == pattern.All && info.Pattern != pattern.All {
			curPattern = info.Pattern
		}
	}
	finish()
	if len(sections) > 0 {
		sections[len(sections)-1].IsLast = true
	}

	initialReslice := backpropagatePatterns(sections, &loaderPattern)
	finalizePatterns(sections, &loaderPattern, log)
	setMethodPatterns(sections)
	setResliceFlags(sections)
	setReturnHostHints(sections)

	return &Result{Sections: sections, LoaderPattern: loaderPattern, InitialReslice: initialReslice}, nil
}

// referencesCurrentSection reports whether m's bound parameters include
// an OutputRef pointing at a wrapper already in the current section,
// matching references_previous_method in platform_section.py.
func referencesCurrentSection(m wrapper.Wrapper, curMethods []wrapper.Wrapper) bool {
	for _, v := range m.Params() {
		ref, ok := v.(wrapper.OutputRef)
		if !ok {
			continue
		}
		for _, c := range curMethods {
			if c == ref.Method {
				return true
			}
		}
	}
	return false
}

// backpropagatePatterns scans sections in reverse, letting any section
// still at Pattern.all inherit the next section's pattern; returns
// whether the loader needs an initial reslice once done.
func backpropagatePatterns(sections []*Section, loaderPattern *pattern.Pattern) bool {
	last := pattern.All
	hasLast := false
	for i := len(sections) - 1; i >= 0; i-- {
		s := sections[i]
		if s.Pattern == pattern.All {
			s.Pattern = last
		}
		last = s.Pattern
		hasLast = true
	}
	if !hasLast {
		return false
	}
	if *loaderPattern == pattern.All {
		*loaderPattern = last
		return false
	}
	return *loaderPattern != last
}

// finalizePatterns handles the fully-ambiguous case: every section (and
// the loader) still at Pattern.all, defaulting to projection with a
// diagnostic, matching _finalize_patterns' default_pattern=Pattern.projection.
func finalizePatterns(sections []*Section, loaderPattern *pattern.Pattern, log *obslog.Logger) {
	if len(sections) > 0 && sections[0].Pattern == pattern.All {
		if log != nil {
			log.Once(0, obslog.LevelInfo, obslog.ColourYellow, "all pipeline sections support all patterns: choosing projection")
		}
		for _, s := range sections {
			s.Pattern = pattern.Projection
		}
		*loaderPattern = pattern.Projection
	}
}

// setMethodPatterns stamps the finalized section pattern onto every
// wrapper, so blocks are cut along the right dimension.
func setMethodPatterns(sections []*Section) {
	for _, s := range sections {
		for _, m := range s.Methods {
			m.SetPattern(s.Pattern)
		}
	}
}

// setResliceFlags marks NeedsResliceAfter for each adjacent section pair
// whose patterns differ and the next section's pattern is not `all`
// (which cannot happen post-finalization, but the guard is cheap).
func setResliceFlags(sections []*Section) {
	for i := 0; i < len(sections)-1; i++ {
		cur, next := sections[i], sections[i+1]
		if cur.Pattern != next.Pattern && next.Pattern != pattern.All {
			cur.NeedsResliceAfter = true
		}
	}
}

// setReturnHostHints flags the last wrapper of every section to return
// host-resident data, plus, for a rotation wrapper at position k>0, the
// wrapper immediately before it (methods[k-1]) when that wrapper's
// placement differs from the following section's first method's
// placement (spec.md's "if a rotation wrapper appears at position k>0
// ... where methods[k-1].placement != methods_of_next_section[0].placement,
// mark methods[k-1]").
func setReturnHostHints(sections []*Section) {
	for i, s := range sections {
		if len(s.Methods) == 0 {
			continue
		}
		s.Methods[len(s.Methods)-1].SetReturnHost(true)

		for k := 1; k < len(s.Methods); k++ {
			if _, ok := s.Methods[k].(*wrapper.Rotation); !ok {
				continue
			}
			beforePlacement := s.Methods[k-1].Info().Placement
			if i+1 < len(sections) && len(sections[i+1].Methods) > 0 {
				followingFirst := sections[i+1].Methods[0].Info().Placement
				if beforePlacement != followingFirst {
					s.Methods[k-1].SetReturnHost(true)
				}
			}
		}
	}
}
