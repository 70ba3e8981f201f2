package driver

import (
	"sort"

	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Collect returns a file-begin entry point for every unit, followed by the
// function entry points configured for the units' files. Units are visited in
// path order so runs are reproducible.
func Collect(units []*uast.CompileUnit, configured []*rules.EntryPoint) []EntryPoint {
	sorted := make([]*uast.CompileUnit, 0, len(units))
	for _, u := range units {
		if u != nil {
			sorted = append(sorted, u)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URI < sorted[j].URI })

	eps := make([]EntryPoint, 0, len(sorted)+len(configured))
	for _, u := range sorted {
		eps = append(eps, FileBegin(u.URI))
	}
	for _, u := range sorted {
		for _, c := range configured {
			if !c.Matches(u.URI) {
				continue
			}
			eps = append(eps, EntryPoint{
				Kind:      KindFunction,
				File:      u.URI,
				Function:  c.Function,
				Attribute: c.Attribute,
			})
		}
	}
	return eps
}
