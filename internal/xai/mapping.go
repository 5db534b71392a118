package xai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fractal-lba/healthxai/internal/model"
)

// MappingSource records which strategy produced a FeatureMapping.
type MappingSource string

const (
	MappingFeatureNames MappingSource = "feature-names"
	MappingComposite    MappingSource = "composite"
	MappingPositional   MappingSource = "positional"
)

// defaultCategoryCount is assumed for one-hot steps that cannot report their categories.
const defaultCategoryCount = 5

var knownPrefixes = []string{"preprocess__", "preprocessor__", "remainder__"}

var errNotApplicable = errors.New("not applicable")

type mappingStrategy struct {
	source MappingSource
	build  func(t model.Transformer, columns []string, width int) (FeatureMapping, error)
}

var mappingStrategies = []mappingStrategy{
	{MappingFeatureNames, mappingFromNames},
	{MappingComposite, mappingFromSteps},
	{MappingPositional, mappingPositional},
}

// BuildMapping maps every output index of t (width of them) back to one of
// columns. It tries output feature names, then the step structure, then
// position, and never fails.
func BuildMapping(t model.Transformer, columns []string, width int) (FeatureMapping, MappingSource) {
	for _, s := range mappingStrategies {
		m, err := safeBuild(s, t, columns, width)
		if err == nil {
			return m, s.source
		}
	}
	// positional cannot fail, but keep the contract even if it panics
	return FeatureMapping{}, MappingPositional
}

func safeBuild(s mappingStrategy, t model.Transformer, columns []string, width int) (m FeatureMapping, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s mapping panicked: %v", s.source, r)
		}
	}()
	return s.build(t, columns, width)
}

func mappingFromNames(t model.Transformer, columns []string, width int) (FeatureMapping, error) {
	namer, ok := t.(model.FeatureNamer)
	if !ok || t == nil {
		return nil, errNotApplicable
	}
	names, err := namer.FeatureNamesOut(columns)
	if err != nil {
		return nil, err
	}
	if width > 0 && len(names) != width {
		return nil, fmt.Errorf("transform named %d outputs, produced %d", len(names), width)
	}

	m := make(FeatureMapping, len(names))
	for i, n := range names {
		m[i] = RecoverFieldName(n, columns)
	}
	return m, nil
}

// RecoverFieldName strips transform prefixes from a transformed feature name
// and matches the remainder against the original columns: the longest column
// that prefixes the remainder wins, then the first column (in column order)
// contained anywhere in it, else the remainder itself.
//
// The containment pass can pick the wrong field when one column name is a
// substring of another: with columns [Health GenHealth], "x__TotalGenHealth"
// maps to Health.
func RecoverFieldName(name string, columns []string) string {
	rem := name
	for _, p := range knownPrefixes {
		rem = strings.TrimPrefix(rem, p)
	}
	if i := strings.Index(rem, "__"); i >= 0 {
		rem = rem[i+2:]
	}

	best := ""
	for _, c := range columns {
		if c != "" && strings.HasPrefix(rem, c) && len(c) > len(best) {
			best = c
		}
	}
	if best != "" {
		return best
	}

	for _, c := range columns {
		if c != "" && strings.Contains(rem, c) {
			return c
		}
	}
	return rem
}

func mappingFromSteps(t model.Transformer, columns []string, width int) (FeatureMapping, error) {
	comp, ok := t.(model.Composite)
	if !ok || t == nil {
		return nil, errNotApplicable
	}

	m := make(FeatureMapping)
	idx := 0
	for _, s := range comp.Steps() {
		if s.Drop || s.Transform == nil {
			continue
		}
		exp, isExp := s.Transform.(model.Expanding)
		if !isExp || !exp.Expands() {
			for _, c := range s.Columns {
				m[idx] = c
				idx++
			}
			continue
		}
		counter, _ := s.Transform.(model.CategoryCounter)
		for i, c := range s.Columns {
			n := defaultCategoryCount
			if counter != nil {
				if k, ok := counter.CategoryCount(i); ok && k > 0 {
					n = k
				}
			}
			for j := 0; j < n; j++ {
				m[idx] = c
				idx++
			}
		}
	}
	if idx == 0 {
		return nil, errors.New("composite transform has no active steps")
	}
	return m, nil
}

func mappingPositional(_ model.Transformer, columns []string, width int) (FeatureMapping, error) {
	if width <= 0 {
		width = len(columns)
	}
	m := make(FeatureMapping, width)
	for i := 0; i < width; i++ {
		if i < len(columns) {
			m[i] = columns[i]
		} else {
			m[i] = fmt.Sprintf("f%d", i)
		}
	}
	return m, nil
}
