package model

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// On-disk pipeline format. One JSON document per fitted pipeline.
type pipelineFile struct {
	Name       string          `json:"name"`
	Classes    []string        `json:"classes"`
	Preprocess *preprocessFile `json:"preprocess"`
	Classifier classifierFile  `json:"classifier"`
}

type preprocessFile struct {
	Steps        []stepFile `json:"steps"`
	VerboseNames *bool      `json:"verbose_feature_names"`
}

type stepFile struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Columns    []string    `json:"columns"`
	Mean       []float64   `json:"mean"`
	Scale      []float64   `json:"scale"`
	Categories [][]string  `json:"categories"`
	Positive   string      `json:"positive"`
}

type classifierFile struct {
	Type string `json:"type"`

	// logistic_regression
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`

	// decision_tree, random_forest, gradient_boosting
	Nodes        []TreeNode `json:"nodes"`
	Trees        []*Tree    `json:"trees"`
	Init         float64    `json:"init"`
	LearningRate float64    `json:"learning_rate"`

	// knn
	K      int         `json:"k"`
	Points [][]float64 `json:"points"`
	Target []string    `json:"target"`
}

// LoadPipeline reads a pipeline file from disk.
func LoadPipeline(path string) (*FittedPipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	p, err := ParsePipeline(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParsePipeline decodes a pipeline document.
func ParsePipeline(r io.Reader) (*FittedPipeline, error) {
	var pf pipelineFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("error decoding pipeline: %w", err)
	}
	if len(pf.Classes) < 2 {
		return nil, fmt.Errorf("pipeline declares %d classes, need at least 2", len(pf.Classes))
	}

	var pre *ColumnTransformer
	width := 0
	if pf.Preprocess != nil {
		var err error
		pre, err = buildPreprocess(pf.Preprocess)
		if err != nil {
			return nil, err
		}
		width = pre.Width()
	}

	est, err := buildEstimator(&pf.Classifier, pf.Classes, width)
	if err != nil {
		return nil, err
	}

	if pre == nil {
		return NewPipeline(pf.Name, nil, est), nil
	}
	return NewPipeline(pf.Name, pre, est), nil
}

func buildPreprocess(pp *preprocessFile) (*ColumnTransformer, error) {
	steps := make([]Step, 0, len(pp.Steps))
	for _, s := range pp.Steps {
		step := Step{Name: s.Name, Columns: s.Columns}
		switch s.Type {
		case "drop":
			step.Drop = true
		case "passthrough":
			step.Transform = Passthrough{}
		case "standard_scaler":
			if len(s.Mean) != len(s.Columns) || len(s.Scale) != len(s.Columns) {
				return nil, fmt.Errorf("step %s: mean/scale must match %d columns", s.Name, len(s.Columns))
			}
			step.Transform = &StandardScaler{Mean: s.Mean, Scale: s.Scale}
		case "one_hot":
			if len(s.Categories) != len(s.Columns) {
				return nil, fmt.Errorf("step %s: categories must match %d columns", s.Name, len(s.Columns))
			}
			step.Transform = &OneHotEncoder{Categories: s.Categories}
		case "ordinal":
			if len(s.Categories) != len(s.Columns) {
				return nil, fmt.Errorf("step %s: categories must match %d columns", s.Name, len(s.Columns))
			}
			step.Transform = &OrdinalEncoder{Categories: s.Categories}
		case "binary":
			pos := s.Positive
			if pos == "" {
				pos = "Yes"
			}
			step.Transform = &BinaryEncoder{Positive: pos}
		default:
			return nil, fmt.Errorf("step %s: unknown transform type %q", s.Name, s.Type)
		}
		steps = append(steps, step)
	}

	verbose := true
	if pp.VerboseNames != nil {
		verbose = *pp.VerboseNames
	}
	return NewColumnTransformer(steps, verbose)
}

func buildEstimator(cf *classifierFile, classes []string, width int) (Estimator, error) {
	switch cf.Type {
	case "logistic_regression":
		if len(classes) != 2 {
			return nil, fmt.Errorf("logistic regression is binary, got %d classes", len(classes))
		}
		if width > 0 && len(cf.Coef) != width {
			return nil, fmt.Errorf("logistic regression has %d coefficients for %d features", len(cf.Coef), width)
		}
		return &LogisticRegression{Coef: cf.Coef, Intercept: cf.Intercept, Labels: classes}, nil

	case "decision_tree":
		t := &Tree{Nodes: cf.Nodes}
		if err := t.Validate(width, len(classes)); err != nil {
			return nil, fmt.Errorf("decision tree: %w", err)
		}
		return &DecisionTree{Tree: t, Labels: classes}, nil

	case "random_forest":
		if len(cf.Trees) == 0 {
			return nil, fmt.Errorf("random forest has no trees")
		}
		for i, t := range cf.Trees {
			if err := t.Validate(width, len(classes)); err != nil {
				return nil, fmt.Errorf("random forest tree %d: %w", i, err)
			}
		}
		return &RandomForest{Trees: cf.Trees, Labels: classes}, nil

	case "gradient_boosting":
		if len(classes) != 2 {
			return nil, fmt.Errorf("gradient boosting is binary, got %d classes", len(classes))
		}
		for i, t := range cf.Trees {
			if err := t.Validate(width, 1); err != nil {
				return nil, fmt.Errorf("gradient boosting tree %d: %w", i, err)
			}
		}
		lr := cf.LearningRate
		if lr == 0 {
			lr = 0.1
		}
		return &GradientBoosting{Init: cf.Init, LearningRate: lr, Trees: cf.Trees, Labels: classes}, nil

	case "knn":
		if len(cf.Points) == 0 || len(cf.Points) != len(cf.Target) {
			return nil, fmt.Errorf("knn needs matching points and target, got %d and %d", len(cf.Points), len(cf.Target))
		}
		k := cf.K
		if k == 0 {
			k = 5
		}
		return &KNN{K: k, Points: cf.Points, Target: cf.Target, Labels: classes}, nil

	default:
		return nil, fmt.Errorf("unknown classifier type %q", cf.Type)
	}
}
