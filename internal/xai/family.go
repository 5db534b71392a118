package xai

import "github.com/fractal-lba/healthxai/internal/model"

// Family is the closed set of estimator kinds the explainer distinguishes.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyLinear
	FamilyTree
	FamilyOther
)

func (f Family) String() string {
	switch f {
	case FamilyLinear:
		return "linear"
	case FamilyTree:
		return "tree-ensemble"
	case FamilyOther:
		return "other"
	default:
		return "unknown"
	}
}

// Familied lets estimators defined elsewhere declare their family.
type Familied interface {
	Family() Family
}

// FamilyOf classifies an estimator. Anything unrecognised is FamilyUnknown.
func FamilyOf(est model.Estimator) Family {
	switch e := est.(type) {
	case nil:
		return FamilyUnknown
	case *model.LogisticRegression:
		return FamilyLinear
	case model.TreeEnsemble:
		return FamilyTree
	case *model.KNN:
		return FamilyOther
	case Familied:
		return e.Family()
	default:
		return FamilyUnknown
	}
}

// Strategies returns the ordered chain for the family. Linear models are
// explained on the probability scale, where no closed form applies, so they
// share the model-agnostic chain.
func (f Family) Strategies(k KernelOptions) []Strategy {
	switch f {
	case FamilyTree:
		return []Strategy{treePathDependent{}, treeInterventional{}, newKernel(k)}
	default:
		return []Strategy{newKernel(k)}
	}
}
