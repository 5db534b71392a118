package api

import "encoding/json"

// DefaultTopFeatures is the length of the top_features prefix.
const DefaultTopFeatures = 5

// ContributionEntry is one original field and its aggregated contribution.
// Positive values push toward the positive (at-risk) class, unless Magnitude
// is set: then Value is a sum of absolute contributions and has no direction.
type ContributionEntry struct {
	Feature   string  `json:"feature"`
	Value     float64 `json:"shap_value"`
	Magnitude bool    `json:"magnitude,omitempty"`
}

// ExplanationResult is the additive explanation of a single prediction.
// On failure only Error is set.
type ExplanationResult struct {
	BaseValue   *float64            `json:"base_value"`
	TopFeatures []ContributionEntry `json:"top_features"`
	AllFeatures []ContributionEntry `json:"all_features"`
	Method      string              `json:"method,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Failed reports whether the result carries an error instead of contributions.
func (r ExplanationResult) Failed() bool { return r.Error != "" }

func (r ExplanationResult) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
	type plain ExplanationResult
	p := plain(r)
	if p.TopFeatures == nil {
		p.TopFeatures = []ContributionEntry{}
	}
	if p.AllFeatures == nil {
		p.AllFeatures = []ContributionEntry{}
	}
	return json.Marshal(p)
}

// LimeEntry is one local surrogate term: a human-readable condition and its weight.
type LimeEntry struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// LimeExplanationResult is the perturbation-based explanation of a single prediction.
type LimeExplanationResult struct {
	Explanation []LimeEntry `json:"explanation"`
	Intercept   float64     `json:"intercept"`
	Score       float64     `json:"score"`
	Error       string      `json:"error,omitempty"`
}

// Failed reports whether the result carries an error instead of weights.
func (r LimeExplanationResult) Failed() bool { return r.Error != "" }

func (r LimeExplanationResult) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
	type plain LimeExplanationResult
	p := plain(r)
	if p.Explanation == nil {
		p.Explanation = []LimeEntry{}
	}
	return json.Marshal(p)
}
