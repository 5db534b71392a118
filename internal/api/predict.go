package api

import "time"

// PredictResponse is returned by the predict endpoint and the CLI.
type PredictResponse struct {
	Success          bool                   `json:"success"`
	ID               string                 `json:"id,omitempty"`
	Model            string                 `json:"model"`
	Prediction       int                    `json:"prediction"`
	Label            string                 `json:"label"`
	Probability      float64                `json:"probability"`
	Input            InputRow               `json:"input"`
	Explanation      ExplanationResult      `json:"explanation"`
	LocalExplanation *LimeExplanationResult `json:"local_explanation,omitempty"`
	Summary          string                 `json:"summary,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// PredictRequest is the JSON body accepted by the scoring endpoints. Field
// values may be strings or numbers.
type PredictRequest struct {
	Model        string         `json:"model,omitempty"`
	IncludeLocal bool           `json:"include_local,omitempty"`
	Fields       map[string]any `json:"fields"`
}

// ModelInfo describes one loaded model.
type ModelInfo struct {
	Name     string   `json:"name"`
	Classes  []string `json:"classes"`
	SHA256   string   `json:"sha256,omitempty"`
	Default  bool     `json:"default"`
	Fields   []string `json:"fields"`
	Required []string `json:"required"`
}
