package xai

import (
	"fmt"
	"strings"

	"github.com/fractal-lba/healthxai/internal/api"
)

// narrativeFeatures is how many contributions a summary names.
const narrativeFeatures = 3

// Narrative renders a one-line plain-language summary of an explanation.
func Narrative(res api.ExplanationResult) string {
	if res.Failed() {
		return "No explanation available: " + res.Error
	}
	if len(res.TopFeatures) == 0 {
		return "No field contributed to this prediction."
	}

	parts := make([]string, 0, narrativeFeatures)
	for _, c := range res.TopFeatures {
		if len(parts) == narrativeFeatures {
			break
		}
		switch {
		case c.Value == 0:
		case c.Magnitude:
			parts = append(parts, fmt.Sprintf("%s mattered (magnitude %.3f)", c.Feature, c.Value))
		case c.Value > 0:
			parts = append(parts, fmt.Sprintf("%s raised the risk (%+.3f)", c.Feature, c.Value))
		case c.Value < 0:
			parts = append(parts, fmt.Sprintf("%s lowered the risk (%+.3f)", c.Feature, c.Value))
		}
	}
	if len(parts) == 0 {
		return "No field moved this prediction away from the average."
	}
	return "Main factors: " + strings.Join(parts, "; ") + "."
}
