// Package predlog keeps a log of served predictions for later review.
package predlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fractal-lba/healthxai/internal/api"
)

// ErrNotFound is returned by Get for an unknown record ID.
var ErrNotFound = errors.New("prediction record not found")

// Record is one served prediction.
type Record struct {
	ID          string                 `json:"id"`
	Model       string                 `json:"model"`
	Prediction  int                    `json:"prediction"`
	Label       string                 `json:"label"`
	Probability float64                `json:"probability"`
	Input       api.InputRow           `json:"input"`
	Explanation *api.ExplanationResult `json:"explanation,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	ClientIP    string                 `json:"client_ip,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// NewRecord stamps a record with a fresh ID and the current time.
func NewRecord(model string, prediction int, label string, probability float64, input api.InputRow) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Model:       model,
		Prediction:  prediction,
		Label:       label,
		Probability: probability,
		Input:       input,
		Timestamp:   time.Now().UTC(),
	}
}

// Store persists prediction records. Implementations are safe for concurrent use.
type Store interface {
	// Append stores a record. IDs are unique; appending an existing ID is a no-op.
	Append(ctx context.Context, rec *Record) error

	// Get returns the record with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns up to limit records, newest first, skipping offset.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases resources
	Close() error
}

// page applies limit/offset to a newest-first slice.
func page(recs []*Record, limit, offset int) []*Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return []*Record{}
	}
	end := len(recs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Record, end-offset)
	copy(out, recs[offset:end])
	return out
}
