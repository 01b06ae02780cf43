package onboarding

import (
	"context"
	"errors"
)

// ErrFlowNotFound indicates no persisted flow exists for the id.
var ErrFlowNotFound = errors.New("onboarding flow not found")

// Store is the persistence contract the workflow engine consumes. Any
// backend satisfying it is acceptable; the engine never assumes a database.
type Store interface {
	// SaveFlow persists the full flow record, replacing any previous
	// version under the same id.
	SaveFlow(ctx context.Context, flow *Flow) error
	// GetFlow loads a flow by id, or ErrFlowNotFound.
	GetFlow(ctx context.Context, id string) (*Flow, error)
}
