package birthdays

import (
	"context"
	"errors"
)

// Repo defines the interface for birthday record storage. The production
// document-database implementation lives with the backend; this module only
// depends on the contract.
type Repo interface {
	// Create stores a new record under the given user.
	Create(ctx context.Context, userID string, birthday *Birthday) error

	// List returns the user's records ordered by creation time descending.
	List(ctx context.Context, userID string) ([]*Birthday, error)

	// Update overwrites an existing record.
	Update(ctx context.Context, userID string, birthday *Birthday) error

	// Delete removes a record by id.
	Delete(ctx context.Context, userID, id string) error
}

var (
	// ErrNotFound means no record exists with the given id.
	ErrNotFound = errors.New("birthday not found")

	// ErrNotAuthenticated means the operation was attempted without a
	// signed-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
)
