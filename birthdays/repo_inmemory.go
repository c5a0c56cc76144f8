package birthdays

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepo is an in-memory implementation of Repo.
type InMemoryRepo struct {
	mu      sync.RWMutex
	records map[string]map[string]*Birthday // userID -> id -> record
}

// NewInMemoryRepo creates an empty in-memory birthday repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		records: make(map[string]map[string]*Birthday),
	}
}

var _ Repo = (*InMemoryRepo)(nil)

// Create implements Repo.
func (r *InMemoryRepo) Create(_ context.Context, userID string, birthday *Birthday) error {
	if userID == "" {
		return ErrNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[userID]; !ok {
		r.records[userID] = make(map[string]*Birthday)
	}
	clone := *birthday
	r.records[userID][birthday.ID] = &clone
	return nil
}

// List implements Repo, ordered by creation time descending.
func (r *InMemoryRepo) List(_ context.Context, userID string) ([]*Birthday, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Birthday, 0, len(r.records[userID]))
	for _, record := range r.records[userID] {
		clone := *record
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// Update implements Repo.
func (r *InMemoryRepo) Update(_ context.Context, userID string, birthday *Birthday) error {
	if userID == "" {
		return ErrNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[userID][birthday.ID]; !ok {
		return ErrNotFound
	}
	clone := *birthday
	r.records[userID][birthday.ID] = &clone
	return nil
}

// Delete implements Repo.
func (r *InMemoryRepo) Delete(_ context.Context, userID, id string) error {
	if userID == "" {
		return ErrNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[userID][id]; !ok {
		return ErrNotFound
	}
	delete(r.records[userID], id)
	return nil
}
