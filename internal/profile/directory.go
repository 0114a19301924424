// Package profile reads the reference data shown alongside a user profile.
package profile

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrRegionNotFound is returned when a region id is unknown.
var ErrRegionNotFound = errors.New("region not found")

// Region is an administrative region.
type Region struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// Category is a benefit category a user has been confirmed for.
type Category struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

// Directory is a read-only view over regions and confirmed categories.
type Directory interface {
	Region(ctx context.Context, id string) (Region, error)
	ConfirmedCategories(ctx context.Context, userID string) ([]Category, error)
}

// MemoryDirectory is an in-memory Directory used in development and tests.
type MemoryDirectory struct {
	mu         sync.RWMutex
	regions    map[string]Region
	categories map[string]Category
	// assignments maps user id to category id to confirmation state.
	assignments map[string]map[string]bool
}

// NewMemoryDirectory returns an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		regions:     make(map[string]Region),
		categories:  make(map[string]Category),
		assignments: make(map[string]map[string]bool),
	}
}

// AddRegion stores r.
func (d *MemoryDirectory) AddRegion(r Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regions[r.ID] = r
}

// AddCategory stores c.
func (d *MemoryDirectory) AddCategory(c Category) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.categories[c.ID] = c
}

// Assign links a user to a category; only confirmed links are listed.
func (d *MemoryDirectory) Assign(userID, categoryID string, confirmed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.assignments[userID] == nil {
		d.assignments[userID] = make(map[string]bool)
	}
	d.assignments[userID][categoryID] = confirmed
}

func (d *MemoryDirectory) Region(_ context.Context, id string) (Region, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.regions[id]
	if !ok {
		return Region{}, ErrRegionNotFound
	}
	return r, nil
}

func (d *MemoryDirectory) ConfirmedCategories(_ context.Context, userID string) ([]Category, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []Category{}
	for id, confirmed := range d.assignments[userID] {
		if !confirmed {
			continue
		}
		if c, ok := d.categories[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
