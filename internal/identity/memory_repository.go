package identity

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu            sync.RWMutex
	users         map[string]User
	phones        map[string]string
	registrations map[string]RegistrationRequest
}

// NewMemoryRepository builds an in-memory identity store for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		users:         make(map[string]User),
		phones:        make(map[string]string),
		registrations: make(map[string]RegistrationRequest),
	}
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.phones[phone]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.users[id], nil
}

func (r *memoryRepository) UpsertRegistration(_ context.Context, req RegistrationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations[req.Phone] = req
	return nil
}

func (r *memoryRepository) FindRegistration(_ context.Context, phone string) (RegistrationRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.registrations[phone]
	if !ok {
		return RegistrationRequest{}, ErrRegistrationNotFound
	}
	return req, nil
}

func (r *memoryRepository) DeleteRegistration(_ context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registrations, phone)
	return nil
}

func (r *memoryRepository) ActivateRegistration(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.phones[user.Phone]; exists {
		return ErrPhoneTaken
	}
	r.users[user.ID] = user
	r.phones[user.Phone] = user.ID
	delete(r.registrations, user.Phone)
	return nil
}
