package identity

// SeedUser stores u directly, bypassing registration. Test helper.
func SeedUser(repo Repository, u User) {
	if mem, ok := repo.(*memoryRepository); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.users[u.ID] = u
		mem.phones[u.Phone] = u.ID
	}
}

// CountRegistrations returns the number of pending requests. Test helper.
func CountRegistrations(repo Repository) int {
	if mem, ok := repo.(*memoryRepository); ok {
		mem.mu.RLock()
		defer mem.mu.RUnlock()
		return len(mem.registrations)
	}
	return -1
}
