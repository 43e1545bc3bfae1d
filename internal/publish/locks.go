package publish

import "sync"

// repositoryLocks serializes pipelines that target the same repository.
type repositoryLocks struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func newRepositoryLocks() *repositoryLocks {
	return &repositoryLocks{locks: make(map[string]*sync.Mutex)}
}

func (registry *repositoryLocks) lock(repositoryKey string) func() {
	registry.mutex.Lock()
	repositoryLock, found := registry.locks[repositoryKey]
	if !found {
		repositoryLock = &sync.Mutex{}
		registry.locks[repositoryKey] = repositoryLock
	}
	registry.mutex.Unlock()

	repositoryLock.Lock()
	return repositoryLock.Unlock
}
