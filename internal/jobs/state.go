package jobs

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/temirov/acs/internal/actions"
)

const logTailSeparatorConstant = "\n"

// Status is the lifecycle stage of a job.
type Status string

// Job lifecycle statuses.
const (
	StatusQueued  Status = Status("queued")
	StatusRunning Status = Status("running")
	StatusDone    Status = Status("done")
	StatusError   Status = Status("error")
)

// State is the registry-owned record of one asynchronous job.
type State struct {
	ID            string           `json:"job_id"`
	Repo          string           `json:"repo"`
	CorrelationID string           `json:"correlation_id"`
	Status        Status           `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	Results       []actions.Result `json:"results"`
	LogLines      []string         `json:"-"`
}

// Clone returns a deep copy that shares nothing with the receiver.
func (state State) Clone() State {
	cloned := state
	cloned.Results = make([]actions.Result, 0, len(state.Results))
	for _, result := range state.Results {
		cloned.Results = append(cloned.Results, result.Clone())
	}
	cloned.LogLines = append([]string{}, state.LogLines...)
	return cloned
}

// LogTail joins the retained log lines.
func (state State) LogTail() string {
	return strings.Join(state.LogLines, logTailSeparatorConstant)
}

// LastResult returns the most recently recorded result.
func (state State) LastResult() (actions.Result, bool) {
	if len(state.Results) == 0 {
		return actions.Result{}, false
	}
	return state.Results[len(state.Results)-1], true
}

// Store owns job states.
type Store interface {
	Create(state State)
	Get(jobID string) (State, bool)
	Update(jobID string, mutate func(state *State)) bool
	Delete(jobID string)
	// Sweep evicts states older than timeToLive, then the oldest-created
	// states beyond maxEntries, and returns the evicted ids.
	Sweep(now time.Time, timeToLive time.Duration, maxEntries int) []string
}

// MemoryStore keeps job states in process memory.
type MemoryStore struct {
	mutex  sync.Mutex
	states map[string]*State
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

// Create inserts a copy of state, replacing any state with the same id.
func (store *MemoryStore) Create(state State) {
	stored := state.Clone()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.states[state.ID] = &stored
}

// Get returns a deep copy of the state.
func (store *MemoryStore) Get(jobID string) (State, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	state, found := store.states[jobID]
	if !found {
		return State{}, false
	}
	return state.Clone(), true
}

// Update applies mutate to the stored state under the store lock.
func (store *MemoryStore) Update(jobID string, mutate func(state *State)) bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	state, found := store.states[jobID]
	if !found {
		return false
	}
	mutate(state)
	return true
}

// Delete removes the state.
func (store *MemoryStore) Delete(jobID string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.states, jobID)
}

// Len reports the number of stored states.
func (store *MemoryStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.states)
}

// Sweep implements Store.
func (store *MemoryStore) Sweep(now time.Time, timeToLive time.Duration, maxEntries int) []string {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var evicted []string
	if timeToLive > 0 {
		for jobID, state := range store.states {
			if now.Sub(state.CreatedAt) > timeToLive {
				delete(store.states, jobID)
				evicted = append(evicted, jobID)
			}
		}
	}

	if maxEntries <= 0 || len(store.states) <= maxEntries {
		return evicted
	}

	remaining := make([]*State, 0, len(store.states))
	for _, state := range store.states {
		remaining = append(remaining, state)
	}
	sort.Slice(remaining, func(left, right int) bool {
		if remaining[left].CreatedAt.Equal(remaining[right].CreatedAt) {
			return remaining[left].ID < remaining[right].ID
		}
		return remaining[left].CreatedAt.Before(remaining[right].CreatedAt)
	})
	for _, state := range remaining[:len(remaining)-maxEntries] {
		delete(store.states, state.ID)
		evicted = append(evicted, state.ID)
	}
	return evicted
}
