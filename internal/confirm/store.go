package confirm

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL bounds the lifetime of an issued token.
const DefaultTokenTTL = 10 * time.Minute

// Subject binds a token to one previewed routine run.
type Subject struct {
	Repo        string
	RoutineID   string
	PreviewHash string
}

// Clock supplies the current time.
type Clock func() time.Time

// TokenGenerator produces unguessable token strings.
type TokenGenerator func() string

type entry struct {
	createdAt time.Time
	subject   Subject
}

// Store issues single-use confirmation tokens.
type Store struct {
	mutex          sync.Mutex
	entries        map[string]entry
	timeToLive     time.Duration
	clock          Clock
	tokenGenerator TokenGenerator
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(store *Store) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// WithTokenGenerator overrides token generation.
func WithTokenGenerator(generator TokenGenerator) Option {
	return func(store *Store) {
		if generator != nil {
			store.tokenGenerator = generator
		}
	}
}

// NewStore constructs a Store. A non-positive ttl selects DefaultTokenTTL.
func NewStore(timeToLive time.Duration, options ...Option) *Store {
	if timeToLive <= 0 {
		timeToLive = DefaultTokenTTL
	}
	store := &Store{
		entries:        make(map[string]entry),
		timeToLive:     timeToLive,
		clock:          time.Now,
		tokenGenerator: uuid.NewString,
	}
	for _, option := range options {
		option(store)
	}
	return store
}

// Create sweeps expired tokens and issues a new token bound to subject.
func (store *Store) Create(subject Subject) string {
	token := store.tokenGenerator()
	now := store.clock()

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.sweepLocked(now)
	store.entries[token] = entry{createdAt: now, subject: subject}
	return token
}

// ValidateAndConsume reports whether token was issued for the given repo,
// routine and preview hash. The token is removed whatever the outcome.
// A token issued with an empty preview hash accepts any presented hash.
func (store *Store) ValidateAndConsume(token string, repo string, routineID string, previewHash string) bool {
	now := store.clock()

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.sweepLocked(now)

	issued, found := store.entries[token]
	if !found {
		return false
	}
	delete(store.entries, token)

	if store.expired(issued, now) {
		return false
	}
	if issued.subject.Repo != repo || issued.subject.RoutineID != routineID {
		return false
	}
	if len(issued.subject.PreviewHash) > 0 && issued.subject.PreviewHash != previewHash {
		return false
	}
	return true
}

// Sweep removes expired tokens and returns how many were removed.
func (store *Store) Sweep() int {
	now := store.clock()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.sweepLocked(now)
}

// Len reports the number of outstanding tokens.
func (store *Store) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.entries)
}

func (store *Store) sweepLocked(now time.Time) int {
	removed := 0
	for token, issued := range store.entries {
		if store.expired(issued, now) {
			delete(store.entries, token)
			removed++
		}
	}
	return removed
}

func (store *Store) expired(issued entry, now time.Time) bool {
	return now.Sub(issued.createdAt) > store.timeToLive
}
