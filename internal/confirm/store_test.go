package confirm_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/acs/internal/confirm"
)

const (
	testRepoConstant        = "metarepo"
	testRoutineIDConstant   = "git.repair.remote-head"
	testPreviewHashConstant = "abc123"
)

type manualClock struct {
	now time.Time
}

func (clock *manualClock) Now() time.Time {
	return clock.now
}

func (clock *manualClock) Advance(duration time.Duration) {
	clock.now = clock.now.Add(duration)
}

func newTestStore() (*confirm.Store, *manualClock) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return confirm.NewStore(confirm.DefaultTokenTTL, confirm.WithClock(clock.Now)), clock
}

func TestCreateIssuesUniqueTokens(testInstance *testing.T) {
	store, _ := newTestStore()
	subject := confirm.Subject{Repo: testRepoConstant, RoutineID: testRoutineIDConstant, PreviewHash: testPreviewHashConstant}

	firstToken := store.Create(subject)
	secondToken := store.Create(subject)

	require.NotEmpty(testInstance, firstToken)
	require.NotEqual(testInstance, firstToken, secondToken)
	require.Equal(testInstance, 2, store.Len())
}

func TestValidateAndConsume(testInstance *testing.T) {
	testCases := []struct {
		name        string
		boundHash   string
		repo        string
		routineID   string
		previewHash string
		advance     time.Duration
		useUnknown  bool
		expected    bool
	}{
		{name: "valid", boundHash: testPreviewHashConstant, repo: testRepoConstant, routineID: testRoutineIDConstant, previewHash: testPreviewHashConstant, expected: true},
		{name: "unknown_token", boundHash: testPreviewHashConstant, repo: testRepoConstant, routineID: testRoutineIDConstant, previewHash: testPreviewHashConstant, useUnknown: true},
		{name: "expired", boundHash: testPreviewHashConstant, repo: testRepoConstant, routineID: testRoutineIDConstant, previewHash: testPreviewHashConstant, advance: confirm.DefaultTokenTTL + time.Second},
		{name: "at_ttl_boundary", boundHash: testPreviewHashConstant, repo: testRepoConstant, routineID: testRoutineIDConstant, previewHash: testPreviewHashConstant, advance: confirm.DefaultTokenTTL, expected: true},
		{name: "repo_mismatch", boundHash: testPreviewHashConstant, repo: "other", routineID: testRoutineIDConstant, previewHash: testPreviewHashConstant},
		{name: "routine_mismatch", boundHash: testPreviewHashConstant, repo: testRepoConstant, routineID: "other", previewHash: testPreviewHashConstant},
		{name: "hash_mismatch", boundHash: testPreviewHashConstant, repo: testRepoConstant, routineID: testRoutineIDConstant, previewHash: "different"},
		{name: "unbound_hash_accepts_any", repo: testRepoConstant, routineID: testRoutineIDConstant, previewHash: "anything", expected: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			store, clock := newTestStore()
			token := store.Create(confirm.Subject{Repo: testRepoConstant, RoutineID: testRoutineIDConstant, PreviewHash: testCase.boundHash})
			clock.Advance(testCase.advance)

			presented := token
			if testCase.useUnknown {
				presented = "not-a-token"
			}
			require.Equal(testInstance, testCase.expected, store.ValidateAndConsume(presented, testCase.repo, testCase.routineID, testCase.previewHash))

			if !testCase.useUnknown {
				require.Zero(testInstance, store.Len())
				require.False(testInstance, store.ValidateAndConsume(token, testRepoConstant, testRoutineIDConstant, testCase.boundHash))
			}
		})
	}
}

func TestTokenIsSingleUse(testInstance *testing.T) {
	store, _ := newTestStore()
	token := store.Create(confirm.Subject{Repo: testRepoConstant, RoutineID: testRoutineIDConstant, PreviewHash: testPreviewHashConstant})

	require.True(testInstance, store.ValidateAndConsume(token, testRepoConstant, testRoutineIDConstant, testPreviewHashConstant))
	require.False(testInstance, store.ValidateAndConsume(token, testRepoConstant, testRoutineIDConstant, testPreviewHashConstant))
}

func TestFailedGuessDestroysToken(testInstance *testing.T) {
	store, _ := newTestStore()
	token := store.Create(confirm.Subject{Repo: testRepoConstant, RoutineID: testRoutineIDConstant, PreviewHash: testPreviewHashConstant})

	require.False(testInstance, store.ValidateAndConsume(token, testRepoConstant, testRoutineIDConstant, "guess"))
	require.False(testInstance, store.ValidateAndConsume(token, testRepoConstant, testRoutineIDConstant, testPreviewHashConstant))
}

func TestCreateSweepsExpiredTokens(testInstance *testing.T) {
	store, clock := newTestStore()
	for index := 0; index < 3; index++ {
		store.Create(confirm.Subject{Repo: fmt.Sprintf("repo-%d", index), RoutineID: testRoutineIDConstant})
	}
	clock.Advance(confirm.DefaultTokenTTL + time.Minute)

	freshToken := store.Create(confirm.Subject{Repo: testRepoConstant, RoutineID: testRoutineIDConstant})

	require.Equal(testInstance, 1, store.Len())
	require.True(testInstance, store.ValidateAndConsume(freshToken, testRepoConstant, testRoutineIDConstant, ""))
}

func TestSweepReportsRemovals(testInstance *testing.T) {
	store, clock := newTestStore()
	store.Create(confirm.Subject{Repo: testRepoConstant, RoutineID: testRoutineIDConstant})
	clock.Advance(5 * time.Minute)
	store.Create(confirm.Subject{Repo: testRepoConstant, RoutineID: testRoutineIDConstant})
	clock.Advance(6 * time.Minute)

	require.Equal(testInstance, 1, store.Sweep())
	require.Equal(testInstance, 1, store.Len())
}

func TestCustomTokenGenerator(testInstance *testing.T) {
	store := confirm.NewStore(0, confirm.WithTokenGenerator(func() string { return "fixed" }))
	require.Equal(testInstance, "fixed", store.Create(confirm.Subject{Repo: testRepoConstant}))
}
