package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/execshell"
)

const (
	diffSubcommandConstant            = "diff"
	cachedFlagConstant                = "--cached"
	noColorFlagConstant               = "--no-color"
	listFilesSubcommandConstant       = "ls-files"
	othersFlagConstant                = "--others"
	excludeStandardFlagConstant       = "--exclude-standard"
	nulTerminatedFlagConstant         = "-z"
	hashObjectSubcommandConstant      = "hash-object"
	pathSeparatorArgumentConstant     = "--"
	signatureSectionSeparatorConstant = "\x00--cached--\x00"
	untrackedSectionSeparatorConstant = "\x00--untracked--\x00"
	diffTimeoutConstant               = 60 * time.Second
	executorNotConfiguredMessage      = "idempotency guard git executor not configured"
	storeNotConfiguredMessage         = "idempotency guard context store not configured"
	diffFailedTemplateConstant        = "git diff%s exited with code %d: %s"
	untrackedFailedTemplateConstant   = "git %s exited with code %d: %s"
	hashCountMismatchTemplate         = "git hash-object returned %d hashes for %d untracked files"
	noContextMessageConstant          = "Working tree has uncommitted changes that were not produced by a recorded patch apply; refusing to commit."
	signatureMismatchMessageConstant  = "Working tree changed since the last recorded patch apply; refusing to commit."
	signatureUnavailableTemplate      = "Unable to compute working tree signature: %s"
	verifiedMessageConstant           = "Working tree matches the last recorded patch apply."
)

// GitCommandExecutor runs git commands.
type GitCommandExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// ApplyContext binds a repository to the signature of the last patch the control surface applied.
type ApplyContext struct {
	Signature string `json:"signature"`
	SessionID string `json:"session_id"`
}

// ContextStore persists apply contexts keyed by repository key.
type ContextStore interface {
	Load(repositoryKey string) (ApplyContext, bool)
	Save(repositoryKey string, applyContext ApplyContext)
}

// MemoryContextStore keeps apply contexts in process memory.
type MemoryContextStore struct {
	mutex    sync.Mutex
	contexts map[string]ApplyContext
}

// NewMemoryContextStore constructs an empty store.
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{contexts: make(map[string]ApplyContext)}
}

// Load returns the apply context recorded for the repository.
func (store *MemoryContextStore) Load(repositoryKey string) (ApplyContext, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	applyContext, found := store.contexts[repositoryKey]
	return applyContext, found
}

// Save overwrites the apply context for the repository.
func (store *MemoryContextStore) Save(repositoryKey string, applyContext ApplyContext) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.contexts[repositoryKey] = applyContext
}

var (
	// ErrExecutorNotConfigured indicates the guard was built without a git executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessage)
	// ErrStoreNotConfigured indicates the guard was built without a context store.
	ErrStoreNotConfigured = errors.New(storeNotConfiguredMessage)
)

// DiffError reports a diff command that could not produce a signature.
type DiffError struct {
	Cached   bool
	ExitCode int
	Stderr   string
}

// Error describes the failed diff.
func (diffError DiffError) Error() string {
	variant := ""
	if diffError.Cached {
		variant = " " + cachedFlagConstant
	}
	return fmt.Sprintf(diffFailedTemplateConstant, variant, diffError.ExitCode, diffError.Stderr)
}

// UntrackedError reports a failure while fingerprinting untracked files.
type UntrackedError struct {
	Subcommand string
	ExitCode   int
	Stderr     string
}

// Error describes the failed command.
func (untrackedError UntrackedError) Error() string {
	return fmt.Sprintf(untrackedFailedTemplateConstant, untrackedError.Subcommand, untrackedError.ExitCode, untrackedError.Stderr)
}

// Verdict is the outcome of checking a dirty working tree against the recorded apply context.
type Verdict struct {
	Allowed   bool
	ErrorKind actions.ErrorKind
	Message   string
	Signature string
}

// Guard distinguishes working-tree changes the control surface produced from foreign edits.
type Guard struct {
	executor GitCommandExecutor
	store    ContextStore
}

// NewGuard constructs a Guard.
func NewGuard(executor GitCommandExecutor, store ContextStore) (*Guard, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	if store == nil {
		return nil, ErrStoreNotConfigured
	}
	return &Guard{executor: executor, store: store}, nil
}

// Signature hashes the unstaged diff, the staged diff and the content of every
// untracked file that is not ignored. Untracked files count because the commit
// stage stages everything.
func (guard *Guard) Signature(executionContext context.Context, repositoryPath string) (string, error) {
	unstagedDiff, unstagedError := guard.diff(executionContext, repositoryPath, false)
	if unstagedError != nil {
		return "", unstagedError
	}
	stagedDiff, stagedError := guard.diff(executionContext, repositoryPath, true)
	if stagedError != nil {
		return "", stagedError
	}

	untrackedFingerprint, untrackedError := guard.untrackedFingerprint(executionContext, repositoryPath)
	if untrackedError != nil {
		return "", untrackedError
	}

	hasher := sha256.New()
	hasher.Write([]byte(unstagedDiff))
	hasher.Write([]byte(signatureSectionSeparatorConstant))
	hasher.Write([]byte(stagedDiff))
	hasher.Write([]byte(untrackedSectionSeparatorConstant))
	hasher.Write([]byte(untrackedFingerprint))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Record stores the apply context for a repository, replacing any previous one.
func (guard *Guard) Record(repositoryKey string, signature string, sessionID string) {
	guard.store.Save(repositoryKey, ApplyContext{Signature: signature, SessionID: sessionID})
}

// Context returns the recorded apply context for a repository.
func (guard *Guard) Context(repositoryKey string) (ApplyContext, bool) {
	return guard.store.Load(repositoryKey)
}

// RecordCurrent computes the current signature and records it.
func (guard *Guard) RecordCurrent(executionContext context.Context, repositoryKey string, repositoryPath string, sessionID string) (string, error) {
	signature, signatureError := guard.Signature(executionContext, repositoryPath)
	if signatureError != nil {
		return "", signatureError
	}
	guard.Record(repositoryKey, signature, sessionID)
	return signature, nil
}

// VerifyDirty decides whether a dirty working tree may be committed. It must
// only be called once the caller has established that the tree is dirty.
func (guard *Guard) VerifyDirty(executionContext context.Context, repositoryKey string, repositoryPath string) Verdict {
	applyContext, found := guard.store.Load(repositoryKey)
	if !found {
		return Verdict{ErrorKind: actions.ErrorKindUnexpectedChangesNoContext, Message: noContextMessageConstant}
	}

	signature, signatureError := guard.Signature(executionContext, repositoryPath)
	if signatureError != nil {
		return Verdict{ErrorKind: actions.ErrorKindGitFailed, Message: fmt.Sprintf(signatureUnavailableTemplate, signatureError)}
	}
	if signature != applyContext.Signature {
		return Verdict{ErrorKind: actions.ErrorKindGitFailed, Message: signatureMismatchMessageConstant, Signature: signature}
	}
	return Verdict{Allowed: true, Message: verifiedMessageConstant, Signature: signature}
}

func (guard *Guard) diff(executionContext context.Context, repositoryPath string, cached bool) (string, error) {
	arguments := []string{diffSubcommandConstant, noColorFlagConstant}
	if cached {
		arguments = append(arguments, cachedFlagConstant)
	}
	executionResult, executionError := guard.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: repositoryPath,
		Timeout:          diffTimeoutConstant,
	})
	if executionError != nil {
		return "", executionError
	}
	if !executionResult.Succeeded() {
		return "", DiffError{Cached: cached, ExitCode: executionResult.ExitCode, Stderr: executionResult.StandardError}
	}
	return executionResult.StandardOutput, nil
}

// untrackedFingerprint lists untracked paths in sorted order, each followed by its blob hash.
func (guard *Guard) untrackedFingerprint(executionContext context.Context, repositoryPath string) (string, error) {
	listing, listingError := guard.run(executionContext, repositoryPath, listFilesSubcommandConstant, othersFlagConstant, excludeStandardFlagConstant, nulTerminatedFlagConstant)
	if listingError != nil {
		return "", listingError
	}
	untrackedPaths := make([]string, 0)
	for _, untrackedPath := range strings.Split(listing, "\x00") {
		if len(untrackedPath) > 0 {
			untrackedPaths = append(untrackedPaths, untrackedPath)
		}
	}
	if len(untrackedPaths) == 0 {
		return "", nil
	}
	sort.Strings(untrackedPaths)

	hashArguments := append([]string{hashObjectSubcommandConstant, pathSeparatorArgumentConstant}, untrackedPaths...)
	hashOutput, hashError := guard.run(executionContext, repositoryPath, hashArguments...)
	if hashError != nil {
		return "", hashError
	}
	hashes := strings.Fields(hashOutput)
	if len(hashes) != len(untrackedPaths) {
		return "", fmt.Errorf(hashCountMismatchTemplate, len(hashes), len(untrackedPaths))
	}

	var fingerprint strings.Builder
	for index, untrackedPath := range untrackedPaths {
		fingerprint.WriteString(untrackedPath)
		fingerprint.WriteByte(0)
		fingerprint.WriteString(hashes[index])
		fingerprint.WriteByte('\n')
	}
	return fingerprint.String(), nil
}

func (guard *Guard) run(executionContext context.Context, repositoryPath string, arguments ...string) (string, error) {
	executionResult, executionError := guard.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: repositoryPath,
		Timeout:          diffTimeoutConstant,
	})
	if executionError != nil {
		return "", executionError
	}
	if !executionResult.Succeeded() {
		return "", UntrackedError{Subcommand: arguments[0], ExitCode: executionResult.ExitCode, Stderr: executionResult.StandardError}
	}
	return executionResult.StandardOutput, nil
}
