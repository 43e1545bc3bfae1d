package actions

import (
	"time"
)

const (
	timestampLayoutConstant = time.RFC3339Nano
)

// Result is the immutable record of one orchestration step.
type Result struct {
	OK            bool      `json:"ok"`
	Action        string    `json:"action"`
	Repo          string    `json:"repo"`
	Branch        string    `json:"branch,omitempty"`
	Head          string    `json:"head,omitempty"`
	Changed       *bool     `json:"changed,omitempty"`
	Files         []string  `json:"files,omitempty"`
	PullRequest   string    `json:"pr_url,omitempty"`
	Stdout        string    `json:"stdout"`
	Stderr        string    `json:"stderr"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	Message       string    `json:"message"`
	Timestamp     string    `json:"ts"`
	DurationMilli int64     `json:"duration_ms"`
	CorrelationID string    `json:"correlation_id"`
}

// Clock abstracts time acquisition for deterministic testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time source.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Builder produces Results that share a repository and correlation id.
type Builder struct {
	Repo          string
	CorrelationID string
	Clock         Clock
}

// NewBuilder constructs a Builder using the system clock.
func NewBuilder(repo string, correlationID string) Builder {
	return Builder{Repo: repo, CorrelationID: correlationID, Clock: SystemClock{}}
}

// Succeeded builds an ok Result for the action started at startedAt.
func (builder Builder) Succeeded(action string, startedAt time.Time, message string) Result {
	return builder.build(action, startedAt, true, "", message)
}

// Failed builds a failed Result tagged with kind.
func (builder Builder) Failed(action string, startedAt time.Time, kind ErrorKind, message string) Result {
	return builder.build(action, startedAt, false, kind, message)
}

// Noted builds an ok Result that still carries a diagnostic kind.
func (builder Builder) Noted(action string, startedAt time.Time, kind ErrorKind, message string) Result {
	return builder.build(action, startedAt, true, kind, message)
}

func (builder Builder) build(action string, startedAt time.Time, ok bool, kind ErrorKind, message string) Result {
	clock := builder.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	now := clock.Now()
	duration := now.Sub(startedAt)
	if startedAt.IsZero() || duration < 0 {
		duration = 0
	}
	return Result{
		OK:            ok,
		Action:        action,
		Repo:          builder.Repo,
		ErrorKind:     kind,
		Message:       message,
		Timestamp:     now.UTC().Format(timestampLayoutConstant),
		DurationMilli: duration.Milliseconds(),
		CorrelationID: builder.CorrelationID,
	}
}

// WithOutput returns a copy carrying the captured streams and exit code.
func (result Result) WithOutput(standardOutput string, standardError string, exitCode int) Result {
	result.Stdout = standardOutput
	result.Stderr = standardError
	result.ExitCode = &exitCode
	return result
}

// WithBranch returns a copy carrying the branch name.
func (result Result) WithBranch(branch string) Result {
	result.Branch = branch
	return result
}

// WithHead returns a copy carrying the head reference.
func (result Result) WithHead(head string) Result {
	result.Head = head
	return result
}

// WithChanged returns a copy carrying the changed flag and file list.
func (result Result) WithChanged(changed bool, files []string) Result {
	result.Changed = &changed
	if files != nil {
		result.Files = append([]string{}, files...)
	}
	return result
}

// WithPullRequest returns a copy carrying the pull request URL.
func (result Result) WithPullRequest(pullRequestURL string) Result {
	result.PullRequest = pullRequestURL
	return result
}

// Clone returns a deep copy.
func (result Result) Clone() Result {
	if result.Changed != nil {
		changed := *result.Changed
		result.Changed = &changed
	}
	if result.ExitCode != nil {
		exitCode := *result.ExitCode
		result.ExitCode = &exitCode
	}
	if result.Files != nil {
		result.Files = append([]string{}, result.Files...)
	}
	return result
}

// MapStrings returns a copy with transform applied to every free-text field,
// including the caller-supplied correlation id.
func (result Result) MapStrings(transform func(string) string) Result {
	mapped := result.Clone()
	mapped.CorrelationID = transform(mapped.CorrelationID)
	mapped.Branch = transform(mapped.Branch)
	mapped.Head = transform(mapped.Head)
	mapped.PullRequest = transform(mapped.PullRequest)
	mapped.Stdout = transform(mapped.Stdout)
	mapped.Stderr = transform(mapped.Stderr)
	mapped.Message = transform(mapped.Message)
	for index, file := range mapped.Files {
		mapped.Files[index] = transform(file)
	}
	return mapped
}
