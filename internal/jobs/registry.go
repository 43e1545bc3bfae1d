package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/telemetry"
)

// TruncationMarker is appended to text cut at a size cap.
const TruncationMarker = "... (truncated)"

// Default registry limits.
const (
	DefaultWorkers         = 2
	DefaultQueueSize       = 64
	DefaultTimeToLive      = time.Hour
	DefaultMaxEntries      = 200
	DefaultMaxLogLines     = 1000
	DefaultMaxOutputChars  = 50000
	DefaultMaxLogLineChars = 4000
)

const (
	loggerNotConfiguredMessageConstant   = "job registry logger not configured"
	storeNotConfiguredMessageConstant    = "job registry store not configured"
	redactorNotConfiguredMessageConstant = "job registry redactor not configured"
	queueFullMessageConstant             = "job queue is full"
	registryClosedMessageConstant        = "job registry is closed"
	panicActionConstant                  = "job.panic"
	panicMessageTemplateConstant         = "Job aborted unexpectedly: %v"
	unserializableLogTemplateConstant    = `{"action":%q,"ok":%t,"message":"result could not be serialized"}`
	jobIDLogFieldConstant                = "job_id"
	repoLogFieldConstant                 = "repo"
	correlationIDLogFieldConstant        = "correlation_id"
	statusLogFieldConstant               = "status"
	panicLogFieldConstant                = "panic"
	evictedLogFieldConstant              = "evicted"
	jobStartedMessageConstant            = "job started"
	jobFinishedMessageConstant           = "job finished"
	jobPanickedMessageConstant           = "job panicked"
	jobsEvictedMessageConstant           = "jobs evicted"
)

var (
	// ErrLoggerNotConfigured indicates a missing logger.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)
	// ErrStoreNotConfigured indicates a missing state store.
	ErrStoreNotConfigured = errors.New(storeNotConfiguredMessageConstant)
	// ErrRedactorNotConfigured indicates a missing redactor.
	ErrRedactorNotConfigured = errors.New(redactorNotConfiguredMessageConstant)
	// ErrQueueFull indicates the bounded queue rejected a submission.
	ErrQueueFull = errors.New(queueFullMessageConstant)
	// ErrRegistryClosed indicates a submission after Close.
	ErrRegistryClosed = errors.New(registryClosedMessageConstant)
)

// Redactor scrubs secrets from text.
type Redactor interface {
	Redact(text string) string
}

// ResultRecorder appends results to a running job.
type ResultRecorder interface {
	Record(result actions.Result)
}

// Work is the body of a job.
type Work func(executionContext context.Context, recorder ResultRecorder)

// Limits bounds the registry's memory and concurrency.
type Limits struct {
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	QueueSize       int           `mapstructure:"queue_size" yaml:"queue_size"`
	TimeToLive      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries      int           `mapstructure:"max_entries" yaml:"max_entries"`
	MaxLogLines     int           `mapstructure:"max_log_lines" yaml:"max_log_lines"`
	MaxOutputChars  int           `mapstructure:"max_output_chars" yaml:"max_output_chars"`
	MaxLogLineChars int           `mapstructure:"max_log_line_chars" yaml:"max_log_line_chars"`
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		Workers:         DefaultWorkers,
		QueueSize:       DefaultQueueSize,
		TimeToLive:      DefaultTimeToLive,
		MaxEntries:      DefaultMaxEntries,
		MaxLogLines:     DefaultMaxLogLines,
		MaxOutputChars:  DefaultMaxOutputChars,
		MaxLogLineChars: DefaultMaxLogLineChars,
	}
}

func (limits Limits) normalized() Limits {
	defaults := DefaultLimits()
	if limits.Workers <= 0 {
		limits.Workers = defaults.Workers
	}
	if limits.QueueSize <= 0 {
		limits.QueueSize = defaults.QueueSize
	}
	if limits.TimeToLive <= 0 {
		limits.TimeToLive = defaults.TimeToLive
	}
	if limits.MaxEntries <= 0 {
		limits.MaxEntries = defaults.MaxEntries
	}
	if limits.MaxLogLines <= 0 {
		limits.MaxLogLines = defaults.MaxLogLines
	}
	if limits.MaxOutputChars <= 0 {
		limits.MaxOutputChars = defaults.MaxOutputChars
	}
	if limits.MaxLogLineChars <= 0 {
		limits.MaxLogLineChars = defaults.MaxLogLineChars
	}
	return limits
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for creation times and purges.
func WithClock(clock func() time.Time) Option {
	return func(registry *Registry) {
		if clock != nil {
			registry.clock = clock
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(generator func() string) Option {
	return func(registry *Registry) {
		if generator != nil {
			registry.idGenerator = generator
		}
	}
}

type task struct {
	jobID string
	work  Work
}

// Registry runs submitted work on a bounded worker pool and retains its results.
type Registry struct {
	logger      *zap.Logger
	store       Store
	redactor    Redactor
	limits      Limits
	clock       func() time.Time
	idGenerator func() string

	queue       chan task
	workerGroup *errgroup.Group
	queueMutex  sync.RWMutex
	closed      bool
	closeOnce   sync.Once
}

// NewRegistry constructs a Registry and starts its workers. Work runs with
// executionContext.
func NewRegistry(executionContext context.Context, logger *zap.Logger, store Store, redactor Redactor, limits Limits, options ...Option) (*Registry, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if store == nil {
		return nil, ErrStoreNotConfigured
	}
	if redactor == nil {
		return nil, ErrRedactorNotConfigured
	}

	normalizedLimits := limits.normalized()
	registry := &Registry{
		logger:      logger,
		store:       store,
		redactor:    redactor,
		limits:      normalizedLimits,
		clock:       time.Now,
		idGenerator: uuid.NewString,
		queue:       make(chan task, normalizedLimits.QueueSize),
	}
	for _, option := range options {
		option(registry)
	}

	workerGroup, workerContext := errgroup.WithContext(executionContext)
	registry.workerGroup = workerGroup
	for workerIndex := 0; workerIndex < normalizedLimits.Workers; workerIndex++ {
		workerGroup.Go(func() error {
			for queuedTask := range registry.queue {
				registry.run(workerContext, queuedTask)
			}
			return nil
		})
	}
	return registry, nil
}

// Limits returns the effective limits.
func (registry *Registry) Limits() Limits {
	return registry.limits
}

// Submit enqueues work for repo and returns the new job id.
func (registry *Registry) Submit(repo string, correlationID string, work Work) (string, error) {
	registry.Purge()

	registry.queueMutex.RLock()
	defer registry.queueMutex.RUnlock()
	if registry.closed {
		telemetry.JobsRejected.Inc()
		return "", ErrRegistryClosed
	}

	jobID := registry.idGenerator()
	registry.store.Create(State{
		ID:            jobID,
		Repo:          repo,
		CorrelationID: correlationID,
		Status:        StatusQueued,
		CreatedAt:     registry.clock(),
	})

	select {
	case registry.queue <- task{jobID: jobID, work: work}:
		telemetry.JobsSubmitted.Inc()
		telemetry.JobsQueued.Inc()
		return jobID, nil
	default:
		registry.store.Delete(jobID)
		telemetry.JobsRejected.Inc()
		return "", ErrQueueFull
	}
}

// Status returns a copy of the job state.
func (registry *Registry) Status(jobID string) (State, bool) {
	registry.Purge()
	return registry.store.Get(jobID)
}

// RecordResult stores a redacted, size-capped copy of result on the job.
// It reports false when the job no longer exists.
func (registry *Registry) RecordResult(jobID string, result actions.Result) bool {
	redactedAny := false
	stored := result.MapStrings(func(text string) string {
		redacted := registry.redactor.Redact(text)
		if redacted != text {
			redactedAny = true
		}
		return redacted
	})
	if redactedAny {
		telemetry.RedactionsApplied.Inc()
	}
	stored.Stdout = Truncate(stored.Stdout, registry.limits.MaxOutputChars)
	stored.Stderr = Truncate(stored.Stderr, registry.limits.MaxOutputChars)

	logLine := Truncate(serializeLogLine(stored), registry.limits.MaxLogLineChars)
	maxLogLines := registry.limits.MaxLogLines

	updated := registry.store.Update(jobID, func(state *State) {
		state.Results = append(state.Results, stored)
		state.LogLines = append(state.LogLines, logLine)
		if overflow := len(state.LogLines) - maxLogLines; overflow > 0 {
			state.LogLines = append([]string{}, state.LogLines[overflow:]...)
		}
	})
	if updated {
		telemetry.ObserveStage(stored.Action, stored.OK)
	}
	return updated
}

// Purge evicts expired jobs and then the oldest jobs beyond capacity.
func (registry *Registry) Purge() {
	evicted := registry.store.Sweep(registry.clock(), registry.limits.TimeToLive, registry.limits.MaxEntries)
	if len(evicted) > 0 {
		registry.logger.Debug(jobsEvictedMessageConstant, zap.Strings(evictedLogFieldConstant, evicted))
	}
}

// Close stops accepting work and waits for queued jobs to finish.
func (registry *Registry) Close() error {
	registry.closeOnce.Do(func() {
		registry.queueMutex.Lock()
		registry.closed = true
		close(registry.queue)
		registry.queueMutex.Unlock()
	})
	return registry.workerGroup.Wait()
}

func (registry *Registry) run(executionContext context.Context, queuedTask task) {
	telemetry.JobsQueued.Dec()
	telemetry.JobsRunning.Inc()
	defer telemetry.JobsRunning.Dec()

	state, found := registry.store.Get(queuedTask.jobID)
	if !found {
		return
	}
	registry.store.Update(queuedTask.jobID, func(state *State) {
		state.Status = StatusRunning
	})
	jobLogger := registry.logger.With(
		zap.String(jobIDLogFieldConstant, state.ID),
		zap.String(repoLogFieldConstant, state.Repo),
		zap.String(correlationIDLogFieldConstant, state.CorrelationID),
	)
	jobLogger.Debug(jobStartedMessageConstant)

	panicked := registry.execute(executionContext, queuedTask, state, jobLogger)

	finalStatus := StatusDone
	registry.store.Update(queuedTask.jobID, func(state *State) {
		if lastResult, hasResult := state.LastResult(); panicked || (hasResult && !lastResult.OK) {
			finalStatus = StatusError
		}
		state.Status = finalStatus
	})
	telemetry.JobsFinished.WithLabelValues(string(finalStatus)).Inc()
	jobLogger.Info(jobFinishedMessageConstant, zap.String(statusLogFieldConstant, string(finalStatus)))
}

func (registry *Registry) execute(executionContext context.Context, queuedTask task, state State, jobLogger *zap.Logger) (panicked bool) {
	startedAt := registry.clock()
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		panicked = true
		jobLogger.Error(jobPanickedMessageConstant, zap.Any(panicLogFieldConstant, recovered))
		builder := actions.Builder{Repo: state.Repo, CorrelationID: state.CorrelationID, Clock: clockAdapter(registry.clock)}
		registry.RecordResult(queuedTask.jobID, builder.Failed(panicActionConstant, startedAt, actions.ErrorKindInternal, fmt.Sprintf(panicMessageTemplateConstant, recovered)))
	}()
	queuedTask.work(executionContext, jobRecorder{registry: registry, jobID: queuedTask.jobID})
	return false
}

type jobRecorder struct {
	registry *Registry
	jobID    string
}

func (recorder jobRecorder) Record(result actions.Result) {
	recorder.registry.RecordResult(recorder.jobID, result)
}

type clockAdapter func() time.Time

func (clock clockAdapter) Now() time.Time {
	return clock()
}

// Truncate caps text at maxChars characters and appends TruncationMarker when it cut anything.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars]) + TruncationMarker
}

func serializeLogLine(result actions.Result) string {
	encoded, encodingError := json.Marshal(result)
	if encodingError != nil {
		return fmt.Sprintf(unserializableLogTemplateConstant, result.Action, result.OK)
	}
	return string(encoded)
}
