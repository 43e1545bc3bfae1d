package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/gitops"
	"github.com/temirov/acs/internal/jobs"
	"github.com/temirov/acs/internal/publish"
	"github.com/temirov/acs/internal/repos"
	"github.com/temirov/acs/internal/telemetry"
	"github.com/temirov/acs/internal/workflow"
)

const (
	defaultAddressConstant           = "127.0.0.1:8099"
	defaultReadHeaderTimeout         = 10 * time.Second
	defaultShutdownTimeout           = 15 * time.Second
	correlationHeaderConstant        = "X-Correlation-ID"
	loggerNotConfiguredMessage       = "server logger not configured"
	repositoriesNotConfiguredMessage = "server repository catalog not configured"
	jobsNotConfiguredMessage         = "server job queue not configured"
	publisherNotConfiguredMessage    = "server publisher not configured"
	gitNotConfiguredMessage          = "server git operations not configured"
	workflowNotConfiguredMessage     = "server workflow runner not configured"
	sessionsNotConfiguredMessage     = "server session runner not configured"
	redactorNotConfiguredMessage     = "server redactor not configured"
	listeningLogMessageConstant      = "http server listening"
	shuttingDownLogMessageConstant   = "http server shutting down"
	requestLogMessageConstant        = "http request"
	addressLogFieldConstant          = "address"
	methodLogFieldConstant           = "method"
	pathLogFieldConstant             = "path"
	statusLogFieldConstant           = "status"
	durationLogFieldConstant         = "duration"
	requestIDLogFieldConstant        = "request_id"
)

var (
	// ErrLoggerNotConfigured indicates a missing logger.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessage)
	// ErrRepositoriesNotConfigured indicates a missing repository catalog.
	ErrRepositoriesNotConfigured = errors.New(repositoriesNotConfiguredMessage)
	// ErrJobsNotConfigured indicates a missing job queue.
	ErrJobsNotConfigured = errors.New(jobsNotConfiguredMessage)
	// ErrPublisherNotConfigured indicates a missing publish pipeline.
	ErrPublisherNotConfigured = errors.New(publisherNotConfiguredMessage)
	// ErrGitOperationsNotConfigured indicates missing synchronous git actions.
	ErrGitOperationsNotConfigured = errors.New(gitNotConfiguredMessage)
	// ErrWorkflowNotConfigured indicates a missing workflow adapter.
	ErrWorkflowNotConfigured = errors.New(workflowNotConfiguredMessage)
	// ErrSessionsNotConfigured indicates a missing session client.
	ErrSessionsNotConfigured = errors.New(sessionsNotConfiguredMessage)
	// ErrRedactorNotConfigured indicates a missing redactor.
	ErrRedactorNotConfigured = errors.New(redactorNotConfiguredMessage)
)

// RepositoryCatalog resolves allow-listed repositories.
type RepositoryCatalog interface {
	Lookup(key string) (repos.Repository, error)
	All() []repos.Repository
}

// JobQueue accepts background work and reports its state.
type JobQueue interface {
	Submit(repo string, correlationID string, work jobs.Work) (string, error)
	Status(jobID string) (jobs.State, bool)
}

// Publisher runs the publish pipeline.
type Publisher interface {
	Run(executionContext context.Context, correlationID string, options publish.Options, recorder publish.ResultRecorder) bool
}

// GitOperations are the synchronous git actions.
type GitOperations interface {
	ApplyPatch(executionContext context.Context, correlationID string, request gitops.PatchRequest) actions.Result
	CreateBranch(executionContext context.Context, correlationID string, repositoryKey string, branchName string) actions.Result
	Commit(executionContext context.Context, correlationID string, repositoryKey string, message string) actions.Result
	Push(executionContext context.Context, correlationID string, repositoryKey string) actions.Result
	State(executionContext context.Context, correlationID string, repositoryKey string) actions.Result
	PullRequestHint(executionContext context.Context, correlationID string, repositoryKey string) actions.Result
	Repair(executionContext context.Context, correlationID string, repositoryKey string, stage gitops.RepairStage, baseBranch string) actions.Result
}

// WorkflowRunner drives audits and routines.
type WorkflowRunner interface {
	RunAudit(executionContext context.Context, repository repos.Repository, correlationID string) (workflow.AuditGit, error)
	LatestAuditArtifact(repository repos.Repository, repositoryKey string) (workflow.AuditGit, bool)
	PreviewRoutine(executionContext context.Context, repository repos.Repository, routineID string) (workflow.RoutinePreview, error)
	ApplyRoutine(executionContext context.Context, repository repos.Repository, routineID string, token string, previewHash string) (workflow.RoutineResult, error)
}

// SessionRunner drives the coding-agent session CLI.
type SessionRunner interface {
	List(executionContext context.Context, repository repos.Repository) (string, error)
	New(executionContext context.Context, repository repos.Repository, title string) (string, error)
	Diff(executionContext context.Context, repository repos.Repository, sessionID string) (string, error)
}

// ActionLogger persists results outside the job registry.
type ActionLogger interface {
	Log(result actions.Result)
}

// Redactor scrubs secrets from synchronous responses.
type Redactor interface {
	Redact(text string) string
}

// Configuration controls the listener.
type Configuration struct {
	Address           string        `mapstructure:"address" yaml:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfiguration listens on loopback only.
func DefaultConfiguration() Configuration {
	return Configuration{
		Address:           defaultAddressConstant,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ShutdownTimeout:   defaultShutdownTimeout,
	}
}

// RoutinePolicy gates the routine endpoints.
type RoutinePolicy struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	SharedSecret string `mapstructure:"shared_secret" yaml:"shared_secret"`
}

// Dependencies wires the collaborators of a Server. ActionLog and
// CorrelationIDs are optional.
type Dependencies struct {
	Logger         *zap.Logger
	Repositories   RepositoryCatalog
	Jobs           JobQueue
	Publisher      Publisher
	GitOperations  GitOperations
	Workflow       WorkflowRunner
	Sessions       SessionRunner
	Redactor       Redactor
	ActionLog      ActionLogger
	Routines       RoutinePolicy
	BaseBranch     string
	CorrelationIDs func() string
}

// Server wires HTTP handlers for the control surface.
type Server struct {
	logger         *zap.Logger
	repositories   RepositoryCatalog
	jobs           JobQueue
	publisher      Publisher
	gitOperations  GitOperations
	workflow       WorkflowRunner
	sessions       SessionRunner
	redactor       Redactor
	actionLog      ActionLogger
	routines       RoutinePolicy
	baseBranch     string
	correlationIDs func() string
	configuration  Configuration
}

// New validates dependencies and constructs a Server.
func New(dependencies Dependencies, configuration Configuration) (*Server, error) {
	switch {
	case dependencies.Logger == nil:
		return nil, ErrLoggerNotConfigured
	case dependencies.Repositories == nil:
		return nil, ErrRepositoriesNotConfigured
	case dependencies.Jobs == nil:
		return nil, ErrJobsNotConfigured
	case dependencies.Publisher == nil:
		return nil, ErrPublisherNotConfigured
	case dependencies.GitOperations == nil:
		return nil, ErrGitOperationsNotConfigured
	case dependencies.Workflow == nil:
		return nil, ErrWorkflowNotConfigured
	case dependencies.Sessions == nil:
		return nil, ErrSessionsNotConfigured
	case dependencies.Redactor == nil:
		return nil, ErrRedactorNotConfigured
	}

	defaults := DefaultConfiguration()
	if len(configuration.Address) == 0 {
		configuration.Address = defaults.Address
	}
	if configuration.ReadHeaderTimeout <= 0 {
		configuration.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if configuration.ShutdownTimeout <= 0 {
		configuration.ShutdownTimeout = defaults.ShutdownTimeout
	}
	correlationIDs := dependencies.CorrelationIDs
	if correlationIDs == nil {
		correlationIDs = uuid.NewString
	}
	baseBranch := dependencies.BaseBranch
	if len(baseBranch) == 0 {
		baseBranch = publish.DefaultConfiguration().BaseBranch
	}

	return &Server{
		logger:         dependencies.Logger,
		repositories:   dependencies.Repositories,
		jobs:           dependencies.Jobs,
		publisher:      dependencies.Publisher,
		gitOperations:  dependencies.GitOperations,
		workflow:       dependencies.Workflow,
		sessions:       dependencies.Sessions,
		redactor:       dependencies.Redactor,
		actionLog:      dependencies.ActionLog,
		routines:       dependencies.Routines,
		baseBranch:     baseBranch,
		correlationIDs: correlationIDs,
		configuration:  configuration,
	}, nil
}

// Router builds the HTTP router.
func (server *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(server.logRequests)

	router.Get("/healthz", func(responseWriter http.ResponseWriter, _ *http.Request) {
		writeJSON(responseWriter, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Mount("/metrics", telemetry.Handler())

	router.Route("/api", func(api chi.Router) {
		api.Get("/repos", server.handleRepositories)
		api.Post("/publish", server.handlePublish)
		api.Get("/jobs/{id}", server.handleJobStatus)

		api.Post("/patch/apply", server.handlePatchApply)
		api.Post("/git/branch", server.handleBranch)
		api.Post("/git/commit", server.handleCommit)
		api.Post("/git/push", server.handlePush)
		api.Get("/git/state", server.handleState)
		api.Get("/git/pr-prepare", server.handlePullRequestPrepare)
		api.Post("/git/repair/{stage}", server.handleRepair)

		api.Post("/audit/git", server.handleAudit)
		api.Get("/audit/git/latest", server.handleLatestAudit)

		api.Group(func(gated chi.Router) {
			gated.Use(server.requireRoutines)
			gated.Post("/routine/preview", server.handleRoutinePreview)
			gated.Post("/routine/apply", server.handleRoutineApply)
		})

		api.Get("/sessions", server.handleSessions)
		api.Post("/sessions/new", server.handleNewSession)
		api.Get("/sessions/{id}/diff", server.handleSessionDiff)
		api.Get("/sessions/{id}/diff/download", server.handleSessionDiffDownload)
	})
	return router
}

// ListenAndServe serves until executionContext is cancelled, then shuts down gracefully.
func (server *Server) ListenAndServe(executionContext context.Context) error {
	httpServer := &http.Server{
		Addr:              server.configuration.Address,
		Handler:           server.Router(),
		ReadHeaderTimeout: server.configuration.ReadHeaderTimeout,
	}

	serveErrors := make(chan error, 1)
	go func() {
		server.logger.Info(listeningLogMessageConstant, zap.String(addressLogFieldConstant, server.configuration.Address))
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveError := <-serveErrors:
		if errors.Is(serveError, http.ErrServerClosed) {
			return nil
		}
		return serveError
	case <-executionContext.Done():
	}

	server.logger.Info(shuttingDownLogMessageConstant)
	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), server.configuration.ShutdownTimeout)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownContext)
}

func (server *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		startedAt := time.Now()
		wrappedWriter := middleware.NewWrapResponseWriter(responseWriter, request.ProtoMajor)
		next.ServeHTTP(wrappedWriter, request)
		server.logger.Debug(requestLogMessageConstant,
			zap.String(methodLogFieldConstant, request.Method),
			zap.String(pathLogFieldConstant, request.URL.Path),
			zap.Int(statusLogFieldConstant, wrappedWriter.Status()),
			zap.Duration(durationLogFieldConstant, time.Since(startedAt)),
			zap.String(requestIDLogFieldConstant, middleware.GetReqID(request.Context())),
		)
	})
}

var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// correlationID honors a caller-supplied X-Correlation-ID header made of
// letters, digits, '.', '_' and '-', at most 128 characters long.
func (server *Server) correlationID(request *http.Request) string {
	if supplied := request.Header.Get(correlationHeaderConstant); correlationIDPattern.MatchString(supplied) {
		return supplied
	}
	return server.correlationIDs()
}
