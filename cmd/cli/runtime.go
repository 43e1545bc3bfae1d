package cli

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/acs/internal/confirm"
	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/githubcli"
	"github.com/temirov/acs/internal/gitops"
	"github.com/temirov/acs/internal/idempotency"
	"github.com/temirov/acs/internal/progress"
	"github.com/temirov/acs/internal/publish"
	"github.com/temirov/acs/internal/redaction"
	"github.com/temirov/acs/internal/repos"
	"github.com/temirov/acs/internal/sessions"
	"github.com/temirov/acs/internal/telemetry"
	pathutils "github.com/temirov/acs/internal/utils/path"
	"github.com/temirov/acs/internal/workflow"
)

const (
	runtimeComponentErrorTemplate = "unable to build %s: %w"
	repositoriesComponentName     = "repository allow-list"
	executorComponentName         = "command executor"
	githubComponentName           = "github client"
	guardComponentName            = "idempotency guard"
	pipelineComponentName         = "publish pipeline"
	gitOperationsComponentName    = "git operations"
	workflowComponentName         = "workflow adapter"
	sessionsComponentName         = "session client"
	repositoryCountLogField       = "repositories"
	runtimeReadyLogMessage        = "control surface components ready"
)

// controlSurface holds every component built from one configuration.
type controlSurface struct {
	logger        *zap.Logger
	redactor      *redaction.Redactor
	homeExpander  *pathutils.HomeExpander
	repositories  *repos.Registry
	executor      *execshell.ShellExecutor
	guard         *idempotency.Guard
	pipeline      *publish.Pipeline
	gitOperations *gitops.Service
	tokens        *confirm.Store
	workflow      *workflow.Adapter
	sessions      *sessions.Client
}

func newControlSurface(logger *zap.Logger, configuration ApplicationConfiguration, runner execshell.CommandRunner) (*controlSurface, error) {
	homeExpander := pathutils.NewHomeExpander(nil)
	redactor := redaction.NewEnvironmentRedactor(os.LookupEnv, configuration.Routines.SharedSecret)

	repositoryEntries, entriesError := collectRepositoryEntries(configuration, homeExpander)
	if entriesError != nil {
		return nil, fmt.Errorf(runtimeComponentErrorTemplate, repositoriesComponentName, entriesError)
	}
	repositories, registryError := repos.NewRegistry(repositoryEntries, homeExpander)
	if registryError != nil {
		return nil, fmt.Errorf(runtimeComponentErrorTemplate, repositoriesComponentName, registryError)
	}

	shellExecutor, executorError := execshell.NewShellExecutor(logger, runner)
	if executorError != nil {
		return nil, fmt.Errorf(runtimeComponentErrorTemplate, executorComponentName, executorError)
	}
	telemetry.Register()
	observers := execshell.ObserverGroup{telemetry.CommandObserver{}}
	if configuration.humanReadableLogging() {
		observers = append(observers, progress.NewConsoleReporter(logger, redactor))
	}
	shellExecutor = shellExecutor.WithTextFilter(redactor).WithObserver(observers)

	githubClient, githubError := githubcli.NewClient(shellExecutor)
	if githubError != nil {
		return nil, fmt.Errorf(runtimeComponentErrorTemplate, githubComponentName, githubError)
	}

	guard, guardError := idempotency.NewGuard(shellExecutor, idempotency.NewMemoryContextStore())
	if guardError != nil {
		return nil, fmt.Errorf(runtimeComponentErrorTemplate, guardComponentName, guardError)
	}

	pipeline, pipelineError := publish.NewPipeline(publish.Dependencies{
		Logger:       logger,
		Repositories: repositories,
		GitExecutor:  shellExecutor,
		GitHubClient: githubClient,
		Guard:        guard,
		Timeouts:     configuration.Timeouts,
	}, configuration.Publish)
	if pipelineError != nil {
		return nil, fmt.Errorf(runtimeComponentErrorTemplate, pipelineComponentName, pipelineError)
	}

	publishSettings := configuration.Publish.Sanitize()
	gitOperations, gitOperationsError := gitops.NewService(gitops.Dependencies{
		Logger:            logger,
		Repositories:      repositories,
		GitExecutor:       shellExecutor,
		ApplyRecorder:     guard,
		Timeouts:          configuration.Timeouts,
		Remote:            publishSettings.Remote,
		ProtectedBranches: publishSettings.ProtectedBranches,
	})
	if gitOperationsError != nil {
		return nil, fmt.Errorf(runtimeComponentErrorTemplate, gitOperationsComponentName, gitOperationsError)
	}

	tokens := confirm.NewStore(configuration.tokenTimeToLive())
	workflowAdapter, workflowError := workflow.NewAdapter(workflow.Dependencies{
		Logger:   logger,
		Executor: shellExecutor,
		Redactor: redactor,
		Tokens:   tokens,
	}, configuration.Workflow)
	if workflowError != nil {
		return nil, fmt.Errorf(runtimeComponentErrorTemplate, workflowComponentName, workflowError)
	}

	sessionClient, sessionsError := sessions.NewClient(shellExecutor, configuration.Sessions)
	if sessionsError != nil {
		return nil, fmt.Errorf(runtimeComponentErrorTemplate, sessionsComponentName, sessionsError)
	}

	logger.Debug(runtimeReadyLogMessage, zap.Int(repositoryCountLogField, repositories.Len()))

	return &controlSurface{
		logger:        logger,
		redactor:      redactor,
		homeExpander:  homeExpander,
		repositories:  repositories,
		executor:      shellExecutor,
		guard:         guard,
		pipeline:      pipeline,
		gitOperations: gitOperations,
		tokens:        tokens,
		workflow:      workflowAdapter,
		sessions:      sessionClient,
	}, nil
}

// collectRepositoryEntries appends entries from repositories_file after the inline list.
func collectRepositoryEntries(configuration ApplicationConfiguration, homeExpander *pathutils.HomeExpander) ([]repos.Repository, error) {
	entries := append([]repos.Repository{}, configuration.Repositories...)
	repositoriesFile := strings.TrimSpace(configuration.RepositoriesFile)
	if len(repositoriesFile) == 0 {
		return entries, nil
	}
	fileEntries, loadError := repos.LoadRepositoriesFile(homeExpander.Expand(repositoriesFile))
	if loadError != nil {
		return nil, loadError
	}
	return append(entries, fileEntries...), nil
}
