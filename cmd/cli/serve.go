package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/acs/internal/actionlog"
	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/jobs"
	"github.com/temirov/acs/internal/server"
)

const (
	serveCommandUseConstant         = "serve"
	serveCommandShortConstant       = "Serve the HTTP control surface"
	serveCommandLongConstant        = "serve starts the job registry and the HTTP API on the configured loopback address and runs until interrupted."
	addressFlagNameConstant         = "address"
	addressFlagUsageConstant        = "Override server.address."
	actionLogComponentName          = "action log"
	jobRegistryComponentName        = "job registry"
	httpServerComponentName         = "http server"
	housekeepingIntervalConstant    = time.Minute
	tokensSweptLogMessageConstant   = "expired confirmation tokens removed"
	tokensSweptLogFieldConstant     = "removed"
	actionLogEnabledLogMessage      = "action log enabled"
	actionLogDirectoryLogField      = "directory"
	shutdownCompleteLogMessage      = "control surface stopped"
	closeFailureLogMessageConstant  = "component close failed"
	closeComponentLogFieldConstant  = "component"
	routinesEnabledLogMessage       = "routine endpoints enabled"
	routinesSecretLogFieldConstant  = "shared_secret_configured"
	noRepositoriesWarningLogMessage = "no repositories configured; every repository request will be rejected"
)

func (application *Application) newServeCommand() *cobra.Command {
	var addressOverride string
	command := &cobra.Command{
		Use:   serveCommandUseConstant,
		Short: serveCommandShortConstant,
		Long:  serveCommandLongConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			if command.Flags().Changed(addressFlagNameConstant) {
				application.configuration.Server.Address = addressOverride
			}
			signalContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
			defer stopSignals()
			return application.serve(signalContext, execshell.NewOSCommandRunner())
		},
	}
	command.Flags().StringVar(&addressOverride, addressFlagNameConstant, "", addressFlagUsageConstant)
	return command
}

func (application *Application) serve(executionContext context.Context, runner execshell.CommandRunner) error {
	logger, loggerError := application.requireLogger()
	if loggerError != nil {
		return loggerError
	}
	configuration := application.configuration

	surface, surfaceError := newControlSurface(logger, configuration, runner)
	if surfaceError != nil {
		return surfaceError
	}
	if surface.repositories.Len() == 0 {
		logger.Warn(noRepositoriesWarningLogMessage)
	}
	if configuration.Routines.Enabled {
		logger.Info(routinesEnabledLogMessage, zap.Bool(routinesSecretLogFieldConstant, len(configuration.Routines.SharedSecret) > 0))
	}

	dependencies := server.Dependencies{
		Logger:        logger,
		Repositories:  surface.repositories,
		Publisher:     surface.pipeline,
		GitOperations: surface.gitOperations,
		Workflow:      surface.workflow,
		Sessions:      surface.sessions,
		Redactor:      surface.redactor,
		Routines:      configuration.Routines,
		BaseBranch:    configuration.Publish.Sanitize().BaseBranch,
	}

	if configuration.ActionLog.Enabled {
		directory := surface.homeExpander.Expand(configuration.ActionLog.Directory)
		writer, writerError := actionlog.NewWriter(logger, directory, surface.redactor)
		if writerError != nil {
			return fmt.Errorf(runtimeComponentErrorTemplate, actionLogComponentName, writerError)
		}
		defer closeComponent(logger, actionLogComponentName, writer.Close)
		logger.Info(actionLogEnabledLogMessage, zap.String(actionLogDirectoryLogField, directory))
		dependencies.ActionLog = writer
	}

	workerContext, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	registry, registryError := jobs.NewRegistry(workerContext, logger, jobs.NewMemoryStore(), surface.redactor, configuration.Jobs)
	if registryError != nil {
		return fmt.Errorf(runtimeComponentErrorTemplate, jobRegistryComponentName, registryError)
	}
	defer closeComponent(logger, jobRegistryComponentName, registry.Close)
	dependencies.Jobs = registry

	httpServer, serverError := server.New(dependencies, configuration.Server)
	if serverError != nil {
		return fmt.Errorf(runtimeComponentErrorTemplate, httpServerComponentName, serverError)
	}

	serviceContext, cancelService := context.WithCancel(executionContext)
	defer cancelService()
	var serviceGroup errgroup.Group
	serviceGroup.Go(func() error {
		defer cancelService()
		return httpServer.ListenAndServe(serviceContext)
	})
	serviceGroup.Go(func() error {
		sweepTokens(serviceContext, logger, surface)
		return nil
	})
	waitError := serviceGroup.Wait()
	logger.Info(shutdownCompleteLogMessage)
	return waitError
}

// sweepTokens removes expired confirmation tokens until executionContext ends.
func sweepTokens(executionContext context.Context, logger *zap.Logger, surface *controlSurface) {
	ticker := time.NewTicker(housekeepingIntervalConstant)
	defer ticker.Stop()
	for {
		select {
		case <-executionContext.Done():
			return
		case <-ticker.C:
			if removed := surface.tokens.Sweep(); removed > 0 {
				logger.Debug(tokensSweptLogMessageConstant, zap.Int(tokensSweptLogFieldConstant, removed))
			}
		}
	}
}

func closeComponent(logger *zap.Logger, component string, closer func() error) {
	if closeError := closer(); closeError != nil {
		logger.Warn(closeFailureLogMessageConstant, zap.String(closeComponentLogFieldConstant, component), zap.Error(closeError))
	}
}
