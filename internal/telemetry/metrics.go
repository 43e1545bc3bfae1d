package telemetry

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/temirov/acs/internal/execshell"
)

const (
	outcomeLabelConstant = "outcome"
	statusLabelConstant  = "status"
	actionLabelConstant  = "action"
	commandLabelConstant = "command"
	exitLabelConstant    = "exit_code"
	outcomeOKConstant    = "ok"
	outcomeFailConstant  = "failed"
)

var (
	once sync.Once

	JobsSubmitted         = prometheus.NewCounter(prometheus.CounterOpts{Name: "acs_jobs_submitted_total", Help: "Jobs accepted by the registry"})
	JobsRejected          = prometheus.NewCounter(prometheus.CounterOpts{Name: "acs_jobs_rejected_total", Help: "Jobs refused because the queue was full or closed"})
	JobsFinished          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "acs_jobs_finished_total", Help: "Jobs finished by terminal status"}, []string{statusLabelConstant})
	JobsQueued            = prometheus.NewGauge(prometheus.GaugeOpts{Name: "acs_jobs_queued", Help: "Jobs waiting for a worker"})
	JobsRunning           = prometheus.NewGauge(prometheus.GaugeOpts{Name: "acs_jobs_running", Help: "Jobs currently executing"})
	StageResults          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "acs_stage_results_total", Help: "Recorded action results by action and outcome"}, []string{actionLabelConstant, outcomeLabelConstant})
	RedactionsApplied     = prometheus.NewCounter(prometheus.CounterOpts{Name: "acs_redactions_applied_total", Help: "Recorded results that contained redacted text"})
	ConfirmTokensIssued   = prometheus.NewCounter(prometheus.CounterOpts{Name: "acs_confirm_tokens_issued_total", Help: "Confirmation tokens issued by routine previews"})
	ConfirmTokensRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "acs_confirm_tokens_rejected_total", Help: "Routine applies refused for an invalid token"})
	CommandsExecuted      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "acs_commands_executed_total", Help: "External commands run by binary and exit code"}, []string{commandLabelConstant, exitLabelConstant})
	CommandFailures       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "acs_command_failures_total", Help: "External commands that could not run or timed out"}, []string{commandLabelConstant})
)

// Register adds the collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsRejected,
			JobsFinished,
			JobsQueued,
			JobsRunning,
			StageResults,
			RedactionsApplied,
			ConfirmTokensIssued,
			ConfirmTokensRejected,
			CommandsExecuted,
			CommandFailures,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// ObserveStage counts one recorded action result.
func ObserveStage(action string, ok bool) {
	outcome := outcomeFailConstant
	if ok {
		outcome = outcomeOKConstant
	}
	StageResults.WithLabelValues(action, outcome).Inc()
}

// CommandObserver counts executed commands.
type CommandObserver struct{}

// CommandStarted is a no-op.
func (CommandObserver) CommandStarted(execshell.ShellCommand) {}

// CommandCompleted counts a command that ran to completion.
func (CommandObserver) CommandCompleted(command execshell.ShellCommand, result execshell.ExecutionResult) {
	CommandsExecuted.WithLabelValues(string(command.Name), strconv.Itoa(result.ExitCode)).Inc()
}

// CommandExecutionFailed counts a command that could not run.
func (CommandObserver) CommandExecutionFailed(command execshell.ShellCommand, _ error) {
	CommandFailures.WithLabelValues(string(command.Name)).Inc()
}

var _ execshell.CommandEventObserver = CommandObserver{}
