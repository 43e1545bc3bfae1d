package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/gitref"
	"github.com/temirov/acs/internal/gitrepo"
)

// RepairStage selects how aggressively remote-tracking refs are repaired.
type RepairStage string

// Repair stages, from least to most invasive.
const (
	RepairStageA RepairStage = RepairStage("stage_a")
	RepairStageB RepairStage = RepairStage("stage_b")
	RepairStageC RepairStage = RepairStage("stage_c")
)

const (
	repairActionPrefixConstant   = "git.repair."
	repairStageShortPrefix       = "stage_"
	remoteSubcommandConstant     = "remote"
	remotePruneSubcommand        = "prune"
	fetchSubcommandConstant      = "fetch"
	pruneFlagConstant            = "--prune"
	updateRefSubcommandConstant  = "update-ref"
	deleteFlagConstant           = "-d"
	packRefsSubcommandConstant   = "pack-refs"
	allRefsFlagConstant          = "--all"
	remoteTrackingPrefixTemplate = "refs/remotes/%s/%s"
	unknownStageTemplate         = "Unknown repair stage %q; expected stage_a, stage_b, or stage_c."
	repairStepFailedTemplate     = "git %s failed."
	repairCompletedTemplate      = "Repair %s completed."
	outputSeparatorConstant      = "\n"
)

// ParseRepairStage accepts "stage_a" style names and their single letter forms.
func ParseRepairStage(text string) (RepairStage, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if !strings.HasPrefix(normalized, repairStageShortPrefix) {
		normalized = repairStageShortPrefix + normalized
	}
	switch stage := RepairStage(normalized); stage {
	case RepairStageA, RepairStageB, RepairStageC:
		return stage, true
	default:
		return "", false
	}
}

// Action returns the result action name for the stage.
func (stage RepairStage) Action() string {
	return repairActionPrefixConstant + string(stage)
}

type repairStep struct {
	arguments []string
	network   bool
	tolerated bool
}

// Repair runs one stage of remote-tracking ref repair. Stage B deletes the
// tracking refs for HEAD and baseBranch; missing refs are not failures.
func (service *Service) Repair(executionContext context.Context, correlationID string, repositoryKey string, stage RepairStage, baseBranch string) actions.Result {
	operation := service.begin(repositoryKey, correlationID)
	action := stage.Action()
	repository, failure := operation.resolve(action)
	if failure != nil {
		return operation.finish(*failure)
	}

	steps, planFailure := service.repairPlan(operation, stage, baseBranch)
	if planFailure != nil {
		return operation.finish(*planFailure)
	}

	outputs := make([]string, 0, len(steps))
	for _, step := range steps {
		run := service.manager.Run
		if step.network {
			run = service.manager.RunNetwork
		}
		executionResult, executionError := run(executionContext, repository.Path, step.arguments...)
		if executionError == nil {
			if combined := strings.TrimSpace(executionResult.CombinedOutput()); len(combined) > 0 {
				outputs = append(outputs, combined)
			}
		}
		if step.tolerated && executionError == nil {
			continue
		}
		if executionError != nil || !executionResult.Succeeded() {
			return operation.finish(repairFailure(operation, action, step, executionResult, executionError))
		}
	}

	return operation.finish(operation.builder.Succeeded(action, operation.startedAt, fmt.Sprintf(repairCompletedTemplate, stage)).
		WithOutput(strings.Join(outputs, outputSeparatorConstant), "", 0))
}

func (service *Service) repairPlan(operation *operation, stage RepairStage, baseBranch string) ([]repairStep, *actions.Result) {
	fetchStep := repairStep{arguments: []string{fetchSubcommandConstant, pruneFlagConstant, service.remote}, network: true}
	switch stage {
	case RepairStageA:
		return []repairStep{
			{arguments: []string{remoteSubcommandConstant, remotePruneSubcommand, service.remote}, network: true},
			fetchStep,
		}, nil
	case RepairStageB:
		baseBranch = strings.TrimSpace(baseBranch)
		if validationError := gitrepo.ValidateBranchName(baseBranch); validationError != nil {
			failure := operation.builder.Failed(stage.Action(), operation.startedAt, actions.ErrorKindInvalidInput, validationError.Error())
			return nil, &failure
		}
		return []repairStep{
			{arguments: []string{updateRefSubcommandConstant, deleteFlagConstant, fmt.Sprintf(remoteTrackingPrefixTemplate, service.remote, headReferenceConstant)}, tolerated: true},
			{arguments: []string{updateRefSubcommandConstant, deleteFlagConstant, fmt.Sprintf(remoteTrackingPrefixTemplate, service.remote, baseBranch)}, tolerated: true},
			fetchStep,
		}, nil
	case RepairStageC:
		return []repairStep{
			{arguments: []string{packRefsSubcommandConstant, allRefsFlagConstant, pruneFlagConstant}},
			fetchStep,
		}, nil
	default:
		failure := operation.builder.Failed(repairActionPrefixConstant+string(stage), operation.startedAt, actions.ErrorKindInvalidInput, fmt.Sprintf(unknownStageTemplate, string(stage)))
		return nil, &failure
	}
}

func repairFailure(operation *operation, action string, step repairStep, executionResult execshell.ExecutionResult, executionError error) actions.Result {
	message := fmt.Sprintf(repairStepFailedTemplate, strings.Join(step.arguments, " "))
	if executionError != nil {
		return operation.builder.Failed(action, operation.startedAt, actions.ErrorKindGitFailed, fmt.Sprintf(executorFailureTemplate, message, executionError))
	}
	kind := actions.ErrorKindGitFailed
	if classification := gitref.Classify(executionResult.StandardError); classification.Recognized() {
		kind = classification.ErrorKind
		message = classification.Hint
	}
	return operation.builder.Failed(action, operation.startedAt, kind, message).
		WithOutput(executionResult.StandardOutput, executionResult.StandardError, executionResult.ExitCode)
}
