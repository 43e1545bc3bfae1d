package progress

import (
	"fmt"
	"strings"

	"github.com/temirov/acs/internal/execshell"
)

type messageStage int

const (
	messageStageStart messageStage = iota
	messageStageSuccess
	messageStageFailure
	messageStageExecutionFailure
)

const (
	gitRevParseSubcommandConstant   = "rev-parse"
	gitAbbrevRefFlagConstant        = "--abbrev-ref"
	gitUpstreamReferenceConstant    = "@{u}"
	gitRemoteSubcommandConstant     = "remote"
	gitGetURLSubcommandConstant     = "get-url"
	gitSetURLSubcommandConstant     = "set-url"
	gitPruneSubcommandConstant      = "prune"
	gitStatusSubcommandConstant     = "status"
	gitShowRefSubcommandConstant    = "show-ref"
	gitCheckoutSubcommandConstant   = "checkout"
	gitCreateBranchFlagConstant     = "-b"
	gitFetchSubcommandConstant      = "fetch"
	gitPushSubcommandConstant       = "push"
	gitLSRemoteSubcommandConstant   = "ls-remote"
	gitHeadsFlagConstant            = "--heads"
	gitAddSubcommandConstant        = "add"
	gitAllFlagConstant              = "-A"
	gitCommitSubcommandConstant     = "commit"
	gitMessageFlagConstant          = "-m"
	gitDiffSubcommandConstant       = "diff"
	gitCachedFlagConstant           = "--cached"
	gitApplySubcommandConstant      = "apply"
	gitCheckFlagConstant            = "--check"
	gitUpdateRefSubcommandConstant  = "update-ref"
	gitPackRefsSubcommandConstant   = "pack-refs"
	gitRevListSubcommandConstant    = "rev-list"
	gitListFilesSubcommandConstant  = "ls-files"
	gitHashObjectSubcommandConstant = "hash-object"
	githubVersionFlagConstant       = "--version"
	githubAuthSubcommandConstant    = "auth"
	githubPullRequestSubcommand     = "pr"
	githubCreateSubcommandConstant  = "create"
	githubListSubcommandConstant    = "list"
	githubBaseFlagConstant          = "--base"
	githubHeadFlagConstant          = "--head"
	refspecSeparatorConstant        = ":"
	flagPrefixConstant              = "-"
	referenceJoinSeparatorConstant  = ", "
	currentDirectoryLabelConstant   = "current directory"
	unknownValueLabelConstant       = "unknown"
	allChangesLabelConstant         = "all changes"
	upstreamMissingSuccessTemplate  = "No upstream branch configured in %s"
)

// lifecycleTemplates hold the four messages of one command. Failure templates
// take the subjects followed by the exit code and standard error suffix;
// execution failure templates take the subjects followed by the cause.
type lifecycleTemplates struct {
	start            string
	success          string
	failure          string
	executionFailure string
}

var (
	upstreamTemplates = lifecycleTemplates{
		start:            "Checking upstream branch configuration in %s",
		success:          "Upstream branch in %s is %s",
		failure:          "Failed to check upstream branch configuration in %s (exit code %d%s)",
		executionFailure: "Unable to check upstream branch configuration in %s: %s",
	}
	currentBranchTemplates = lifecycleTemplates{
		start:            "Identifying current branch in %s",
		success:          "Current branch in %s is %s",
		failure:          "Failed to identify current branch in %s (exit code %d%s)",
		executionFailure: "Unable to identify current branch in %s: %s",
	}
	revisionTemplates = lifecycleTemplates{
		start:            "Resolving %s in %s",
		success:          "Resolved %s in %s",
		failure:          "Failed to resolve %s in %s (exit code %d%s)",
		executionFailure: "Unable to resolve %s in %s: %s",
	}
	remoteLookupTemplates = lifecycleTemplates{
		start:            "Checking %s remote for %s",
		success:          "Read %s remote for %s",
		failure:          "Failed to read %s remote for %s (exit code %d%s)",
		executionFailure: "Unable to read %s remote for %s: %s",
	}
	remoteUpdateTemplates = lifecycleTemplates{
		start:            "Updating %s remote for %s to %s",
		success:          "%s remote for %s now points to %s",
		failure:          "Failed to update %s remote for %s to %s (exit code %d%s)",
		executionFailure: "Unable to update %s remote for %s to %s: %s",
	}
	remotePruneTemplates = lifecycleTemplates{
		start:            "Pruning stale %s references in %s",
		success:          "Pruned stale %s references in %s",
		failure:          "Failed to prune stale %s references in %s (exit code %d%s)",
		executionFailure: "Unable to prune stale %s references in %s: %s",
	}
	statusTemplates = lifecycleTemplates{
		start:            "Reviewing working tree status in %s",
		success:          "Collected working tree status for %s",
		failure:          "Failed to review working tree status in %s (exit code %d%s)",
		executionFailure: "Unable to review working tree status in %s: %s",
	}
	branchLookupTemplates = lifecycleTemplates{
		start:            "Checking whether %s exists in %s",
		success:          "Checked whether %s exists in %s",
		failure:          "Reference %s not found in %s (exit code %d%s)",
		executionFailure: "Unable to check whether %s exists in %s: %s",
	}
	checkoutTemplates = lifecycleTemplates{
		start:            "Switching %s to branch %s",
		success:          "%s now on branch %s",
		failure:          "Failed to switch %s to branch %s (exit code %d%s)",
		executionFailure: "Unable to switch %s to branch %s: %s",
	}
	branchCreationTemplates = lifecycleTemplates{
		start:            "Creating branch %s in %s",
		success:          "Created branch %s in %s",
		failure:          "Failed to create branch %s in %s (exit code %d%s)",
		executionFailure: "Unable to create branch %s in %s: %s",
	}
	fetchTemplates = lifecycleTemplates{
		start:            "Fetching %s from %s in %s",
		success:          "Fetched %s from %s in %s",
		failure:          "Failed to fetch %s from %s in %s (exit code %d%s)",
		executionFailure: "Unable to fetch %s from %s in %s: %s",
	}
	fetchWithoutReferencesTemplates = lifecycleTemplates{
		start:            "Fetching from %s in %s",
		success:          "Fetched from %s in %s",
		failure:          "Failed to fetch from %s in %s (exit code %d%s)",
		executionFailure: "Unable to fetch from %s in %s: %s",
	}
	pushTemplates = lifecycleTemplates{
		start:            "Pushing %s to %s from %s",
		success:          "Pushed %s to %s from %s",
		failure:          "Failed to push %s to %s from %s (exit code %d%s)",
		executionFailure: "Unable to push %s to %s from %s: %s",
	}
	remoteHeadsTemplates = lifecycleTemplates{
		start:            "Listing branches on %s from %s",
		success:          "Listed branches on %s from %s",
		failure:          "Failed to list branches on %s from %s (exit code %d%s)",
		executionFailure: "Unable to list branches on %s from %s: %s",
	}
	remoteReferencesTemplates = lifecycleTemplates{
		start:            "Querying remote references on %s from %s",
		success:          "Queried remote references on %s from %s",
		failure:          "Failed to query remote references on %s from %s (exit code %d%s)",
		executionFailure: "Unable to query remote references on %s from %s: %s",
	}
	addTemplates = lifecycleTemplates{
		start:            "Staging %s in %s",
		success:          "Staged %s in %s",
		failure:          "Failed to stage %s in %s (exit code %d%s)",
		executionFailure: "Unable to stage %s in %s: %s",
	}
	commitTemplates = lifecycleTemplates{
		start:            "Creating commit in %s with message %q",
		success:          "Created commit in %s with message %q",
		failure:          "Failed to create commit in %s with message %q (exit code %d%s)",
		executionFailure: "Unable to create commit in %s with message %q: %s",
	}
	stagedDiffTemplates = lifecycleTemplates{
		start:            "Reading staged changes in %s",
		success:          "Read staged changes in %s",
		failure:          "Failed to read staged changes in %s (exit code %d%s)",
		executionFailure: "Unable to read staged changes in %s: %s",
	}
	unstagedDiffTemplates = lifecycleTemplates{
		start:            "Reading unstaged changes in %s",
		success:          "Read unstaged changes in %s",
		failure:          "Failed to read unstaged changes in %s (exit code %d%s)",
		executionFailure: "Unable to read unstaged changes in %s: %s",
	}
	patchCheckTemplates = lifecycleTemplates{
		start:            "Checking patch against %s",
		success:          "Patch applies cleanly to %s",
		failure:          "Patch does not apply to %s (exit code %d%s)",
		executionFailure: "Unable to check patch against %s: %s",
	}
	patchApplyTemplates = lifecycleTemplates{
		start:            "Applying patch to %s",
		success:          "Applied patch to %s",
		failure:          "Failed to apply patch to %s (exit code %d%s)",
		executionFailure: "Unable to apply patch to %s: %s",
	}
	referenceDeletionTemplates = lifecycleTemplates{
		start:            "Deleting reference %s in %s",
		success:          "Deleted reference %s in %s",
		failure:          "Failed to delete reference %s in %s (exit code %d%s)",
		executionFailure: "Unable to delete reference %s in %s: %s",
	}
	packReferencesTemplates = lifecycleTemplates{
		start:            "Packing references in %s",
		success:          "Packed references in %s",
		failure:          "Failed to pack references in %s (exit code %d%s)",
		executionFailure: "Unable to pack references in %s: %s",
	}
	commitCountTemplates = lifecycleTemplates{
		start:            "Counting commits in %s for %s",
		success:          "Counted commits in %s for %s",
		failure:          "Failed to count commits in %s for %s (exit code %d%s)",
		executionFailure: "Unable to count commits in %s for %s: %s",
	}
	untrackedListingTemplates = lifecycleTemplates{
		start:            "Listing untracked files in %s",
		success:          "Listed untracked files in %s",
		failure:          "Failed to list untracked files in %s (exit code %d%s)",
		executionFailure: "Unable to list untracked files in %s: %s",
	}
	untrackedHashingTemplates = lifecycleTemplates{
		start:            "Hashing %d untracked files in %s",
		success:          "Hashed %d untracked files in %s",
		failure:          "Failed to hash %d untracked files in %s (exit code %d%s)",
		executionFailure: "Unable to hash %d untracked files in %s: %s",
	}
	githubVersionTemplates = lifecycleTemplates{
		start:            "Checking GitHub CLI version",
		success:          "GitHub CLI is available",
		failure:          "GitHub CLI version check failed (exit code %d%s)",
		executionFailure: "Unable to run GitHub CLI: %s",
	}
	githubAuthTemplates = lifecycleTemplates{
		start:            "Checking GitHub CLI authentication for %s",
		success:          "GitHub CLI is authenticated for %s",
		failure:          "GitHub CLI is not authenticated for %s (exit code %d%s)",
		executionFailure: "Unable to check GitHub CLI authentication for %s: %s",
	}
	pullRequestCreateTemplates = lifecycleTemplates{
		start:            "Opening pull request from %s into %s in %s",
		success:          "Opened pull request from %s into %s in %s",
		failure:          "Failed to open pull request from %s into %s in %s (exit code %d%s)",
		executionFailure: "Unable to open pull request from %s into %s in %s: %s",
	}
	pullRequestLookupTemplates = lifecycleTemplates{
		start:            "Looking up open pull request from %s into %s in %s",
		success:          "Looked up open pull request from %s into %s in %s",
		failure:          "Failed to look up open pull request from %s into %s in %s (exit code %d%s)",
		executionFailure: "Unable to look up open pull request from %s into %s in %s: %s",
	}
)

// commandDescription pairs the templates with the values they describe.
type commandDescription struct {
	templates       lifecycleTemplates
	subjects        []any
	successOverride string
}

func (description commandDescription) render(stage messageStage, result execshell.ExecutionResult, standardErrorSuffix string, failureMessage string) string {
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(description.templates.start, description.subjects...)
	case messageStageSuccess:
		if len(description.successOverride) > 0 {
			return description.successOverride
		}
		return fmt.Sprintf(description.templates.success, description.subjects...)
	case messageStageFailure:
		return fmt.Sprintf(description.templates.failure, append(append([]any{}, description.subjects...), result.ExitCode, standardErrorSuffix)...)
	default:
		return fmt.Sprintf(description.templates.executionFailure, append(append([]any{}, description.subjects...), failureMessage)...)
	}
}

// describe returns the subcommand-specific description, or false when the
// command should be rendered with its generic label.
func (formatter CommandEventFormatter) describe(command execshell.ShellCommand, result execshell.ExecutionResult) (commandDescription, bool) {
	arguments := command.Details.Arguments
	if len(arguments) == 0 {
		return commandDescription{}, false
	}
	switch command.Name {
	case execshell.CommandGit:
		return formatter.describeGit(command, result)
	case execshell.CommandGitHub:
		return formatter.describeGitHub(command)
	default:
		return commandDescription{}, false
	}
}

func (formatter CommandEventFormatter) describeGit(command execshell.ShellCommand, result execshell.ExecutionResult) (commandDescription, bool) {
	arguments := command.Details.Arguments
	workingDirectory := formatter.workingDirectory(command)
	operands := nonFlagArguments(arguments[1:])

	switch strings.TrimSpace(arguments[0]) {
	case gitRevParseSubcommandConstant:
		output := strings.TrimSpace(result.StandardOutput)
		switch {
		case containsArgument(arguments, gitUpstreamReferenceConstant):
			description := commandDescription{templates: upstreamTemplates, subjects: []any{workingDirectory}}
			if len(output) == 0 {
				description.successOverride = fmt.Sprintf(upstreamMissingSuccessTemplate, workingDirectory)
			} else {
				description.successOverride = fmt.Sprintf(upstreamTemplates.success, workingDirectory, formatter.value(output))
			}
			return description, true
		case containsArgument(arguments, gitAbbrevRefFlagConstant):
			description := commandDescription{templates: currentBranchTemplates, subjects: []any{workingDirectory}}
			description.successOverride = fmt.Sprintf(currentBranchTemplates.success, workingDirectory, formatter.value(output))
			return description, true
		default:
			return commandDescription{templates: revisionTemplates, subjects: []any{formatter.value(lastArgument(operands)), workingDirectory}}, true
		}
	case gitRemoteSubcommandConstant:
		if len(operands) < 2 {
			return commandDescription{}, false
		}
		switch operands[0] {
		case gitGetURLSubcommandConstant:
			return commandDescription{templates: remoteLookupTemplates, subjects: []any{formatter.value(operands[1]), workingDirectory}}, true
		case gitSetURLSubcommandConstant:
			return commandDescription{templates: remoteUpdateTemplates, subjects: []any{formatter.value(operands[1]), workingDirectory, formatter.value(argumentAt(operands, 2))}}, true
		case gitPruneSubcommandConstant:
			return commandDescription{templates: remotePruneTemplates, subjects: []any{formatter.value(operands[1]), workingDirectory}}, true
		}
		return commandDescription{}, false
	case gitStatusSubcommandConstant:
		return commandDescription{templates: statusTemplates, subjects: []any{workingDirectory}}, true
	case gitShowRefSubcommandConstant:
		return commandDescription{templates: branchLookupTemplates, subjects: []any{formatter.value(lastArgument(operands)), workingDirectory}}, true
	case gitCheckoutSubcommandConstant:
		if containsArgument(arguments, gitCreateBranchFlagConstant) {
			return commandDescription{templates: branchCreationTemplates, subjects: []any{formatter.value(flagValue(arguments, gitCreateBranchFlagConstant)), workingDirectory}}, true
		}
		return commandDescription{templates: checkoutTemplates, subjects: []any{workingDirectory, formatter.value(argumentAt(operands, 0))}}, true
	case gitFetchSubcommandConstant:
		remoteName := formatter.value(argumentAt(operands, 0))
		if len(operands) < 2 {
			return commandDescription{templates: fetchWithoutReferencesTemplates, subjects: []any{remoteName, workingDirectory}}, true
		}
		return commandDescription{templates: fetchTemplates, subjects: []any{formatter.joinReferences(operands[1:]), remoteName, workingDirectory}}, true
	case gitPushSubcommandConstant:
		return commandDescription{templates: pushTemplates, subjects: []any{formatter.value(argumentAt(operands, 1)), formatter.value(argumentAt(operands, 0)), workingDirectory}}, true
	case gitLSRemoteSubcommandConstant:
		remoteName := formatter.value(argumentAt(operands, 0))
		if containsArgument(arguments, gitHeadsFlagConstant) {
			return commandDescription{templates: remoteHeadsTemplates, subjects: []any{remoteName, workingDirectory}}, true
		}
		return commandDescription{templates: remoteReferencesTemplates, subjects: []any{remoteName, workingDirectory}}, true
	case gitAddSubcommandConstant:
		target := allChangesLabelConstant
		if !containsArgument(arguments, gitAllFlagConstant) {
			target = formatter.value(argumentAt(operands, 0))
		}
		return commandDescription{templates: addTemplates, subjects: []any{target, workingDirectory}}, true
	case gitCommitSubcommandConstant:
		return commandDescription{templates: commitTemplates, subjects: []any{workingDirectory, formatter.value(flagValue(arguments, gitMessageFlagConstant))}}, true
	case gitDiffSubcommandConstant:
		if containsArgument(arguments, gitCachedFlagConstant) {
			return commandDescription{templates: stagedDiffTemplates, subjects: []any{workingDirectory}}, true
		}
		return commandDescription{templates: unstagedDiffTemplates, subjects: []any{workingDirectory}}, true
	case gitApplySubcommandConstant:
		if containsArgument(arguments, gitCheckFlagConstant) {
			return commandDescription{templates: patchCheckTemplates, subjects: []any{workingDirectory}}, true
		}
		return commandDescription{templates: patchApplyTemplates, subjects: []any{workingDirectory}}, true
	case gitUpdateRefSubcommandConstant:
		return commandDescription{templates: referenceDeletionTemplates, subjects: []any{formatter.value(lastArgument(operands)), workingDirectory}}, true
	case gitPackRefsSubcommandConstant:
		return commandDescription{templates: packReferencesTemplates, subjects: []any{workingDirectory}}, true
	case gitRevListSubcommandConstant:
		return commandDescription{templates: commitCountTemplates, subjects: []any{workingDirectory, formatter.value(lastArgument(operands))}}, true
	case gitListFilesSubcommandConstant:
		return commandDescription{templates: untrackedListingTemplates, subjects: []any{workingDirectory}}, true
	case gitHashObjectSubcommandConstant:
		return commandDescription{templates: untrackedHashingTemplates, subjects: []any{len(operands), workingDirectory}}, true
	default:
		return commandDescription{}, false
	}
}

func (formatter CommandEventFormatter) describeGitHub(command execshell.ShellCommand) (commandDescription, bool) {
	arguments := command.Details.Arguments
	workingDirectory := formatter.workingDirectory(command)

	switch strings.TrimSpace(arguments[0]) {
	case githubVersionFlagConstant:
		return commandDescription{templates: githubVersionTemplates}, true
	case githubAuthSubcommandConstant:
		return commandDescription{templates: githubAuthTemplates, subjects: []any{workingDirectory}}, true
	case githubPullRequestSubcommand:
		head := formatter.value(flagValue(arguments, githubHeadFlagConstant))
		base := formatter.value(flagValue(arguments, githubBaseFlagConstant))
		switch argumentAt(arguments, 1) {
		case githubCreateSubcommandConstant:
			return commandDescription{templates: pullRequestCreateTemplates, subjects: []any{head, base, workingDirectory}}, true
		case githubListSubcommandConstant:
			return commandDescription{templates: pullRequestLookupTemplates, subjects: []any{head, base, workingDirectory}}, true
		}
	}
	return commandDescription{}, false
}

func (formatter CommandEventFormatter) workingDirectory(command execshell.ShellCommand) string {
	workingDirectory := strings.TrimSpace(command.Details.WorkingDirectory)
	if len(workingDirectory) == 0 {
		return currentDirectoryLabelConstant
	}
	return workingDirectory
}

// value redacts and shortens one rendered argument.
func (formatter CommandEventFormatter) value(argument string) string {
	trimmed := strings.TrimSpace(argument)
	if len(trimmed) == 0 {
		return unknownValueLabelConstant
	}
	return shorten(formatter.redactor.Redact(trimmed))
}

// joinReferences renders the source side of each refspec.
func (formatter CommandEventFormatter) joinReferences(refspecs []string) string {
	references := make([]string, 0, len(refspecs))
	for _, refspec := range refspecs {
		source, _, _ := strings.Cut(refspec, refspecSeparatorConstant)
		references = append(references, formatter.value(source))
	}
	return strings.Join(references, referenceJoinSeparatorConstant)
}

func containsArgument(arguments []string, value string) bool {
	for _, argument := range arguments {
		if strings.TrimSpace(argument) == value {
			return true
		}
	}
	return false
}

func flagValue(arguments []string, flag string) string {
	for index := 0; index < len(arguments)-1; index++ {
		if strings.TrimSpace(arguments[index]) == flag {
			return arguments[index+1]
		}
	}
	return ""
}

// nonFlagArguments drops flags and the values of flags that take one.
func nonFlagArguments(arguments []string) []string {
	operands := make([]string, 0, len(arguments))
	skipNext := false
	for _, argument := range arguments {
		if skipNext {
			skipNext = false
			continue
		}
		trimmed := strings.TrimSpace(argument)
		if trimmed == gitMessageFlagConstant || trimmed == gitCreateBranchFlagConstant {
			skipNext = true
			continue
		}
		if strings.HasPrefix(trimmed, flagPrefixConstant) && trimmed != flagPrefixConstant {
			continue
		}
		operands = append(operands, trimmed)
	}
	return operands
}

func argumentAt(arguments []string, index int) string {
	if index < 0 || index >= len(arguments) {
		return ""
	}
	return arguments[index]
}

func lastArgument(arguments []string) string {
	return argumentAt(arguments, len(arguments)-1)
}
