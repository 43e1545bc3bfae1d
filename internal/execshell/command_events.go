package execshell

// CommandEventObserver receives lifecycle notifications for executed commands.
type CommandEventObserver interface {
	// CommandStarted fires before the process is launched.
	CommandStarted(command ShellCommand)
	// CommandCompleted fires once the process exited, whatever its status.
	CommandCompleted(command ShellCommand, result ExecutionResult)
	// CommandExecutionFailed fires when no result could be produced.
	CommandExecutionFailed(command ShellCommand, failure error)
}

type noopCommandEventObserver struct{}

func (noopCommandEventObserver) CommandStarted(ShellCommand) {}

func (noopCommandEventObserver) CommandCompleted(ShellCommand, ExecutionResult) {}

func (noopCommandEventObserver) CommandExecutionFailed(ShellCommand, error) {}

// ObserverGroup forwards every event to each member in order.
type ObserverGroup []CommandEventObserver

// CommandStarted notifies each member.
func (group ObserverGroup) CommandStarted(command ShellCommand) {
	for _, member := range group {
		if member != nil {
			member.CommandStarted(command)
		}
	}
}

// CommandCompleted notifies each member.
func (group ObserverGroup) CommandCompleted(command ShellCommand, result ExecutionResult) {
	for _, member := range group {
		if member != nil {
			member.CommandCompleted(command, result)
		}
	}
}

// CommandExecutionFailed notifies each member.
func (group ObserverGroup) CommandExecutionFailed(command ShellCommand, failure error) {
	for _, member := range group {
		if member != nil {
			member.CommandExecutionFailed(command, failure)
		}
	}
}
