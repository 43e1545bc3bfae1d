package workflow

import (
	"errors"
	"fmt"
)

const (
	extractionErrorTemplate     = "could not locate valid JSON output from the workflow tool: %s"
	toolFailedTemplate          = "workflow tool failed (code %d) and no JSON output found: %s"
	routineResultErrorTemplate  = "routine apply failed (code %d) and its JSON result lacks an 'ok' field: %s"
	invalidRoutineTemplate      = "invalid routine id %q"
	confirmationRejectedMessage = "Invalid, expired, or mismatched confirmation token."
)

// ErrConfirmationRejected is returned for any token that fails validation. It
// never says why.
var ErrConfirmationRejected = errors.New(confirmationRejectedMessage)

// ExtractionError reports a zero exit with no recoverable JSON.
type ExtractionError struct {
	Details string
}

// Error includes the redacted output snippets.
func (extractionError ExtractionError) Error() string {
	return fmt.Sprintf(extractionErrorTemplate, extractionError.Details)
}

// ToolFailedError reports a non-zero exit with no recoverable JSON.
type ToolFailedError struct {
	ExitCode int
	Details  string
}

// Error includes the exit code and redacted output snippets.
func (toolError ToolFailedError) Error() string {
	return fmt.Sprintf(toolFailedTemplate, toolError.ExitCode, toolError.Details)
}

// RoutineResultError reports a failed apply whose payload carries no ok field.
type RoutineResultError struct {
	ExitCode int
	Details  string
}

// Error describes the unusable result.
func (resultError RoutineResultError) Error() string {
	return fmt.Sprintf(routineResultErrorTemplate, resultError.ExitCode, resultError.Details)
}

// InvalidRoutineError rejects a malformed routine id.
type InvalidRoutineError struct {
	RoutineID string
}

// Error names the rejected id.
func (routineError InvalidRoutineError) Error() string {
	return fmt.Sprintf(invalidRoutineTemplate, routineError.RoutineID)
}
