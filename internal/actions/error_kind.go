package actions

import "net/http"

// ErrorKind tags a failed or noteworthy Result with a machine-checkable cause.
type ErrorKind string

// Error kinds carried on Results.
const (
	ErrorKindInvalidRepo                ErrorKind = ErrorKind("invalid_repo")
	ErrorKindInvalidInput               ErrorKind = ErrorKind("invalid_input")
	ErrorKindBranchGuard                ErrorKind = ErrorKind("branch_guard")
	ErrorKindNothingToCommit            ErrorKind = ErrorKind("nothing_to_commit")
	ErrorKindUnexpectedChangesNoContext ErrorKind = ErrorKind("unexpected_changes_no_context")
	ErrorKindGitFailed                  ErrorKind = ErrorKind("git_failed")
	ErrorKindPushFailed                 ErrorKind = ErrorKind("push_failed")
	ErrorKindGitHubMissing              ErrorKind = ErrorKind("gh_missing")
	ErrorKindGitHubNotAuthenticated     ErrorKind = ErrorKind("gh_not_auth")
	ErrorKindGitHubFailed               ErrorKind = ErrorKind("gh_failed")
	ErrorKindNoCommits                  ErrorKind = ErrorKind("no_commits")
	ErrorKindBaseMissing                ErrorKind = ErrorKind("base_missing")
	ErrorKindHeadMissing                ErrorKind = ErrorKind("head_missing")
	ErrorKindRefLock                    ErrorKind = ErrorKind("ref_lock")
	ErrorKindResolveRefFailed           ErrorKind = ErrorKind("resolve_ref_failed")
	ErrorKindDanglingRef                ErrorKind = ErrorKind("dangling_ref")
	ErrorKindRefRepairFailed            ErrorKind = ErrorKind("ref_repair_failed")
	ErrorKindUpstreamUnavailable        ErrorKind = ErrorKind("upstream_unavailable")
	ErrorKindUpstreamMissing            ErrorKind = ErrorKind("upstream_missing")
	ErrorKindUpstreamNonOrigin          ErrorKind = ErrorKind("upstream_non_origin")
	ErrorKindConflict                   ErrorKind = ErrorKind("conflict")
	ErrorKindInternal                   ErrorKind = ErrorKind("internal")
)

// HTTPStatus maps a Result to the status code returned by synchronous endpoints.
func HTTPStatus(result Result) int {
	if result.OK {
		return http.StatusOK
	}
	switch result.ErrorKind {
	case ErrorKindInvalidRepo, ErrorKindInvalidInput:
		return http.StatusBadRequest
	case ErrorKindInternal, "":
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}
