package gitrepo

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	branchNameErrorTemplateConstant   = "invalid branch name %q: %s"
	branchNameEmptyReasonConstant     = "must not be empty"
	branchNameCharacterReasonConstant = "only letters, digits, '.', '_', '/' and '-' are allowed"
	branchNameLeadingReasonConstant   = "must not start with '-'"
	branchNameTrailingReasonConstant  = "must not end with '.lock'"
	branchNameSequenceReasonTemplate  = "must not contain %q"
	defaultBranchNameTemplateConstant = "%s/%s-%s-%s"
	defaultBranchTimestampLayout      = "20060102-150405"
	defaultBranchSuffixLength         = 6
	lockSuffixConstant                = ".lock"
	leadingDashConstant               = "-"
)

var (
	branchNameCharacterPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
	forbiddenBranchSequences   = []string{"..", "//", "/.", "./", "@", "~", ":", "\\", " "}
	branchComponentSanitizer   = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// BranchNameError explains why a branch name was rejected.
type BranchNameError struct {
	Name   string
	Reason string
}

// Error describes the rejection.
func (branchError BranchNameError) Error() string {
	return fmt.Sprintf(branchNameErrorTemplateConstant, branchError.Name, branchError.Reason)
}

// ValidateBranchName accepts names built from letters, digits, '.', '_', '/'
// and '-' that avoid the forbidden sequences, a leading dash and a '.lock'
// suffix. Other git check-ref-format rules are left to git itself.
func ValidateBranchName(name string) error {
	if len(name) == 0 {
		return BranchNameError{Name: name, Reason: branchNameEmptyReasonConstant}
	}
	for _, forbiddenSequence := range forbiddenBranchSequences {
		if strings.Contains(name, forbiddenSequence) {
			return BranchNameError{Name: name, Reason: fmt.Sprintf(branchNameSequenceReasonTemplate, forbiddenSequence)}
		}
	}
	if !branchNameCharacterPattern.MatchString(name) {
		return BranchNameError{Name: name, Reason: branchNameCharacterReasonConstant}
	}
	if strings.HasPrefix(name, leadingDashConstant) {
		return BranchNameError{Name: name, Reason: branchNameLeadingReasonConstant}
	}
	if strings.HasSuffix(name, lockSuffixConstant) {
		return BranchNameError{Name: name, Reason: branchNameTrailingReasonConstant}
	}
	return nil
}

// DefaultBranchName derives <prefix>/<repo>-<timestamp>-<random> for publishes that did not name a branch.
func DefaultBranchName(prefix string, repositoryKey string, now time.Time) string {
	randomSuffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:defaultBranchSuffixLength]
	return fmt.Sprintf(
		defaultBranchNameTemplateConstant,
		sanitizeBranchComponent(prefix),
		sanitizeBranchComponent(repositoryKey),
		now.UTC().Format(defaultBranchTimestampLayout),
		randomSuffix,
	)
}

func sanitizeBranchComponent(component string) string {
	sanitized := branchComponentSanitizer.ReplaceAllString(strings.TrimSpace(component), "-")
	sanitized = strings.Trim(sanitized, ".-")
	for strings.Contains(sanitized, "..") {
		sanitized = strings.ReplaceAll(sanitized, "..", ".")
	}
	if len(sanitized) == 0 {
		return "acs"
	}
	return sanitized
}
