package gitref

import (
	"regexp"
	"strings"

	"github.com/temirov/acs/internal/actions"
)

const (
	refLockHintConstant        = "Unable to lock local ref; remote tracking refs may be inconsistent."
	resolveRefHintConstant     = "Unable to resolve local ref; remote tracking refs may be inconsistent."
	danglingRefHintConstant    = "Local ref has become dangling; remote tracking refs may be inconsistent."
	packedRefsHintConstant     = "Packed refs appear corrupt; repacking refs may be required."
	refCaptureGroupConstant    = 1
	refQuoteCharactersConstant = "'\"`"
)

// Classification is the structured cause extracted from ref-manipulation stderr.
type Classification struct {
	ErrorKind   actions.ErrorKind
	Hint        string
	AffectedRef string
}

// Recognized reports whether the text matched one of the known ref failure shapes.
func (classification Classification) Recognized() bool {
	return classification.ErrorKind != actions.ErrorKindGitFailed
}

type refFailureShape struct {
	pattern   *regexp.Regexp
	errorKind actions.ErrorKind
	hint      string
	capturing bool
}

// Order matters: a lock failure frequently quotes an unresolved reference as its cause.
var refFailureShapes = []refFailureShape{
	{
		pattern:   regexp.MustCompile(`(?i)cannot lock ref\s+'([^']+)'`),
		errorKind: actions.ErrorKindRefLock,
		hint:      refLockHintConstant,
		capturing: true,
	},
	{
		pattern:   regexp.MustCompile(`(?i)unable to resolve reference\s+'([^']+)'`),
		errorKind: actions.ErrorKindResolveRefFailed,
		hint:      resolveRefHintConstant,
		capturing: true,
	},
	{
		pattern:   regexp.MustCompile(`(?i)(\S+)\s+has become dangling`),
		errorKind: actions.ErrorKindDanglingRef,
		hint:      danglingRefHintConstant,
		capturing: true,
	},
	{
		pattern:   regexp.MustCompile(`(?i)dangling\s+(?:symref|ref|reference)\s+(\S+)`),
		errorKind: actions.ErrorKindDanglingRef,
		hint:      danglingRefHintConstant,
		capturing: true,
	},
	{
		pattern:   regexp.MustCompile(`(?i)packed[- ]refs?\b.*\b(?:corrupt|bad|unterminated|unexpected)|(?:corrupt|bad|unterminated|unexpected)\b.*\bpacked[- ]refs?`),
		errorKind: actions.ErrorKindRefRepairFailed,
		hint:      packedRefsHintConstant,
	},
}

// Classify maps stderr text from fetch, update-ref, or pack-refs onto an error kind.
// Unmatched text yields git_failed with no hint.
func Classify(standardError string) Classification {
	for _, shape := range refFailureShapes {
		matches := shape.pattern.FindStringSubmatch(standardError)
		if matches == nil {
			continue
		}
		classification := Classification{ErrorKind: shape.errorKind, Hint: shape.hint}
		if shape.capturing && len(matches) > refCaptureGroupConstant {
			classification.AffectedRef = strings.Trim(matches[refCaptureGroupConstant], refQuoteCharactersConstant)
		}
		return classification
	}
	return Classification{ErrorKind: actions.ErrorKindGitFailed}
}
