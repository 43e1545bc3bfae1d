package redaction

import (
	"regexp"
	"sort"
	"strings"
)

const (
	// Marker replaces every redacted secret.
	Marker = "[redacted]"

	minimumSensitiveValueLengthConstant = 4
	queryTokenReplacementConstant       = "${1}${2}=" + Marker
)

var (
	gitHubTokenPattern         = regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`)
	gitHubFineGrainedPattern   = regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`)
	tokenAssignmentPattern     = regexp.MustCompile(`(?i)(^|[^A-Za-z0-9_])(token|access_token)=([^&\s"']+)`)
	authorizationHeaderPattern = regexp.MustCompile(`(?i)(authorization:\s*(?:bearer|token)\s+)[^\s"']+`)
)

// Redactor scrubs credentials from free-form text.
type Redactor struct {
	sensitiveValues []string
}

// span is a half-open byte range of text covered by a sensitive value.
type span struct {
	start int
	end   int
}

// NewRedactor builds a Redactor that, in addition to the built-in credential
// patterns, replaces every occurrence of the supplied literal values.
// Values shorter than four characters are ignored.
func NewRedactor(sensitiveValues []string) *Redactor {
	return &Redactor{sensitiveValues: normalizeValues(sensitiveValues)}
}

// Redact returns text with all known secrets replaced by Marker.
func (redactor *Redactor) Redact(text string) string {
	if len(text) == 0 {
		return text
	}
	redactedText := text
	if redactor != nil && len(redactor.sensitiveValues) > 0 {
		redactedText = replaceSpans(redactedText, locateValues(redactedText, redactor.sensitiveValues))
	}
	redactedText = gitHubFineGrainedPattern.ReplaceAllLiteralString(redactedText, Marker)
	redactedText = gitHubTokenPattern.ReplaceAllLiteralString(redactedText, Marker)
	redactedText = authorizationHeaderPattern.ReplaceAllString(redactedText, "${1}"+Marker)
	redactedText = tokenAssignmentPattern.ReplaceAllString(redactedText, queryTokenReplacementConstant)
	return redactedText
}

// RedactAll applies Redact to every element, returning a new slice.
func (redactor *Redactor) RedactAll(texts []string) []string {
	if texts == nil {
		return nil
	}
	redactedTexts := make([]string, len(texts))
	for index, text := range texts {
		redactedTexts[index] = redactor.Redact(text)
	}
	return redactedTexts
}

// normalizeValues trims, filters and deduplicates the literal values, longest first.
func normalizeValues(sensitiveValues []string) []string {
	uniqueValues := make(map[string]struct{}, len(sensitiveValues))
	for _, sensitiveValue := range sensitiveValues {
		trimmedValue := strings.TrimSpace(sensitiveValue)
		if len(trimmedValue) < minimumSensitiveValueLengthConstant {
			continue
		}
		uniqueValues[trimmedValue] = struct{}{}
	}
	if len(uniqueValues) == 0 {
		return nil
	}

	orderedValues := make([]string, 0, len(uniqueValues))
	for uniqueValue := range uniqueValues {
		orderedValues = append(orderedValues, uniqueValue)
	}
	sort.Slice(orderedValues, func(left int, right int) bool {
		if len(orderedValues[left]) != len(orderedValues[right]) {
			return len(orderedValues[left]) > len(orderedValues[right])
		}
		return orderedValues[left] < orderedValues[right]
	})
	return orderedValues
}

// locateValues finds every occurrence of every value, including occurrences
// that overlap each other, and merges overlapping ranges so that partially
// overlapping secrets collapse into one redacted span.
func locateValues(text string, sensitiveValues []string) []span {
	var spans []span
	for _, sensitiveValue := range sensitiveValues {
		for offset := 0; offset < len(text); {
			index := strings.Index(text[offset:], sensitiveValue)
			if index < 0 {
				break
			}
			start := offset + index
			spans = append(spans, span{start: start, end: start + len(sensitiveValue)})
			offset = start + 1
		}
	}
	if len(spans) == 0 {
		return nil
	}

	sort.Slice(spans, func(left int, right int) bool {
		return spans[left].start < spans[right].start
	})
	merged := []span{spans[0]}
	for _, candidate := range spans[1:] {
		last := &merged[len(merged)-1]
		if candidate.start < last.end {
			if candidate.end > last.end {
				last.end = candidate.end
			}
			continue
		}
		merged = append(merged, candidate)
	}
	return merged
}

func replaceSpans(text string, spans []span) string {
	if len(spans) == 0 {
		return text
	}
	var builder strings.Builder
	previousEnd := 0
	for _, covered := range spans {
		builder.WriteString(text[previousEnd:covered.start])
		builder.WriteString(Marker)
		previousEnd = covered.end
	}
	builder.WriteString(text[previousEnd:])
	return builder.String()
}
