package workflow

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultMaxScanStarts caps how many opening brackets the balanced scan tries per bracket type.
	DefaultMaxScanStarts = 50

	jsonFileSuffixConstant = ".json"
	parentDirectoryMarker  = ".."
	nullLiteralConstant    = "null"
)

// ExtractionInput is what each strategy gets to look at.
type ExtractionInput struct {
	Stdout         string
	RepositoryPath string
}

// ExtractionStrategy recovers a JSON payload from tool output, or reports nothing.
type ExtractionStrategy interface {
	Name() string
	Extract(input ExtractionInput) (json.RawMessage, bool)
}

// ExtractionChain tries strategies in order and returns the first payload found.
type ExtractionChain []ExtractionStrategy

// Extract runs the chain. The second return value names the strategy that matched.
func (chain ExtractionChain) Extract(input ExtractionInput) (json.RawMessage, string, bool) {
	for _, strategy := range chain {
		if payload, found := strategy.Extract(input); found {
			return payload, strategy.Name(), true
		}
	}
	return nil, "", false
}

// WholeDocumentStrategy parses all of stdout as JSON.
type WholeDocumentStrategy struct{}

// Name identifies the strategy.
func (WholeDocumentStrategy) Name() string { return "stdout" }

// Extract parses the trimmed stdout.
func (WholeDocumentStrategy) Extract(input ExtractionInput) (json.RawMessage, bool) {
	return parsePayload([]byte(strings.TrimSpace(input.Stdout)))
}

// BalancedScanStrategy finds the first balanced JSON object, then array, embedded in stdout.
type BalancedScanStrategy struct {
	MaxStarts int
}

// Name identifies the strategy.
func (BalancedScanStrategy) Name() string { return "stdout_scan" }

// Extract scans objects before arrays.
func (strategy BalancedScanStrategy) Extract(input ExtractionInput) (json.RawMessage, bool) {
	text := strings.TrimSpace(input.Stdout)
	if len(text) == 0 {
		return nil, false
	}
	maxStarts := strategy.MaxStarts
	if maxStarts <= 0 {
		maxStarts = DefaultMaxScanStarts
	}
	if payload, found := scanBalanced(text, '{', '}', maxStarts); found {
		return payload, true
	}
	return scanBalanced(text, '[', ']', maxStarts)
}

// scanBalanced tries at most maxStarts opening positions. Brackets inside
// string literals are ignored; a balanced but invalid candidate moves on to
// the next start.
func scanBalanced(text string, openBracket byte, closeBracket byte, maxStarts int) (json.RawMessage, bool) {
	attempts := 0
	for start := 0; start < len(text) && attempts < maxStarts; start++ {
		if text[start] != openBracket {
			continue
		}
		attempts++
		depth := 0
		inString := false
		escaped := false
		for index := start; index < len(text); index++ {
			character := text[index]
			if inString {
				switch {
				case escaped:
					escaped = false
				case character == '\\':
					escaped = true
				case character == '"':
					inString = false
				}
				continue
			}
			if character == '"' {
				inString = true
				continue
			}
			if character == openBracket {
				depth++
			} else if character == closeBracket {
				depth--
				if depth == 0 {
					if payload, valid := parsePayload([]byte(text[start : index+1])); valid {
						return payload, true
					}
					break
				}
			}
		}
	}
	return nil, false
}

// StdoutPathStrategy treats stdout, or a whitespace-separated token of it, as
// the path of a JSON file inside the repository.
type StdoutPathStrategy struct{}

// Name identifies the strategy.
func (StdoutPathStrategy) Name() string { return "stdout_path" }

// Extract reads the first referenced file that resolves inside the repository.
func (StdoutPathStrategy) Extract(input ExtractionInput) (json.RawMessage, bool) {
	if len(input.RepositoryPath) == 0 {
		return nil, false
	}
	candidates := make([]string, 0)
	if trimmed := strings.TrimSpace(input.Stdout); strings.HasSuffix(trimmed, jsonFileSuffixConstant) {
		candidates = append(candidates, trimmed)
	}
	for _, token := range strings.Fields(input.Stdout) {
		if strings.HasSuffix(token, jsonFileSuffixConstant) {
			candidates = append(candidates, token)
		}
	}
	for _, candidate := range candidates {
		resolvedPath, inside := ResolveInside(input.RepositoryPath, candidate)
		if !inside {
			continue
		}
		if payload, found := readPayloadFile(resolvedPath); found {
			return payload, true
		}
	}
	return nil, false
}

// FallbackFileStrategy reads the first well-known output file that holds JSON.
type FallbackFileStrategy struct {
	Paths []string
}

// Name identifies the strategy.
func (FallbackFileStrategy) Name() string { return "fallback_file" }

// Extract reads Paths in order.
func (strategy FallbackFileStrategy) Extract(ExtractionInput) (json.RawMessage, bool) {
	for _, candidate := range strategy.Paths {
		if payload, found := readPayloadFile(candidate); found {
			return payload, true
		}
	}
	return nil, false
}

// ResolveInside resolves candidate against base, following symlinks, and
// reports whether the result is an existing regular file within base.
func ResolveInside(base string, candidate string) (string, bool) {
	resolvedBase, baseError := filepath.EvalSymlinks(base)
	if baseError != nil {
		return "", false
	}
	resolvedBase, baseError = filepath.Abs(resolvedBase)
	if baseError != nil {
		return "", false
	}
	joined := candidate
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(resolvedBase, joined)
	}
	resolvedCandidate, candidateError := filepath.EvalSymlinks(joined)
	if candidateError != nil {
		return "", false
	}
	relative, relativeError := filepath.Rel(resolvedBase, resolvedCandidate)
	if relativeError != nil || relative == parentDirectoryMarker || strings.HasPrefix(relative, parentDirectoryMarker+string(filepath.Separator)) {
		return "", false
	}
	fileInfo, statError := os.Stat(resolvedCandidate)
	if statError != nil || !fileInfo.Mode().IsRegular() {
		return "", false
	}
	return resolvedCandidate, true
}

func readPayloadFile(path string) (json.RawMessage, bool) {
	contents, readError := os.ReadFile(path)
	if readError != nil {
		return nil, false
	}
	return parsePayload(bytes.TrimSpace(contents))
}

func parsePayload(candidate []byte) (json.RawMessage, bool) {
	if len(candidate) == 0 || !json.Valid(candidate) || string(candidate) == nullLiteralConstant {
		return nil, false
	}
	payload := make(json.RawMessage, len(candidate))
	copy(payload, candidate)
	return payload, true
}
