package workflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/acs/internal/confirm"
	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/repos"
	"github.com/temirov/acs/internal/telemetry"
)

const (
	defaultBinaryConstant          = "wgx"
	defaultOutputDirectoryConstant = ".wgx/out"
	defaultAuditTimeout            = 60 * time.Second
	defaultPreviewTimeout          = 60 * time.Second
	defaultApplyTimeout            = 300 * time.Second
	auditSubcommandConstant        = "audit"
	gitTargetConstant              = "git"
	repoFlagConstant               = "--repo"
	correlationFlagConstant        = "--correlation-id"
	stdoutJSONFlagConstant         = "--stdout-json"
	routineSubcommandConstant      = "routine"
	previewModeConstant            = "preview"
	applyModeConstant              = "apply"
	auditArtifactPrefixConstant    = "audit.git.v1"
	genericAuditArtifactName       = "audit.git.v1.json"
	specificAuditArtifactTemplate  = "audit.git.v1.%s.json"
	routinePreviewFileName         = "routine.preview.json"
	routineResultFileName          = "routine.result.json"
	exitCodeFieldConstant          = "_exit_code"
	okFieldConstant                = "ok"
	snippetLengthConstant          = 200
	escapedNewlineConstant         = "\\n"
	detailsTemplateConstant        = "stdout='%s' stderr='%s'"
	toolExecutionTemplate          = "workflow tool %s: %w"
	auditDecodeTemplate            = "decode audit artifact: %v"
	loggerNotConfiguredMessage     = "workflow adapter logger not configured"
	executorNotConfiguredMessage   = "workflow adapter executor not configured"
	redactorNotConfiguredMessage   = "workflow adapter redactor not configured"
	tokensNotConfiguredMessage     = "workflow adapter token store not configured"
	extractedLogMessageConstant    = "workflow output extracted"
	auditRetryLogMessageConstant   = "workflow audit stdout json unavailable, retrying in file mode"
	strategyLogFieldConstant       = "strategy"
	exitCodeLogFieldConstant       = "exit_code"
	routineLogFieldConstant        = "routine_id"
	repoLogFieldConstant           = "repo"
)

var (
	routineIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

	// ErrLoggerNotConfigured indicates a missing logger.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessage)
	// ErrExecutorNotConfigured indicates a missing command executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessage)
	// ErrRedactorNotConfigured indicates a missing redactor.
	ErrRedactorNotConfigured = errors.New(redactorNotConfiguredMessage)
	// ErrTokenStoreNotConfigured indicates a missing confirmation token store.
	ErrTokenStoreNotConfigured = errors.New(tokensNotConfiguredMessage)
)

// CommandExecutor runs the workflow tool.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// Redactor scrubs secrets from diagnostics.
type Redactor interface {
	Redact(text string) string
}

// TokenStore issues and consumes confirmation tokens.
type TokenStore interface {
	Create(subject confirm.Subject) string
	ValidateAndConsume(token string, repo string, routineID string, previewHash string) bool
}

// Configuration controls how the workflow tool is invoked.
type Configuration struct {
	Binary          string        `mapstructure:"binary" yaml:"binary"`
	OutputDirectory string        `mapstructure:"output_directory" yaml:"output_directory"`
	AuditTimeout    time.Duration `mapstructure:"audit_timeout" yaml:"audit_timeout"`
	PreviewTimeout  time.Duration `mapstructure:"preview_timeout" yaml:"preview_timeout"`
	ApplyTimeout    time.Duration `mapstructure:"apply_timeout" yaml:"apply_timeout"`
}

// DefaultConfiguration returns the stock workflow tool settings.
func DefaultConfiguration() Configuration {
	return Configuration{
		Binary:          defaultBinaryConstant,
		OutputDirectory: defaultOutputDirectoryConstant,
		AuditTimeout:    defaultAuditTimeout,
		PreviewTimeout:  defaultPreviewTimeout,
		ApplyTimeout:    defaultApplyTimeout,
	}
}

func (configuration Configuration) normalized() Configuration {
	defaults := DefaultConfiguration()
	if len(strings.TrimSpace(configuration.Binary)) == 0 {
		configuration.Binary = defaults.Binary
	}
	if len(strings.TrimSpace(configuration.OutputDirectory)) == 0 {
		configuration.OutputDirectory = defaults.OutputDirectory
	}
	if configuration.AuditTimeout <= 0 {
		configuration.AuditTimeout = defaults.AuditTimeout
	}
	if configuration.PreviewTimeout <= 0 {
		configuration.PreviewTimeout = defaults.PreviewTimeout
	}
	if configuration.ApplyTimeout <= 0 {
		configuration.ApplyTimeout = defaults.ApplyTimeout
	}
	return configuration
}

// Dependencies wires the collaborators of an Adapter.
type Dependencies struct {
	Logger   *zap.Logger
	Executor CommandExecutor
	Redactor Redactor
	Tokens   TokenStore
}

// RoutinePreview is returned by PreviewRoutine.
type RoutinePreview struct {
	Preview      any    `json:"preview"`
	ConfirmToken string `json:"confirm_token"`
	PreviewHash  string `json:"preview_hash"`
}

// RoutineResult is returned by ApplyRoutine.
type RoutineResult struct {
	Payload  any
	ExitCode int
}

// Reported returns the payload's ok field and whether it was present.
func (result RoutineResult) Reported() (bool, bool) {
	object, isObject := result.Payload.(map[string]any)
	if !isObject {
		return false, false
	}
	value, present := object[okFieldConstant]
	if !present {
		return false, false
	}
	reported, isBool := value.(bool)
	return reported, isBool
}

// Adapter drives the workflow tool.
type Adapter struct {
	logger        *zap.Logger
	executor      CommandExecutor
	redactor      Redactor
	tokens        TokenStore
	configuration Configuration
}

// NewAdapter validates dependencies and constructs an Adapter.
func NewAdapter(dependencies Dependencies, configuration Configuration) (*Adapter, error) {
	switch {
	case dependencies.Logger == nil:
		return nil, ErrLoggerNotConfigured
	case dependencies.Executor == nil:
		return nil, ErrExecutorNotConfigured
	case dependencies.Redactor == nil:
		return nil, ErrRedactorNotConfigured
	case dependencies.Tokens == nil:
		return nil, ErrTokenStoreNotConfigured
	}
	return &Adapter{
		logger:        dependencies.Logger,
		executor:      dependencies.Executor,
		redactor:      dependencies.Redactor,
		tokens:        dependencies.Tokens,
		configuration: configuration.normalized(),
	}, nil
}

// Configuration returns the effective settings.
func (adapter *Adapter) Configuration() Configuration {
	return adapter.configuration
}

// RunAudit asks the tool for a git audit, first on stdout and then in file
// mode. The returned record carries correlationID regardless of what the
// tool reported.
func (adapter *Adapter) RunAudit(executionContext context.Context, repository repos.Repository, correlationID string) (AuditGit, error) {
	arguments := []string{auditSubcommandConstant, gitTargetConstant, repoFlagConstant, repository.Key, correlationFlagConstant, correlationID}
	payload, exitCode, runError := adapter.run(executionContext, repository.Path, adapter.configuration.AuditTimeout, append(append([]string{}, arguments...), stdoutJSONFlagConstant), nil)
	if runError != nil {
		if !isMissingOutput(runError) {
			return AuditGit{}, runError
		}
		adapter.logger.Debug(auditRetryLogMessageConstant, zap.String(repoLogFieldConstant, repository.Key), zap.Error(runError))
		outputDirectory := adapter.outputDirectory(repository.Path)
		fallbackPaths := []string{
			filepath.Join(outputDirectory, fmt.Sprintf(specificAuditArtifactTemplate, correlationID)),
			filepath.Join(outputDirectory, genericAuditArtifactName),
		}
		payload, exitCode, runError = adapter.run(executionContext, repository.Path, adapter.configuration.AuditTimeout, arguments, fallbackPaths)
		if runError != nil {
			return AuditGit{}, runError
		}
	}

	audit, decodeError := decodeAudit(payload)
	if decodeError != nil {
		return AuditGit{}, decodeError
	}
	audit.ExitCode = &exitCode
	audit.CorrelationID = correlationID
	return audit, nil
}

// LatestAuditArtifact returns the newest valid audit artifact in the
// repository output directory. Correlation-specific files are preferred over
// the generic copy. A non-empty repositoryKey skips artifacts for other repos.
func (adapter *Adapter) LatestAuditArtifact(repository repos.Repository, repositoryKey string) (AuditGit, bool) {
	entries, readError := os.ReadDir(adapter.outputDirectory(repository.Path))
	if readError != nil {
		return AuditGit{}, false
	}

	type candidate struct {
		path     string
		modified time.Time
		generic  bool
	}
	candidates := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, auditArtifactPrefixConstant) || !strings.HasSuffix(name, jsonFileSuffixConstant) {
			continue
		}
		fileInfo, infoError := entry.Info()
		if infoError != nil || !fileInfo.Mode().IsRegular() {
			continue
		}
		candidates = append(candidates, candidate{
			path:     filepath.Join(adapter.outputDirectory(repository.Path), name),
			modified: fileInfo.ModTime(),
			generic:  name == genericAuditArtifactName,
		})
	}
	sort.SliceStable(candidates, func(left int, right int) bool {
		if candidates[left].generic != candidates[right].generic {
			return !candidates[left].generic
		}
		return candidates[left].modified.After(candidates[right].modified)
	})

	for _, artifact := range candidates {
		payload, found := readPayloadFile(artifact.path)
		if !found {
			continue
		}
		audit, decodeError := decodeAudit(payload)
		if decodeError != nil {
			continue
		}
		if len(repositoryKey) > 0 && audit.Repo != repositoryKey {
			continue
		}
		return audit, true
	}
	return AuditGit{}, false
}

// PreviewRoutine runs a routine in preview mode and issues a confirmation
// token bound to the repository, the routine, and the preview hash.
func (adapter *Adapter) PreviewRoutine(executionContext context.Context, repository repos.Repository, routineID string) (RoutinePreview, error) {
	if !ValidRoutineID(routineID) {
		return RoutinePreview{}, InvalidRoutineError{RoutineID: routineID}
	}
	fallbackPaths := []string{filepath.Join(adapter.outputDirectory(repository.Path), routinePreviewFileName)}
	payload, exitCode, runError := adapter.run(executionContext, repository.Path, adapter.configuration.PreviewTimeout, []string{routineSubcommandConstant, routineID, previewModeConstant}, fallbackPaths)
	if runError != nil {
		return RoutinePreview{}, runError
	}

	preview, decodeError := decodeWithExitCode(payload, exitCode)
	if decodeError != nil {
		return RoutinePreview{}, decodeError
	}
	previewHash, hashError := PreviewHash(preview)
	if hashError != nil {
		return RoutinePreview{}, hashError
	}
	token := adapter.tokens.Create(confirm.Subject{Repo: repository.Key, RoutineID: routineID, PreviewHash: previewHash})
	telemetry.ConfirmTokensIssued.Inc()
	return RoutinePreview{Preview: preview, ConfirmToken: token, PreviewHash: previewHash}, nil
}

// ApplyRoutine consumes the confirmation token and runs the routine. A
// non-zero exit is accepted only when the payload reports an ok field.
func (adapter *Adapter) ApplyRoutine(executionContext context.Context, repository repos.Repository, routineID string, token string, previewHash string) (RoutineResult, error) {
	if !ValidRoutineID(routineID) {
		return RoutineResult{}, InvalidRoutineError{RoutineID: routineID}
	}
	if !adapter.tokens.ValidateAndConsume(token, repository.Key, routineID, previewHash) {
		telemetry.ConfirmTokensRejected.Inc()
		return RoutineResult{}, ErrConfirmationRejected
	}

	fallbackPaths := []string{filepath.Join(adapter.outputDirectory(repository.Path), routineResultFileName)}
	payload, exitCode, runError := adapter.run(executionContext, repository.Path, adapter.configuration.ApplyTimeout, []string{routineSubcommandConstant, routineID, applyModeConstant}, fallbackPaths)
	if runError != nil {
		return RoutineResult{}, runError
	}
	decoded, decodeError := decodeWithExitCode(payload, exitCode)
	if decodeError != nil {
		return RoutineResult{}, decodeError
	}
	result := RoutineResult{Payload: decoded, ExitCode: exitCode}
	if exitCode != 0 {
		if object, isObject := decoded.(map[string]any); !isObject || object[okFieldConstant] == nil {
			return RoutineResult{}, RoutineResultError{ExitCode: exitCode, Details: adapter.details(string(payload), "")}
		}
	}
	adapter.logger.Info(extractedLogMessageConstant,
		zap.String(repoLogFieldConstant, repository.Key),
		zap.String(routineLogFieldConstant, routineID),
		zap.Int(exitCodeLogFieldConstant, exitCode),
	)
	return result, nil
}

// ValidRoutineID reports whether routineID is safe to pass to the tool.
func ValidRoutineID(routineID string) bool {
	return routineIDPattern.MatchString(routineID)
}

// CanonicalJSON re-encodes value with sorted keys and no insignificant whitespace.
func CanonicalJSON(value any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if encodeError := encoder.Encode(value); encodeError != nil {
		return nil, encodeError
	}
	return bytes.TrimRight(buffer.Bytes(), "\n"), nil
}

// PreviewHash is the hex sha256 of the canonical JSON encoding of preview.
func PreviewHash(preview any) (string, error) {
	canonical, canonicalError := CanonicalJSON(preview)
	if canonicalError != nil {
		return "", canonicalError
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}

func (adapter *Adapter) run(executionContext context.Context, repositoryPath string, timeout time.Duration, arguments []string, fallbackPaths []string) (json.RawMessage, int, error) {
	executionResult, executionError := adapter.executor.Execute(executionContext, execshell.ShellCommand{
		Name: execshell.CommandName(adapter.configuration.Binary),
		Details: execshell.CommandDetails{
			Arguments:        arguments,
			WorkingDirectory: repositoryPath,
			Timeout:          timeout,
		},
	})
	if executionError != nil {
		return nil, 0, fmt.Errorf(toolExecutionTemplate, strings.Join(arguments, " "), executionError)
	}

	chain := ExtractionChain{
		WholeDocumentStrategy{},
		BalancedScanStrategy{MaxStarts: DefaultMaxScanStarts},
		StdoutPathStrategy{},
	}
	if len(fallbackPaths) > 0 {
		chain = append(chain, FallbackFileStrategy{Paths: fallbackPaths})
	}
	payload, strategyName, found := chain.Extract(ExtractionInput{Stdout: executionResult.StandardOutput, RepositoryPath: repositoryPath})
	if found {
		adapter.logger.Debug(extractedLogMessageConstant, zap.String(strategyLogFieldConstant, strategyName), zap.Int(exitCodeLogFieldConstant, executionResult.ExitCode))
		return payload, executionResult.ExitCode, nil
	}

	details := adapter.details(executionResult.StandardOutput, executionResult.StandardError)
	if !executionResult.Succeeded() {
		return nil, executionResult.ExitCode, ToolFailedError{ExitCode: executionResult.ExitCode, Details: details}
	}
	return nil, executionResult.ExitCode, ExtractionError{Details: details}
}

// details builds redacted single-line snippets of both streams.
func (adapter *Adapter) details(standardOutput string, standardError string) string {
	stdoutSnippet := strings.ReplaceAll(truncateRunes(strings.TrimSpace(standardOutput), snippetLengthConstant), "\n", escapedNewlineConstant)
	stderrSnippet := truncateRunes(strings.ReplaceAll(strings.TrimSpace(standardError), "\n", escapedNewlineConstant), snippetLengthConstant)
	return adapter.redactor.Redact(fmt.Sprintf(detailsTemplateConstant, stdoutSnippet, stderrSnippet))
}

func (adapter *Adapter) outputDirectory(repositoryPath string) string {
	if filepath.IsAbs(adapter.configuration.OutputDirectory) {
		return adapter.configuration.OutputDirectory
	}
	return filepath.Join(repositoryPath, adapter.configuration.OutputDirectory)
}

func isMissingOutput(runError error) bool {
	var extractionError ExtractionError
	var toolError ToolFailedError
	return errors.As(runError, &extractionError) || errors.As(runError, &toolError)
}

func decodeAudit(payload json.RawMessage) (AuditGit, error) {
	var audit AuditGit
	if decodeError := json.Unmarshal(payload, &audit); decodeError != nil {
		return AuditGit{}, ValidationError{Reason: fmt.Sprintf(auditDecodeTemplate, decodeError)}
	}
	if validationError := audit.Validate(); validationError != nil {
		return AuditGit{}, validationError
	}
	return audit, nil
}

// decodeWithExitCode decodes payload preserving number literals and, for
// objects, records the tool exit code under _exit_code.
func decodeWithExitCode(payload json.RawMessage, exitCode int) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var decoded any
	if decodeError := decoder.Decode(&decoded); decodeError != nil {
		return nil, decodeError
	}
	if object, isObject := decoded.(map[string]any); isObject {
		object[exitCodeFieldConstant] = exitCode
	}
	return decoded, nil
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
