package actionlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/temirov/acs/internal/actions"
)

const (
	dateLayoutConstant              = "2006-01-02"
	fileExtensionConstant           = ".jsonl"
	directoryPermissionsConstant    = 0o700
	filePermissionsConstant         = 0o600
	retryIntervalConstant           = 50 * time.Millisecond
	additionalAttemptsConstant      = 1
	lineTerminatorConstant          = '\n'
	directoryErrorTemplateConstant  = "create action log directory %s: %w"
	loggerNotConfiguredMessage      = "action log logger not configured"
	directoryNotConfiguredMessage   = "action log directory not configured"
	redactorNotConfiguredMessage    = "action log redactor not configured"
	pathLogFieldConstant            = "path"
	actionLogFieldConstant          = "action"
	writeDroppedMessageConstant     = "action log entry dropped"
	serializeDroppedMessageConstant = "action log entry could not be serialized"
	closeFailedMessageConstant      = "action log file close failed"
)

var (
	// ErrLoggerNotConfigured indicates a missing zap logger.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessage)
	// ErrDirectoryNotConfigured indicates a missing log directory.
	ErrDirectoryNotConfigured = errors.New(directoryNotConfiguredMessage)
	// ErrRedactorNotConfigured indicates a missing redactor.
	ErrRedactorNotConfigured = errors.New(redactorNotConfiguredMessage)
)

// Redactor scrubs secrets from text.
type Redactor interface {
	Redact(text string) string
}

// Option customizes a Writer.
type Option func(*Writer)

// WithClock overrides the time source that selects the daily file.
func WithClock(clock func() time.Time) Option {
	return func(writer *Writer) {
		if clock != nil {
			writer.clock = clock
		}
	}
}

// WithBackOff overrides the retry policy for failed writes.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(writer *Writer) {
		if factory != nil {
			writer.newBackOff = factory
		}
	}
}

// Writer appends redacted action results to one JSONL file per UTC day.
// A nil Writer discards everything.
type Writer struct {
	directory  string
	redactor   Redactor
	logger     *zap.Logger
	clock      func() time.Time
	newBackOff func() backoff.BackOff

	mutex       sync.Mutex
	currentDate string
	file        *os.File
}

// NewWriter creates the log directory and returns a Writer.
func NewWriter(logger *zap.Logger, directory string, redactor Redactor, options ...Option) (*Writer, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if len(directory) == 0 {
		return nil, ErrDirectoryNotConfigured
	}
	if redactor == nil {
		return nil, ErrRedactorNotConfigured
	}
	if mkdirError := os.MkdirAll(directory, directoryPermissionsConstant); mkdirError != nil {
		return nil, fmt.Errorf(directoryErrorTemplateConstant, directory, mkdirError)
	}

	writer := &Writer{
		directory: directory,
		redactor:  redactor,
		logger:    logger,
		clock:     time.Now,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(retryIntervalConstant), additionalAttemptsConstant)
		},
	}
	for _, option := range options {
		option(writer)
	}
	return writer, nil
}

// Log appends result. Failures are logged and otherwise ignored.
func (writer *Writer) Log(result actions.Result) {
	if writer == nil {
		return
	}
	redacted := result.MapStrings(writer.redactor.Redact)
	encoded, encodingError := json.Marshal(redacted)
	if encodingError != nil {
		writer.logger.Warn(serializeDroppedMessageConstant, zap.String(actionLogFieldConstant, result.Action), zap.Error(encodingError))
		return
	}
	encoded = append(encoded, lineTerminatorConstant)

	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	retryError := backoff.Retry(func() error {
		return writer.appendLocked(encoded)
	}, writer.newBackOff())
	if retryError != nil {
		writer.logger.Warn(writeDroppedMessageConstant, zap.String(actionLogFieldConstant, result.Action), zap.String(pathLogFieldConstant, writer.Path()), zap.Error(retryError))
	}
}

// Path returns the file the next entry would be written to.
func (writer *Writer) Path() string {
	return filepath.Join(writer.directory, writer.clock().UTC().Format(dateLayoutConstant)+fileExtensionConstant)
}

// Close releases the open file.
func (writer *Writer) Close() error {
	if writer == nil {
		return nil
	}
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	return writer.closeLocked()
}

func (writer *Writer) appendLocked(encoded []byte) error {
	date := writer.clock().UTC().Format(dateLayoutConstant)
	if writer.file == nil || date != writer.currentDate {
		if closeError := writer.closeLocked(); closeError != nil {
			writer.logger.Debug(closeFailedMessageConstant, zap.Error(closeError))
		}
		filePath := filepath.Join(writer.directory, date+fileExtensionConstant)
		file, openError := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissionsConstant)
		if openError != nil {
			return openError
		}
		writer.file = file
		writer.currentDate = date
	}
	if _, writeError := writer.file.Write(encoded); writeError != nil {
		_ = writer.closeLocked()
		return writeError
	}
	return nil
}

func (writer *Writer) closeLocked() error {
	if writer.file == nil {
		return nil
	}
	closeError := writer.file.Close()
	writer.file = nil
	writer.currentDate = ""
	return closeError
}
