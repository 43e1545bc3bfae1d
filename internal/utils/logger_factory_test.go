package utils_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/acs/internal/utils"
)

const testLogMessageConstant = "logger_factory_test_message"

func TestLoggerFactoryCreateLogger(testInstance *testing.T) {
	testCases := []struct {
		name                string
		requestedLogLevel   utils.LogLevel
		requestedLogFormat  utils.LogFormat
		expectError         bool
		expectStructuredLog bool
		expectSuppressed    bool
	}{
		{name: "debug_structured", requestedLogLevel: utils.LogLevelDebug, requestedLogFormat: utils.LogFormatStructured, expectStructuredLog: true},
		{name: "info_console", requestedLogLevel: utils.LogLevelInfo, requestedLogFormat: utils.LogFormatConsole},
		{name: "error_suppresses_info", requestedLogLevel: utils.LogLevelError, requestedLogFormat: utils.LogFormatStructured, expectSuppressed: true},
		{name: "unsupported_level", requestedLogLevel: utils.LogLevel("verbose"), requestedLogFormat: utils.LogFormatStructured, expectError: true},
		{name: "unsupported_format", requestedLogLevel: utils.LogLevelInfo, requestedLogFormat: utils.LogFormat("xml"), expectError: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			logPath := filepath.Join(testInstance.TempDir(), "acs.log")
			logger, creationError := utils.NewLoggerFactory(logPath).CreateLogger(testCase.requestedLogLevel, testCase.requestedLogFormat)
			if testCase.expectError {
				require.Error(testInstance, creationError)
				require.Nil(testInstance, logger)
				return
			}
			require.NoError(testInstance, creationError)

			logger.Info(testLogMessageConstant)
			_ = logger.Sync()

			capturedOutput, readError := os.ReadFile(logPath)
			require.NoError(testInstance, readError)
			trimmedOutput := bytes.TrimSpace(capturedOutput)
			if testCase.expectSuppressed {
				require.Empty(testInstance, trimmedOutput)
				return
			}
			require.Contains(testInstance, string(trimmedOutput), testLogMessageConstant)
			require.Equal(testInstance, testCase.expectStructuredLog, json.Valid(trimmedOutput))
			if testCase.expectStructuredLog {
				var entry map[string]any
				require.NoError(testInstance, json.Unmarshal(trimmedOutput, &entry))
				require.Contains(testInstance, entry, "ts")
			}
		})
	}
}

func TestParseLogSettings(testInstance *testing.T) {
	level, levelError := utils.ParseLogLevel(" DEBUG ")
	require.NoError(testInstance, levelError)
	require.Equal(testInstance, utils.LogLevelDebug, level)

	level, levelError = utils.ParseLogLevel("")
	require.NoError(testInstance, levelError)
	require.Equal(testInstance, utils.LogLevelInfo, level)

	_, levelError = utils.ParseLogLevel("trace")
	require.Error(testInstance, levelError)

	format, formatError := utils.ParseLogFormat("Console")
	require.NoError(testInstance, formatError)
	require.Equal(testInstance, utils.LogFormatConsole, format)

	format, formatError = utils.ParseLogFormat("")
	require.NoError(testInstance, formatError)
	require.Equal(testInstance, utils.LogFormatStructured, format)

	_, formatError = utils.ParseLogFormat("xml")
	require.Error(testInstance, formatError)
}

func TestSupportedLogSettingsParse(testInstance *testing.T) {
	for _, level := range utils.SupportedLogLevels() {
		parsed, parseError := utils.ParseLogLevel(level)
		require.NoError(testInstance, parseError)
		require.Equal(testInstance, utils.LogLevel(level), parsed)
	}
	for _, format := range utils.SupportedLogFormats() {
		parsed, parseError := utils.ParseLogFormat(format)
		require.NoError(testInstance, parseError)
		require.Equal(testInstance, utils.LogFormat(format), parsed)
	}
}
