package workflow_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/acs/internal/workflow"
)

func TestWholeDocumentStrategy(testInstance *testing.T) {
	payload, found := workflow.WholeDocumentStrategy{}.Extract(workflow.ExtractionInput{Stdout: "  {\"ok\": true}\n"})
	require.True(testInstance, found)
	require.JSONEq(testInstance, `{"ok": true}`, string(payload))

	_, found = workflow.WholeDocumentStrategy{}.Extract(workflow.ExtractionInput{Stdout: "null"})
	require.False(testInstance, found)
}

func TestBalancedScanStrategy(testInstance *testing.T) {
	testCases := []struct {
		name         string
		stdout       string
		maxStarts    int
		expectedJSON string
		expectFound  bool
	}{
		{
			name:         "object_in_noise",
			stdout:       "INFO starting\n{\"repo\": \"metarepo\", \"nested\": {\"a\": 1}}\nINFO done",
			expectedJSON: `{"repo": "metarepo", "nested": {"a": 1}}`,
			expectFound:  true,
		},
		{
			name:         "braces_inside_strings",
			stdout:       `log {"message": "curly } inside \" quoted {", "n": 2} trailing`,
			expectedJSON: `{"message": "curly } inside \" quoted {", "n": 2}`,
			expectFound:  true,
		},
		{
			name:         "skips_invalid_candidate",
			stdout:       "{not json} then {\"ok\": false}",
			expectedJSON: `{"ok": false}`,
			expectFound:  true,
		},
		{
			name:         "array_when_no_object",
			stdout:       "results: [1, 2, 3] end",
			expectedJSON: `[1, 2, 3]`,
			expectFound:  true,
		},
		{
			name:        "unbalanced",
			stdout:      "{\"open\": [1, 2",
			expectFound: false,
		},
		{
			name:        "start_cap",
			stdout:      strings.Repeat("{x} ", 3) + `{"late": true}`,
			maxStarts:   3,
			expectFound: false,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			payload, found := workflow.BalancedScanStrategy{MaxStarts: testCase.maxStarts}.Extract(workflow.ExtractionInput{Stdout: testCase.stdout})
			require.Equal(testInstance, testCase.expectFound, found)
			if testCase.expectFound {
				require.JSONEq(testInstance, testCase.expectedJSON, string(payload))
			}
		})
	}
}

func TestStdoutPathStrategy(testInstance *testing.T) {
	repositoryPath := testInstance.TempDir()
	outsidePath := testInstance.TempDir()
	require.NoError(testInstance, os.MkdirAll(filepath.Join(repositoryPath, ".wgx", "out"), 0o755))
	require.NoError(testInstance, os.WriteFile(filepath.Join(repositoryPath, ".wgx", "out", "report.json"), []byte(`{"inside": true}`), 0o600))
	require.NoError(testInstance, os.WriteFile(filepath.Join(outsidePath, "secret.json"), []byte(`{"outside": true}`), 0o600))

	testCases := []struct {
		name         string
		stdout       string
		expectedJSON string
		expectFound  bool
	}{
		{name: "whole_stdout_relative", stdout: ".wgx/out/report.json\n", expectedJSON: `{"inside": true}`, expectFound: true},
		{name: "token_in_sentence", stdout: "wrote .wgx/out/report.json successfully", expectedJSON: `{"inside": true}`, expectFound: true},
		{name: "absolute_inside", stdout: filepath.Join(repositoryPath, ".wgx", "out", "report.json"), expectedJSON: `{"inside": true}`, expectFound: true},
		{name: "traversal_rejected", stdout: "../" + filepath.Base(outsidePath) + "/secret.json"},
		{name: "absolute_outside_rejected", stdout: filepath.Join(outsidePath, "secret.json")},
		{name: "missing_file", stdout: "missing.json"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			payload, found := workflow.StdoutPathStrategy{}.Extract(workflow.ExtractionInput{Stdout: testCase.stdout, RepositoryPath: repositoryPath})
			require.Equal(testInstance, testCase.expectFound, found)
			if testCase.expectFound {
				require.JSONEq(testInstance, testCase.expectedJSON, string(payload))
			}
		})
	}
}

func TestExtractionChainOrder(testInstance *testing.T) {
	directory := testInstance.TempDir()
	fallbackPath := filepath.Join(directory, "fallback.json")
	require.NoError(testInstance, os.WriteFile(fallbackPath, []byte(`{"source": "file"}`), 0o600))
	invalidPath := filepath.Join(directory, "invalid.json")
	require.NoError(testInstance, os.WriteFile(invalidPath, []byte(`{broken`), 0o600))

	chain := workflow.ExtractionChain{
		workflow.WholeDocumentStrategy{},
		workflow.BalancedScanStrategy{},
		workflow.FallbackFileStrategy{Paths: []string{filepath.Join(directory, "absent.json"), invalidPath, fallbackPath}},
	}

	payload, strategyName, found := chain.Extract(workflow.ExtractionInput{Stdout: `{"source": "stdout"}`})
	require.True(testInstance, found)
	require.Equal(testInstance, "stdout", strategyName)
	require.JSONEq(testInstance, `{"source": "stdout"}`, string(payload))

	payload, strategyName, found = chain.Extract(workflow.ExtractionInput{Stdout: "no json at all"})
	require.True(testInstance, found)
	require.Equal(testInstance, "fallback_file", strategyName)
	require.JSONEq(testInstance, `{"source": "file"}`, string(payload))

	_, _, found = workflow.ExtractionChain{workflow.WholeDocumentStrategy{}}.Extract(workflow.ExtractionInput{Stdout: "nothing"})
	require.False(testInstance, found)
}

func TestCanonicalJSONSortsKeysCompactly(testInstance *testing.T) {
	var decoded any
	require.NoError(testInstance, json.Unmarshal([]byte(`{"b": 1, "a": {"d": "<x>", "c": [2, 1]}}`), &decoded))

	canonical, canonicalError := workflow.CanonicalJSON(decoded)
	require.NoError(testInstance, canonicalError)
	require.Equal(testInstance, `{"a":{"c":[2,1],"d":"<x>"},"b":1}`, string(canonical))

	firstHash, hashError := workflow.PreviewHash(decoded)
	require.NoError(testInstance, hashError)
	require.Len(testInstance, firstHash, 64)

	var reordered any
	require.NoError(testInstance, json.Unmarshal([]byte(`{"a": {"c": [2, 1], "d": "<x>"}, "b": 1}`), &reordered))
	secondHash, hashError := workflow.PreviewHash(reordered)
	require.NoError(testInstance, hashError)
	require.Equal(testInstance, firstHash, secondHash)
}
