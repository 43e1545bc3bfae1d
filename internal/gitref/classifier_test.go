package gitref_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/gitref"
)

func TestClassify(testInstance *testing.T) {
	testCases := []struct {
		name     string
		stderr   string
		expected gitref.Classification
	}{
		{
			name:   "ref_lock",
			stderr: "fatal: cannot lock ref 'refs/remotes/origin/HEAD': unable to resolve reference",
			expected: gitref.Classification{
				ErrorKind:   actions.ErrorKindRefLock,
				Hint:        "Unable to lock local ref; remote tracking refs may be inconsistent.",
				AffectedRef: "refs/remotes/origin/HEAD",
			},
		},
		{
			name:   "resolve_ref_failed",
			stderr: "error: unable to resolve reference 'refs/remotes/origin/main': reference broken",
			expected: gitref.Classification{
				ErrorKind:   actions.ErrorKindResolveRefFailed,
				Hint:        "Unable to resolve local ref; remote tracking refs may be inconsistent.",
				AffectedRef: "refs/remotes/origin/main",
			},
		},
		{
			name:   "dangling_ref",
			stderr: "refs/remotes/origin/HEAD has become dangling",
			expected: gitref.Classification{
				ErrorKind:   actions.ErrorKindDanglingRef,
				Hint:        "Local ref has become dangling; remote tracking refs may be inconsistent.",
				AffectedRef: "refs/remotes/origin/HEAD",
			},
		},
		{
			name:   "dangling_symref_warning",
			stderr: "warning: ignoring dangling symref refs/remotes/origin/HEAD",
			expected: gitref.Classification{
				ErrorKind:   actions.ErrorKindDanglingRef,
				Hint:        "Local ref has become dangling; remote tracking refs may be inconsistent.",
				AffectedRef: "refs/remotes/origin/HEAD",
			},
		},
		{
			name:   "packed_refs_corrupt",
			stderr: "fatal: packed refs are corrupt",
			expected: gitref.Classification{
				ErrorKind: actions.ErrorKindRefRepairFailed,
				Hint:      "Packed refs appear corrupt; repacking refs may be required.",
			},
		},
		{
			name:   "packed_refs_bad_line",
			stderr: "fatal: unterminated line in .git/packed-refs",
			expected: gitref.Classification{
				ErrorKind: actions.ErrorKindRefRepairFailed,
				Hint:      "Packed refs appear corrupt; repacking refs may be required.",
			},
		},
		{
			name:     "unrelated",
			stderr:   "fatal: could not read from remote repository",
			expected: gitref.Classification{ErrorKind: actions.ErrorKindGitFailed},
		},
		{
			name:     "empty",
			stderr:   "",
			expected: gitref.Classification{ErrorKind: actions.ErrorKindGitFailed},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			classification := gitref.Classify(testCase.stderr)
			require.Equal(testInstance, testCase.expected, classification)
			require.Equal(testInstance, testCase.expected.ErrorKind != actions.ErrorKindGitFailed, classification.Recognized())
		})
	}
}
