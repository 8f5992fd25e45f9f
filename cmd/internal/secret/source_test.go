package secret

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("REFERRALCTL_TEST_SECRET", "  from-env ")
	src := NewSource("hmac secret", "REFERRALCTL_TEST_SECRET", "")
	src.prompt = func(string) (string, error) { return "", errors.New("prompt called") }

	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "from-env", value)
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("REFERRALCTL_TEST_SECRET", " ")
	_, err := NewSource("hmac secret", "REFERRALCTL_TEST_SECRET", "").Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourceReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("file-secret\n"), 0o600))

	value, err := NewSource("hmac secret", "", path).Get()
	require.NoError(t, err)
	require.Equal(t, "file-secret", value)
}

func TestSourceFallsBackToPromptOnce(t *testing.T) {
	calls := 0
	src := NewSource("hmac secret", "", "")
	src.prompt = func(label string) (string, error) {
		calls++
		require.Equal(t, "hmac secret", label)
		return "typed", nil
	}
	for i := 0; i < 3; i++ {
		value, err := src.Get()
		require.NoError(t, err)
		require.Equal(t, "typed", value)
	}
	require.Equal(t, 1, calls)
}

func TestSourceRejectsBlankPrompt(t *testing.T) {
	src := NewSource("hmac secret", "", "")
	src.prompt = func(string) (string, error) { return "   ", nil }
	_, err := src.Get()
	require.ErrorContains(t, err, "cannot be empty")
}
