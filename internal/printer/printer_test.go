package printer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestAlert(t *testing.T) {
	t.Run("known levels are colored", func(t *testing.T) {
		for _, level := range []string{"normal", "warning", "critical", "emergency"} {
			require.Contains(t, Alert(level), level)
		}
	})

	t.Run("unknown levels pass through", func(t *testing.T) {
		require.Equal(t, "weird", Alert("weird"))
	})
}

func TestStatus(t *testing.T) {
	for _, status := range []string{"draft", "active", "paused", "rolled_back", "completed"} {
		require.Contains(t, Status(status), status)
	}
}

// Note: The Error function prints formatted output to stderr with colors.
// The error object returned only contains the title for Cobra's error handling.
// This is intentional to avoid duplicate output while providing rich formatted errors.
