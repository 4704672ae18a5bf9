package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertEventually is a convenience wrapper around assert.Eventually
// with standardized timeout (10s) and polling interval (10ms).
func AssertEventually(t *testing.T, condition func() bool, msgAndArgs ...interface{}) bool {
	t.Helper()
	return assert.Eventually(t, condition, 10*time.Second, 10*time.Millisecond, msgAndArgs...)
}

// RequireEventually is a convenience wrapper around require.Eventually
// with standardized timeout (10s) and polling interval (10ms).
func RequireEventually(t *testing.T, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, condition, 10*time.Second, 10*time.Millisecond, msgAndArgs...)
}

// RequireNever asserts that condition stays false for the given duration,
// polling every 10ms. Used to prove transitions that must not happen
// (for example status revival after exit).
func RequireNever(t *testing.T, condition func() bool, d time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	require.Never(t, condition, d, 10*time.Millisecond, msgAndArgs...)
}
