// Package oopstest holds test assertions for oops errors. Import it from
// _test.go files only.
package oopstest

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/require"
)

func asOops(t testing.TB, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "want an oops error, got %T: %v", err, err)
	return oopsErr
}

// RequireCode fails the test unless err carries code.
func RequireCode(t testing.TB, err error, code string) {
	t.Helper()
	require.Equalf(t, code, asOops(t, err).Code(), "error: %v", err)
}

// RequireContext fails the test unless err carries key=value in its context.
func RequireContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	ctx := asOops(t, err).Context()
	require.Containsf(t, ctx, key, "context: %v", ctx)
	require.Equal(t, value, ctx[key])
}
