// Package require is a minimal test-assertion helper, kept deliberately
// small instead of reaching for a third-party assertion library — the
// teacher (wazero) rolls its own identically named and shaped package for
// the same reason: one more avoided dependency in an otherwise
// dependency-light test suite.
package require

import (
	"reflect"
	"strings"
	"testing"
)

func Equal(t *testing.T, expected, actual interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("expected %#v, got %#v%s", expected, actual, formatExtra(msgAndArgs))
	}
}

func NoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v%s", err, formatExtra(msgAndArgs))
	}
}

func Error(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error, got nil%s", formatExtra(msgAndArgs))
	}
}

func True(t *testing.T, v bool, msgAndArgs ...interface{}) {
	t.Helper()
	if !v {
		t.Fatalf("expected true%s", formatExtra(msgAndArgs))
	}
}

func False(t *testing.T, v bool, msgAndArgs ...interface{}) {
	t.Helper()
	if v {
		t.Fatalf("expected false%s", formatExtra(msgAndArgs))
	}
}

func Nil(t *testing.T, v interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if v != nil && !reflect.ValueOf(v).IsZero() {
		t.Fatalf("expected nil, got %#v%s", v, formatExtra(msgAndArgs))
	}
}

func Contains(t *testing.T, s, substr string, msgAndArgs ...interface{}) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("expected %q to contain %q%s", s, substr, formatExtra(msgAndArgs))
	}
}

func formatExtra(msgAndArgs []interface{}) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	if s, ok := msgAndArgs[0].(string); ok {
		return ": " + s
	}
	return ""
}
