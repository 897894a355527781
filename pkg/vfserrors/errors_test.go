package vfserrors

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates error with defaults", func(t *testing.T) {
		err := New(NOENT, "no such file or directory")
		if err.Code != NOENT {
			t.Errorf("Code = %v, want %v", err.Code, NOENT)
		}
		if err.Category != CategoryNotFound {
			t.Errorf("Category = %v, want %v", err.Category, CategoryNotFound)
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("DELAY is retryable by default", func(t *testing.T) {
		if !New(DELAY, "backend busy").Retryable {
			t.Error("DELAY should be retryable by default")
		}
		if New(NOENT, "x").Retryable {
			t.Error("NOENT should not be retryable by default")
		}
	})
}

func TestCategoryMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want Category
	}{
		{STALE, CategoryStale},
		{BADHANDLE, CategoryStale},
		{ROFS, CategoryReadOnly},
		{NOTSUPP, CategoryUnsupported},
		{ISDIR, CategoryInvalid},
	}

	for _, tc := range cases {
		if got := GetCategory(tc.code); got != tc.want {
			t.Errorf("GetCategory(%v) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsMatchesOnCode(t *testing.T) {
	t.Parallel()

	a := New(STALE, "first")
	b := New(STALE, "second")
	c := New(NOENT, "third")

	if !errors.Is(a, b) {
		t.Error("two STALE errors should match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("STALE and NOENT should not match")
	}
}

func TestWithHelpers(t *testing.T) {
	t.Parallel()

	err := New(IO, "read failed").
		WithComponent("opencache").
		WithOperation("acquire").
		WithCause(errors.New("disk error")).
		WithContext("fh_hash", "abc123")

	if err.Component != "opencache" || err.Operation != "acquire" {
		t.Errorf("unexpected component/operation: %+v", err)
	}
	if errors.Unwrap(err).Error() != "disk error" {
		t.Errorf("Unwrap() = %v", errors.Unwrap(err))
	}
	if err.Context["fh_hash"] != "abc123" {
		t.Errorf("Context missing fh_hash: %+v", err.Context)
	}
}

func TestFromCode(t *testing.T) {
	t.Parallel()

	if FromCode(OK) != nil {
		t.Error("FromCode(OK) should be nil")
	}
	if FromCode(NOENT) == nil {
		t.Error("FromCode(NOENT) should be non-nil")
	}
}
