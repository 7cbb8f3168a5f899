package services_test

import (
	"errors"
	"strings"
	"testing"

	"storyloom/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternal, "rendering", "submit", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"rendering", "submit", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker for nil marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail, got %q", err.Error())
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{services.Wrap(services.ErrValidation, "scripting", "start", "bad config", nil), "VALIDATION"},
		{services.Wrap(services.ErrConflict, "", "start", "active run exists", nil), "CONFLICT"},
		{services.Wrap(services.ErrNotFound, "", "status", "no such run", nil), "NOT_FOUND"},
		{services.Wrap(services.ErrPhaseMismatch, "ready", "retry", "not failed", nil), "PHASE_MISMATCH"},
		{services.Wrap(services.ErrExternal, "narrating", "poll", "http 502", nil), "EXTERNAL"},
		{errors.New("disk on fire"), "INTERNAL"},
	}
	for _, tc := range cases {
		if got := services.ErrorCode(tc.err); got != tc.code {
			t.Fatalf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.code)
		}
	}
}
