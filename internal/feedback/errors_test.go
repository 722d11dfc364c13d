package feedback

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func Test_Errors_ClassificationThroughWrapping(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	cases := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"provider", &ProviderError{Provider: "ollama", Op: "embed", Err: cause}, IsProviderError},
		{"store", &StoreError{Store: "redis", Op: "exec", Err: cause}, IsStoreError},
		{"not found", &NotFoundError{Kind: "vector", ID: "a"}, IsNotFound},
		{"validation", &ValidationError{Field: "ids", Reason: "empty"}, IsValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			wrapped := fmt.Errorf("outer: %w", tc.err)
			if !tc.is(wrapped) {
				t.Errorf("%s: classification lost through wrapping: %v", tc.name, wrapped)
			}
		})
	}

	if IsProviderError(&StoreError{Store: "x", Op: "y", Err: cause}) {
		t.Error("store error must not classify as provider error")
	}
	if !errors.Is(&ProviderError{Provider: "p", Op: "o", Err: cause}, cause) {
		t.Error("provider error must unwrap to its cause")
	}
}

func Test_ValidateThreshold(t *testing.T) {
	t.Parallel()

	cases := []struct {
		threshold float64
		ok        bool
	}{
		{0.82, true},
		{0.01, true},
		{0.99, true},
		{0, false},
		{1, false},
		{-0.5, false},
		{1.2, false},
		{math.NaN(), false},
	}
	for _, tc := range cases {
		err := ValidateThreshold(tc.threshold)
		if tc.ok && err != nil {
			t.Errorf("ValidateThreshold(%v) unexpected error: %v", tc.threshold, err)
		}
		if !tc.ok && !IsValidation(err) {
			t.Errorf("ValidateThreshold(%v) = %v, want ValidationError", tc.threshold, err)
		}
	}
}

func Test_ParseStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"new", "fixing", "resolved", "failed"} {
		if _, err := ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseStatus("done"); !IsValidation(err) {
		t.Errorf("ParseStatus(done) = %v, want ValidationError", err)
	}
	if got := ParseSource("bug_report"); got != SourceBugReport {
		t.Errorf("ParseSource(bug_report) = %q", got)
	}
	if got := ParseSource("email"); got != SourceOther {
		t.Errorf("ParseSource(email) = %q, want other", got)
	}
}
