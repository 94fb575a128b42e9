package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrTransport, true},
		{"wrapped once", fmt.Errorf("fetch page: %w", ErrTransport), true},
		{"wrapped twice", fmt.Errorf("connector: %w", fmt.Errorf("http: %w", ErrTransport)), true},
		{"different error", ErrRateLimit, false},
		{"nil error", nil, false},
		{"unrelated error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransport(tt.err); got != tt.want {
				t.Errorf("IsTransport() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIntegrity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct match", ErrIntegrity, true},
		{"wrapped", fmt.Errorf("attachment sha256: %w", ErrIntegrity), true},
		{"different error", ErrParse, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIntegrity(tt.err); got != tt.want {
				t.Errorf("IsIntegrity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport is retryable", fmt.Errorf("dial: %w", ErrTransport), true},
		{"rate limit is retryable", ErrRateLimit, true},
		{"storage is retryable", fmt.Errorf("put object: %w", ErrStorage), true},
		{"auth is not retryable", ErrAuth, false},
		{"config is not retryable", ErrConfig, false},
		{"parse is not retryable", ErrParse, false},
		{"nil is not retryable", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"config", fmt.Errorf("load: %w", ErrConfig), CodeConfig},
		{"auth", ErrAuth, CodeAuth},
		{"rate limit before transport", fmt.Errorf("%w: %w", ErrRateLimit, ErrTransport), CodeRateLimit},
		{"transport", ErrTransport, CodeTransport},
		{"integrity", ErrIntegrity, CodeIntegrity},
		{"storage", fmt.Errorf("bucket: %w", ErrStorage), CodeStorage},
		{"parse", ErrParse, CodeParse},
		{"llm parse", fmt.Errorf("relevance: %w", ErrLLMParse), CodeLLMParse},
		{"not found", ErrNotFound, CodeNotFound},
		{"unknown", errors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeFor(tt.err); got != tt.want {
				t.Errorf("CodeFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeForNil(t *testing.T) {
	if got := CodeFor(nil); got != "" {
		t.Errorf("CodeFor(nil) = %q, want empty", got)
	}
}

func TestRegistryCoversAllCodes(t *testing.T) {
	codes := []ErrorCode{
		CodeConfig, CodeAuth, CodeTransport, CodeRateLimit, CodeIntegrity,
		CodeStorage, CodeParse, CodeLLMParse, CodeNotFound, CodeUnknown,
	}
	for _, c := range codes {
		if _, ok := ErrorCodeRegistry[c]; !ok {
			t.Errorf("registry missing code %s", c)
		}
		if GetDescription(c) == "Unknown error" && c != CodeUnknown {
			t.Errorf("no description for code %s", c)
		}
	}
}

func TestRetryableCodes(t *testing.T) {
	retryable := map[ErrorCode]bool{
		CodeTransport: true,
		CodeRateLimit: true,
		CodeStorage:   true,
		CodeConfig:    false,
		CodeAuth:      false,
		CodeIntegrity: false,
		CodeParse:     false,
		CodeLLMParse:  false,
		CodeNotFound:  false,
		CodeUnknown:   false,
	}
	for code, want := range retryable {
		if got := IsRetryableCode(code); got != want {
			t.Errorf("IsRetryableCode(%s) = %v, want %v", code, got, want)
		}
	}
	if IsRetryableCode("BOGUS") {
		t.Error("unknown codes must not be retryable")
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	// Ensure all sentinel errors are distinct
	allErrors := []error{
		ErrConfig,
		ErrAuth,
		ErrTransport,
		ErrRateLimit,
		ErrIntegrity,
		ErrStorage,
		ErrParse,
		ErrLLMParse,
		ErrNotFound,
	}

	for i, e1 := range allErrors {
		for j, e2 := range allErrors {
			if i != j && errors.Is(e1, e2) {
				t.Errorf("errors should be distinct: %v and %v", e1, e2)
			}
		}
	}
}
