// Package errors provides common domain error types for the evidence pipeline.
//
// This package defines sentinel errors for the failure kinds that drive
// recovery policy: configuration problems are fatal at startup, transport
// problems are retried with backoff, integrity problems fail a single document
// but never a batch. Using typed errors enables consistent error handling with
// errors.Is() checks at each failure boundary.
package errors

import "errors"

// Domain errors - sentinel errors for the pipeline failure taxonomy.
var (
	// ErrConfig indicates an invalid or incomplete configuration
	// (missing field, unknown connector type). Fatal at startup.
	ErrConfig = errors.New("configuration error")

	// ErrAuth indicates bad credentials or an expired token.
	ErrAuth = errors.New("authentication error")

	// ErrTransport indicates a transient network failure (5xx, reset, timeout).
	ErrTransport = errors.New("transport error")

	// ErrRateLimit indicates the remote service returned 429.
	ErrRateLimit = errors.New("rate limited")

	// ErrIntegrity indicates a checksum mismatch or truncated payload.
	ErrIntegrity = errors.New("integrity error")

	// ErrStorage indicates an object-store write or provisioning failure.
	ErrStorage = errors.New("storage error")

	// ErrParse indicates a malformed source record.
	ErrParse = errors.New("parse error")

	// ErrLLMParse indicates an LLM response that did not match the
	// expected grammar. Callers fall back to defaults.
	ErrLLMParse = errors.New("llm response parse error")

	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")
)

// IsConfig reports whether any error in err's chain is ErrConfig.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

// IsAuth reports whether any error in err's chain is ErrAuth.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsTransport reports whether any error in err's chain is ErrTransport.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsRateLimit reports whether any error in err's chain is ErrRateLimit.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimit)
}

// IsIntegrity reports whether any error in err's chain is ErrIntegrity.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// IsStorage reports whether any error in err's chain is ErrStorage.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsParse reports whether any error in err's chain is ErrParse.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsLLMParse reports whether any error in err's chain is ErrLLMParse.
func IsLLMParse(err error) bool {
	return errors.Is(err, ErrLLMParse)
}

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the error represents a transient condition
// worth retrying with backoff. Auth errors are excluded: the caller is
// expected to refresh credentials exactly once instead of blind retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrStorage)
}
