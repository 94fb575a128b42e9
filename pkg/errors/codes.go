package errors

// ErrorCode is a stable string identifier recorded on per-document failures
// so that batch results and audit trails can be filtered by failure kind.
type ErrorCode string

// Error codes recorded in ingestion and enrichment results.
const (
	CodeConfig    ErrorCode = "CONFIG"
	CodeAuth      ErrorCode = "AUTH"
	CodeTransport ErrorCode = "TRANSPORT"
	CodeRateLimit ErrorCode = "RATE_LIMIT"
	CodeIntegrity ErrorCode = "INTEGRITY"
	CodeStorage   ErrorCode = "STORAGE"
	CodeParse     ErrorCode = "PARSE"
	CodeLLMParse  ErrorCode = "LLM_PARSE"
	CodeNotFound  ErrorCode = "NOT_FOUND"
	CodeUnknown   ErrorCode = "UNKNOWN"
)

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeConfig: {
		Code:            CodeConfig,
		Retryable:       false,
		Description:     "Invalid or incomplete configuration",
		SuggestedAction: "Fix the configuration file and rerun: evidify ingest run --config <path>",
	},
	CodeAuth: {
		Code:            CodeAuth,
		Retryable:       false,
		Description:     "Authentication failed or token expired",
		SuggestedAction: "Verify credentials in the connector auth_config environment variables",
	},
	CodeTransport: {
		Code:            CodeTransport,
		Retryable:       true,
		Description:     "Transient network failure talking to a source API",
		SuggestedAction: "Retried automatically with backoff; check connectivity if it persists",
	},
	CodeRateLimit: {
		Code:            CodeRateLimit,
		Retryable:       true,
		Description:     "Source API rate limit exceeded",
		SuggestedAction: "Retried after the advertised delay; reduce batch size if it persists",
	},
	CodeIntegrity: {
		Code:            CodeIntegrity,
		Retryable:       false,
		Description:     "Checksum mismatch or truncated payload",
		SuggestedAction: "Re-collect the document from its source",
	},
	CodeStorage: {
		Code:            CodeStorage,
		Retryable:       true,
		Description:     "Object store write or provisioning failure",
		SuggestedAction: "Check object store availability and permissions",
	},
	CodeParse: {
		Code:            CodeParse,
		Retryable:       false,
		Description:     "Malformed source record",
		SuggestedAction: "Inspect the source file; malformed records are skipped, not fatal",
	},
	CodeLLMParse: {
		Code:            CodeLLMParse,
		Retryable:       false,
		Description:     "LLM response did not match the expected format",
		SuggestedAction: "Defaults were applied; re-run enrichment for this document if needed",
	},
	CodeNotFound: {
		Code:            CodeNotFound,
		Retryable:       false,
		Description:     "Requested resource does not exist",
		SuggestedAction: "Verify the identifier: evidify search <query>",
	},
	CodeUnknown: {
		Code:            CodeUnknown,
		Retryable:       false,
		Description:     "Unclassified error",
		SuggestedAction: "Check logs for more details",
	},
}

// CodeFor classifies an error chain into an ErrorCode.
func CodeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case IsConfig(err):
		return CodeConfig
	case IsAuth(err):
		return CodeAuth
	case IsRateLimit(err):
		return CodeRateLimit
	case IsTransport(err):
		return CodeTransport
	case IsIntegrity(err):
		return CodeIntegrity
	case IsStorage(err):
		return CodeStorage
	case IsParse(err):
		return CodeParse
	case IsLLMParse(err):
		return CodeLLMParse
	case IsNotFound(err):
		return CodeNotFound
	default:
		return CodeUnknown
	}
}

// IsRetryableCode returns true if the given error code represents a transient,
// retryable error.
func IsRetryableCode(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check logs for more details"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
