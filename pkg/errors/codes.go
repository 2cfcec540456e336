package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrVersionConflict: {
		Code:            ErrVersionConflict,
		Retryable:       true,
		Description:     "Registry changed since it was loaded",
		SuggestedAction: "Reload the registry and re-apply the updates",
	},
	ErrStoreUnavailable: {
		Code:            ErrStoreUnavailable,
		Retryable:       true,
		Description:     "Registry store is unreachable",
		SuggestedAction: "Check store connectivity: mediaref config show, then verify the redis/postgres address",
	},
	ErrStoreTimeout: {
		Code:            ErrStoreTimeout,
		Retryable:       true,
		Description:     "Registry store operation exceeded its deadline",
		SuggestedAction: "Retry, or raise the store timeout",
	},
	ErrRecordNotFound: {
		Code:            ErrRecordNotFound,
		Retryable:       false,
		Description:     "No registry exists for the conversation",
		SuggestedAction: "Register media for the conversation before resolving against it",
	},
	ErrCorruptRecord: {
		Code:            ErrCorruptRecord,
		Retryable:       false,
		Description:     "Stored registry could not be decoded",
		SuggestedAction: "Inspect the stored record: mediaref registry show --conversation-id <id>",
	},
	ErrStoreFailure: {
		Code:            ErrStoreFailure,
		Retryable:       false,
		Description:     "Unclassified store error",
		SuggestedAction: "Check logs for the underlying driver error",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
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
