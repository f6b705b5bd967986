package reliability

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsModelLoadingStatus reports whether a status code signals a hosted model
// that is still warming up, as opposed to a hard failure. Inference APIs
// use 503 for this transient state.
func IsModelLoadingStatus(code int) bool {
	return code == 503
}
